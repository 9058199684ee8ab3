package command

import (
	"github.com/roach88/cmdsync/internal/canonical"
	"github.com/roach88/cmdsync/internal/model"
)

// semanticFields are the fields that make two commands different. Audit
// metadata is ignored.
type semanticFields struct {
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	TenantCode string         `json:"tenantCode"`
	Type       string         `json:"type"`
	IsDeleted  bool           `json:"isDeleted"`
	Seq        *int64         `json:"seq"`
	TTL        *int64         `json:"ttl"`
	Attributes map[string]any `json:"attributes"`
}

// IsNotCommandDirty reports whether in would store the same semantic
// content as existing. Both sides are compared in canonical JSON form, so
// number representation, key order and Unicode normalization do not
// matter.
func IsNotCommandDirty(existing *model.Command, in model.CommandInput) (bool, error) {
	return canonical.Equal(
		semanticFields{
			ID:         existing.ID,
			Code:       existing.Code,
			Name:       existing.Name,
			TenantCode: existing.TenantCode,
			Type:       existing.Type,
			IsDeleted:  existing.IsDeleted,
			Seq:        existing.Seq,
			TTL:        existing.TTL,
			Attributes: existing.Attributes,
		},
		semanticFields{
			ID:         in.ID,
			Code:       in.Code,
			Name:       in.Name,
			TenantCode: in.TenantCode,
			Type:       in.Type,
			IsDeleted:  in.IsDeleted,
			Seq:        in.Seq,
			TTL:        in.TTL,
			Attributes: in.Attributes,
		},
	)
}
