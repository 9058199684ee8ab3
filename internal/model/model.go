// Package model defines the records stored in the command, data and
// history tables.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

// Command is one immutable version of a write intent. SK carries the
// version suffix ("{sk}@{version}").
type Command struct {
	PK         string         `json:"pk"`
	SK         string         `json:"sk"`
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Version    int            `json:"version"`
	TenantCode string         `json:"tenantCode"`
	Type       string         `json:"type"`
	IsDeleted  bool           `json:"isDeleted,omitempty"`
	Seq        *int64         `json:"seq,omitempty"`
	TTL        *int64         `json:"ttl,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`

	Status    string    `json:"status,omitempty"`
	Source    string    `json:"source,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedIP string    `json:"createdIp,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedIP string    `json:"updatedIp,omitempty"`
	TaskToken string    `json:"taskToken,omitempty"`
}

// Key returns the command's versioned key.
func (c *Command) Key() key.DetailKey {
	return key.DetailKey{PK: c.PK, SK: c.SK}
}

// Data is the current-state projection of the latest synced command.
// SK has no version suffix; CPK and CSK point at the command.
type Data struct {
	PK         string         `json:"pk"`
	SK         string         `json:"sk"`
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Version    int            `json:"version"`
	TenantCode string         `json:"tenantCode"`
	Type       string         `json:"type"`
	IsDeleted  bool           `json:"isDeleted,omitempty"`
	Seq        *int64         `json:"seq,omitempty"`
	TTL        *int64         `json:"ttl,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`

	CPK       string    `json:"cpk,omitempty"`
	CSK       string    `json:"csk,omitempty"`
	Source    string    `json:"source,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedIP string    `json:"createdIp,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedIP string    `json:"updatedIp,omitempty"`
}

func (d *Data) Key() key.DetailKey {
	return key.DetailKey{PK: d.PK, SK: d.SK}
}

// CommandInput is a full write request. Version is the version the caller
// last saw: 0 for a new key, key.VersionLatest to write on top of
// whatever is latest.
type CommandInput struct {
	PK         string         `json:"pk"`
	SK         string         `json:"sk"`
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Version    int            `json:"version"`
	TenantCode string         `json:"tenantCode"`
	Type       string         `json:"type"`
	IsDeleted  bool           `json:"isDeleted,omitempty"`
	Seq        *int64         `json:"seq,omitempty"`
	TTL        *int64         `json:"ttl,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// PartialInput updates selected fields of an existing record. Nil fields
// keep the stored value; Attributes are deep-merged.
type PartialInput struct {
	PK         string         `json:"pk"`
	SK         string         `json:"sk"`
	Version    int            `json:"version"`
	ID         *string        `json:"id,omitempty"`
	Code       *string        `json:"code,omitempty"`
	Name       *string        `json:"name,omitempty"`
	TenantCode *string        `json:"tenantCode,omitempty"`
	Type       *string        `json:"type,omitempty"`
	IsDeleted  *bool          `json:"isDeleted,omitempty"`
	Seq        *int64         `json:"seq,omitempty"`
	TTL        *int64         `json:"ttl,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// DataPage is a page of projections.
type DataPage struct {
	Items  []*Data `json:"items"`
	LastSK string  `json:"lastSk,omitempty"`
}

// ToItem encodes a record as a kv.Item.
func ToItem(v any) (kv.Item, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	var item kv.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return item, nil
}

// FromItem decodes a kv.Item into a record type.
func FromItem[T any](item kv.Item) (*T, error) {
	if item == nil {
		return nil, nil
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &out, nil
}

// InvokeContext carries the caller identity stamped onto commands.
type InvokeContext struct {
	UserID    string `json:"userId,omitempty"`
	SourceIP  string `json:"sourceIp,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// PublishOptions are the per-call options of command writes.
type PublishOptions struct {
	Invoke InvokeContext
	// Source labels where the write came from.
	Source string
	// RequestID overrides Invoke.RequestID.
	RequestID string
}

// ResolvedRequestID returns the explicit request id or the invoke one.
func (o PublishOptions) ResolvedRequestID() string {
	if o.RequestID != "" {
		return o.RequestID
	}
	return o.Invoke.RequestID
}

// CommandFromData rebuilds the command a projection was made from, with
// the version suffix restored on SK.
func CommandFromData(d *Data) *Command {
	return &Command{
		PK:         d.PK,
		SK:         key.AddSortKeyVersion(d.SK, d.Version),
		ID:         d.ID,
		Code:       d.Code,
		Name:       d.Name,
		Version:    d.Version,
		TenantCode: d.TenantCode,
		Type:       d.Type,
		IsDeleted:  d.IsDeleted,
		Seq:        d.Seq,
		TTL:        d.TTL,
		Attributes: d.Attributes,
		Source:     d.Source,
		RequestID:  d.RequestID,
		CreatedAt:  d.CreatedAt,
		CreatedBy:  d.CreatedBy,
		CreatedIP:  d.CreatedIP,
		UpdatedAt:  d.UpdatedAt,
		UpdatedBy:  d.UpdatedBy,
		UpdatedIP:  d.UpdatedIP,
	}
}
