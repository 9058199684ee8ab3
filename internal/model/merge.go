package model

// MergeDeep merges src into dst recursively and returns dst. Nested maps
// are merged key by key; any other value in src replaces the one in dst.
func MergeDeep(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = MergeDeep(cloneMap(dm), sm)
			continue
		}
		if srcIsMap {
			dst[k] = MergeDeep(nil, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyPartial merges a partial input onto a stored command and returns the
// full input to publish. Version stays the stored version. TTL is dropped
// unless the partial input sets it.
func ApplyPartial(base *Command, in PartialInput) CommandInput {
	out := CommandInput{
		PK:         base.PK,
		SK:         base.SK,
		ID:         base.ID,
		Code:       base.Code,
		Name:       base.Name,
		Version:    base.Version,
		TenantCode: base.TenantCode,
		Type:       base.Type,
		IsDeleted:  base.IsDeleted,
		Seq:        base.Seq,
		TTL:        in.TTL,
		Attributes: MergeDeep(cloneMap(base.Attributes), in.Attributes),
	}
	if in.PK != "" {
		out.PK = in.PK
	}
	if in.SK != "" {
		out.SK = in.SK
	}
	if in.ID != nil {
		out.ID = *in.ID
	}
	if in.Code != nil {
		out.Code = *in.Code
	}
	if in.Name != nil {
		out.Name = *in.Name
	}
	if in.TenantCode != nil {
		out.TenantCode = *in.TenantCode
	}
	if in.Type != nil {
		out.Type = *in.Type
	}
	if in.IsDeleted != nil {
		out.IsDeleted = *in.IsDeleted
	}
	if in.Seq != nil {
		out.Seq = in.Seq
	}
	return out
}

// ApplyPartialData is ApplyPartial for a projection.
func ApplyPartialData(base *Data, in PartialInput) CommandInput {
	return ApplyPartial(&Command{
		PK:         base.PK,
		SK:         base.SK,
		ID:         base.ID,
		Code:       base.Code,
		Name:       base.Name,
		Version:    base.Version,
		TenantCode: base.TenantCode,
		Type:       base.Type,
		IsDeleted:  base.IsDeleted,
		Seq:        base.Seq,
		Attributes: base.Attributes,
	}, in)
}
