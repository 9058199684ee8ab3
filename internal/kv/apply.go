package kv

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Apply evaluates ops against item in process and returns the updated
// copy; item is not modified. Right-hand sides read the row as it was
// before the update, as DynamoDB does.
func Apply(item Item, ops Ops) (Item, error) {
	src, err := toJSONValue(item)
	if err != nil {
		return nil, fmt.Errorf("apply update: %w", err)
	}
	before, _ := src.(map[string]any)
	if before == nil {
		before = map[string]any{}
	}
	afterVal, _ := toJSONValue(before)
	after := afterVal.(map[string]any)

	for _, k := range sortedKeys(ops.Set) {
		val := ops.Set[k]
		if val == nil {
			continue
		}
		var next any
		switch sv := val.(type) {
		case SetValue:
			next, err = evalSetValue(before, k, sv)
		case *SetValue:
			next, err = evalSetValue(before, k, *sv)
		default:
			next, err = toJSONValue(val)
		}
		if err != nil {
			return nil, fmt.Errorf("apply set %s: %w", k, err)
		}
		if err := setPath(after, k, next); err != nil {
			return nil, fmt.Errorf("apply set %s: %w", k, err)
		}
	}

	for _, k := range sortedKeys(ops.Remove) {
		if err := removePath(after, k, ops.Remove[k].Index); err != nil {
			return nil, fmt.Errorf("apply remove %s: %w", k, err)
		}
	}

	for _, k := range sortedKeys(ops.Delete) {
		if err := deleteElements(after, k, ops.Delete[k]); err != nil {
			return nil, fmt.Errorf("apply delete %s: %w", k, err)
		}
	}

	return Item(after), nil
}

func evalSetValue(before map[string]any, k string, sv SetValue) (any, error) {
	if sv.ListAppend != nil {
		base, ok := getPath(before, pathOr(sv.ListAppend.Path, k))
		if !ok && sv.IfNotExists != nil {
			base, ok = sv.IfNotExists.Value, true
		}
		if !ok {
			return nil, fmt.Errorf("list_append: attribute not found")
		}
		list, err := toList(base)
		if err != nil {
			return nil, err
		}
		extra, err := toList(sv.ListAppend.Value)
		if err != nil {
			return nil, err
		}
		return toJSONValue(append(list, extra...))
	}

	var cur any
	has := false
	if sv.IfNotExists != nil {
		if v, ok := getPath(before, pathOr(sv.IfNotExists.Path, k)); ok {
			cur = v
		} else {
			cur = sv.IfNotExists.Value
		}
		has = true
	}

	if sv.IncrementBy == nil && sv.DecrementBy == nil {
		if !has {
			return nil, fmt.Errorf("empty set expression")
		}
		return toJSONValue(cur)
	}

	if !has {
		v, ok := getPath(before, k)
		if !ok {
			return nil, fmt.Errorf("arithmetic on missing attribute")
		}
		cur = v
	}
	n, err := toFloat(cur)
	if err != nil {
		return nil, err
	}
	if sv.IncrementBy != nil {
		d, err := toFloat(sv.IncrementBy)
		if err != nil {
			return nil, err
		}
		n += d
	}
	if sv.DecrementBy != nil {
		d, err := toFloat(sv.DecrementBy)
		if err != nil {
			return nil, err
		}
		n -= d
	}
	return n, nil
}

func getPath(m map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = m
	for _, seg := range segments {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func parentOf(m map[string]any, path string) (map[string]any, string, error) {
	segments := strings.Split(path, ".")
	cur := m
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("document path %q is invalid", path)
		}
		cur = next
	}
	return cur, segments[len(segments)-1], nil
}

func setPath(m map[string]any, path string, v any) error {
	parent, last, err := parentOf(m, path)
	if err != nil {
		return err
	}
	parent[last] = v
	return nil
}

func removePath(m map[string]any, path string, index *int) error {
	parent, last, err := parentOf(m, path)
	if err != nil {
		// removing below a missing map is a no-op
		return nil
	}
	if index == nil {
		delete(parent, last)
		return nil
	}
	list, ok := parent[last].([]any)
	if !ok {
		return nil
	}
	if *index < 0 || *index >= len(list) {
		return nil
	}
	parent[last] = append(list[:*index:*index], list[*index+1:]...)
	return nil
}

func deleteElements(m map[string]any, path string, values []any) error {
	parent, last, err := parentOf(m, path)
	if err != nil {
		return err
	}
	list, ok := parent[last].([]any)
	if !ok {
		return nil
	}
	drop, err := toJSONValue(values)
	if err != nil {
		return err
	}
	dropList := drop.([]any)

	kept := make([]any, 0, len(list))
	for _, elem := range list {
		found := false
		for _, d := range dropList {
			if reflect.DeepEqual(elem, d) {
				found = true
				break
			}
		}
		if !found {
			kept = append(kept, elem)
		}
	}
	if len(kept) == 0 {
		delete(parent, last)
		return nil
	}
	parent[last] = kept
	return nil
}

// toJSONValue normalizes v to the types encoding/json decodes into, so
// rows hold float64 numbers and plain maps regardless of what the caller
// passed.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toList(v any) ([]any, error) {
	norm, err := toJSONValue(v)
	if err != nil {
		return nil, err
	}
	list, ok := norm.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	return list, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
