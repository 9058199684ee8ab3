package kv

import (
	"fmt"
	"sort"
	"strings"
)

// Ops describes an update. Keys of Set, Remove and Delete are attribute
// paths; nested map members are addressed with dots ("attributes.count").
type Ops struct {
	// Set assigns plain values or SetValue expressions. Nil values are
	// skipped; use Remove to drop an attribute.
	Set map[string]any
	// Remove drops attributes, or single list elements.
	Remove map[string]RemoveOp
	// Delete removes elements from set-typed attributes.
	Delete map[string][]any
}

// Empty reports whether ops would change nothing.
func (o Ops) Empty() bool {
	return len(o.Set) == 0 && len(o.Remove) == 0 && len(o.Delete) == 0
}

// PathValue pairs a value with an optional source path. An empty Path
// means the attribute being set.
type PathValue struct {
	Path  string
	Value any
}

// SetValue is a computed assignment.
//
// IfNotExists, IncrementBy and DecrementBy combine: the attribute becomes
// if_not_exists(path, init) + n. ListAppend may be combined with
// IfNotExists to append to a list that may not exist yet.
type SetValue struct {
	IfNotExists *PathValue
	IncrementBy any
	DecrementBy any
	ListAppend  *PathValue
}

func IfNotExists(value any) SetValue {
	return SetValue{IfNotExists: &PathValue{Value: value}}
}

func IncrementBy(n any) SetValue {
	return SetValue{IncrementBy: n}
}

func DecrementBy(n any) SetValue {
	return SetValue{DecrementBy: n}
}

func ListAppend(values ...any) SetValue {
	return SetValue{ListAppend: &PathValue{Value: values}}
}

// RemoveOp drops an attribute, or the list element at Index.
type RemoveOp struct {
	Index *int
}

func RemoveAttr() RemoveOp { return RemoveOp{} }

func RemoveIndex(i int) RemoveOp { return RemoveOp{Index: &i} }

// ValueSet marks a value that must be sent as a set, not a list.
type ValueSet []any

// Expression is a compiled update.
type Expression struct {
	Update string
	Names  map[string]string // placeholder -> attribute name
	Values map[string]any    // placeholder -> value
}

// Compile turns ops into a DynamoDB update expression.
//
// Keys are visited in sorted order, so the same ops always compile to the
// same expression. Every attribute name gets one "#nN" placeholder that is
// shared by all paths using it, and every value gets its own ":vN".
// Clauses are emitted in SET, REMOVE, DELETE order.
func Compile(ops Ops) (Expression, error) {
	b := &exprBuilder{
		byName: make(map[string]string),
		expr: Expression{
			Names:  make(map[string]string),
			Values: make(map[string]any),
		},
	}

	var clauses []string

	if setList, err := b.setClauses(ops.Set); err != nil {
		return Expression{}, err
	} else if len(setList) > 0 {
		clauses = append(clauses, "SET "+strings.Join(setList, ", "))
	}

	if removeList := b.removeClauses(ops.Remove); len(removeList) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(removeList, ", "))
	}

	if deleteList := b.deleteClauses(ops.Delete); len(deleteList) > 0 {
		clauses = append(clauses, "DELETE "+strings.Join(deleteList, ", "))
	}

	if len(clauses) == 0 {
		return Expression{}, fmt.Errorf("compile update: no operations")
	}

	b.expr.Update = strings.Join(clauses, " ")
	return b.expr, nil
}

type exprBuilder struct {
	byName    map[string]string
	nextName  int
	nextValue int
	expr      Expression
}

func (b *exprBuilder) path(p string) string {
	segments := strings.Split(p, ".")
	for i, seg := range segments {
		ph, ok := b.byName[seg]
		if !ok {
			ph = fmt.Sprintf("#n%d", b.nextName)
			b.nextName++
			b.byName[seg] = ph
			b.expr.Names[ph] = seg
		}
		segments[i] = ph
	}
	return strings.Join(segments, ".")
}

func (b *exprBuilder) value(v any) string {
	ph := fmt.Sprintf(":v%d", b.nextValue)
	b.nextValue++
	b.expr.Values[ph] = v
	return ph
}

func (b *exprBuilder) setClauses(set map[string]any) ([]string, error) {
	var out []string
	for _, k := range sortedKeys(set) {
		val := set[k]
		if val == nil {
			continue
		}

		lhs := b.path(k)
		var rhs string

		switch sv := val.(type) {
		case SetValue:
			var err error
			rhs, err = b.setValue(k, lhs, sv)
			if err != nil {
				return nil, err
			}
		case *SetValue:
			var err error
			rhs, err = b.setValue(k, lhs, *sv)
			if err != nil {
				return nil, err
			}
		default:
			rhs = b.value(val)
		}

		out = append(out, lhs+" = "+rhs)
	}
	return out, nil
}

func (b *exprBuilder) setValue(k, lhs string, sv SetValue) (string, error) {
	if sv.ListAppend != nil {
		base := b.path(pathOr(sv.ListAppend.Path, k))
		if sv.IfNotExists != nil {
			base = fmt.Sprintf("if_not_exists(%s, %s)", base, b.value(sv.IfNotExists.Value))
		}
		return fmt.Sprintf("list_append(%s, %s)", base, b.value(sv.ListAppend.Value)), nil
	}

	rhs := ""
	if sv.IfNotExists != nil {
		rhs = fmt.Sprintf("if_not_exists(%s, %s)", b.path(pathOr(sv.IfNotExists.Path, k)), b.value(sv.IfNotExists.Value))
	}
	if sv.IncrementBy != nil {
		if rhs == "" {
			rhs = lhs
		}
		rhs += " + " + b.value(sv.IncrementBy)
	}
	if sv.DecrementBy != nil {
		if rhs == "" {
			rhs = lhs
		}
		rhs += " - " + b.value(sv.DecrementBy)
	}
	if rhs == "" {
		return "", fmt.Errorf("compile update: empty set expression for %q", k)
	}
	return rhs, nil
}

func (b *exprBuilder) removeClauses(remove map[string]RemoveOp) []string {
	var out []string
	for _, k := range sortedKeys(remove) {
		expr := b.path(k)
		if idx := remove[k].Index; idx != nil {
			expr += fmt.Sprintf("[%d]", *idx)
		}
		out = append(out, expr)
	}
	return out
}

func (b *exprBuilder) deleteClauses(del map[string][]any) []string {
	var out []string
	for _, k := range sortedKeys(del) {
		if len(del[k]) == 0 {
			continue
		}
		out = append(out, b.path(k)+" "+b.value(ValueSet(del[k])))
	}
	return out
}

func pathOr(p, fallback string) string {
	if p == "" {
		return fallback
	}
	return p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
