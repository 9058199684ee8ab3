package kv

import "fmt"

// SortKeyOp is a sort-key condition of a partition query.
type SortKeyOp string

const (
	SKEqual      SortKeyOp = "="
	SKLess       SortKeyOp = "<"
	SKLessEq     SortKeyOp = "<="
	SKGreater    SortKeyOp = ">"
	SKGreaterEq  SortKeyOp = ">="
	SKBeginsWith SortKeyOp = "begins_with"
	SKBetween    SortKeyOp = "between"
)

// SortKeyFilter narrows a partition query by sort key. To is only used by
// SKBetween, and both bounds are inclusive.
type SortKeyFilter struct {
	Op    SortKeyOp
	Value string
	To    string
}

func BeginsWith(prefix string) *SortKeyFilter {
	return &SortKeyFilter{Op: SKBeginsWith, Value: prefix}
}

func Between(from, to string) *SortKeyFilter {
	return &SortKeyFilter{Op: SKBetween, Value: from, To: to}
}

// Validate rejects unknown operators.
func (f *SortKeyFilter) Validate() error {
	switch f.Op {
	case SKEqual, SKLess, SKLessEq, SKGreater, SKGreaterEq, SKBeginsWith, SKBetween:
		return nil
	default:
		return fmt.Errorf("unsupported sort key operator %q", f.Op)
	}
}

// Match evaluates the filter against a sort key in process.
func (f *SortKeyFilter) Match(sk string) bool {
	switch f.Op {
	case SKEqual:
		return sk == f.Value
	case SKLess:
		return sk < f.Value
	case SKLessEq:
		return sk <= f.Value
	case SKGreater:
		return sk > f.Value
	case SKGreaterEq:
		return sk >= f.Value
	case SKBeginsWith:
		return len(sk) >= len(f.Value) && sk[:len(f.Value)] == f.Value
	case SKBetween:
		return sk >= f.Value && sk <= f.To
	default:
		return false
	}
}
