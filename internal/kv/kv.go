package kv

import (
	"context"
	"errors"

	"github.com/roach88/cmdsync/internal/key"
)

// ErrConditionalCheckFailed is returned when a write precondition does not
// hold, e.g. a conditional create of a key that already exists.
var ErrConditionalCheckFailed = errors.New("conditional write failed")

// Item is one row, holding JSON-compatible values.
type Item map[string]any

// Key returns the row's pk and sk.
func (it Item) Key() key.DetailKey {
	pk, _ := it["pk"].(string)
	sk, _ := it["sk"].(string)
	return key.DetailKey{PK: pk, SK: sk}
}

// Clone returns a shallow copy of the row.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// Condition is a write precondition.
type Condition int

const (
	// Always writes unconditionally, replacing any existing row.
	Always Condition = iota
	// NotExists writes only if no row with the same pk and sk exists.
	NotExists
)

// Order is the sort-key order of a partition query.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// DefaultLimit is the page size used when a query or scan sets none.
const DefaultLimit = 10

// Query reads one partition.
type Query struct {
	PK          string
	SK          *SortKeyFilter
	StartFromSK string // exclusive cursor
	Limit       int
	Order       Order
}

// Page is one page of query or scan results. LastKey is set when more
// rows may follow; pass it back as the cursor.
type Page struct {
	Items   []Item
	LastKey *key.DetailKey
}

// Backend is a physical key-value store.
type Backend interface {
	PutItem(ctx context.Context, table string, item Item, cond Condition) error
	// GetItem returns (nil, nil) when the row does not exist.
	GetItem(ctx context.Context, table string, k key.DetailKey) (Item, error)
	// UpdateItem applies ops, creating the row if needed, and returns the
	// row as it is after the update.
	UpdateItem(ctx context.Context, table string, k key.DetailKey, ops Ops) (Item, error)
	Query(ctx context.Context, table string, q Query) (Page, error)
	Scan(ctx context.Context, table string, startKey *key.DetailKey, limit int) (Page, error)
}
