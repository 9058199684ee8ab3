package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cmdsync/internal/blob"
	"github.com/roach88/cmdsync/internal/key"
)

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	// AttributeLimitSize is the largest JSON size in bytes of the
	// attributes field kept inline. Zero disables overflow.
	AttributeLimitSize int

	// Now stamps updatedAt. Defaults to time.Now.
	Now func() time.Time

	// NewID names overflow objects. Defaults to UUIDv7.
	NewID func() string

	// Feed, when set, receives every row written by Put as stored.
	Feed ChangeFeed

	Logger *slog.Logger
}

// ChangeFeed observes writes the way a table stream does. Conditional
// creates are reported as inserts.
type ChangeFeed interface {
	Record(table string, inserted bool, row Item)
}

// Adapter is the storage API used by the stores.
type Adapter struct {
	backend Backend
	blobs   blob.Store
	cfg     AdapterConfig
}

// NewAdapter wraps backend. blobs may be nil when overflow is disabled.
func NewAdapter(backend Backend, blobs blob.Store, cfg AdapterConfig) *Adapter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{backend: backend, blobs: blobs, cfg: cfg}
}

// Put writes item, overflowing large attributes first.
func (a *Adapter) Put(ctx context.Context, table string, item Item, cond Condition) error {
	row := item.Clone()
	k := row.Key()

	if attrs, ok := row["attributes"]; ok {
		v, err := a.overflow(ctx, table, k, attrs)
		if err != nil {
			return fmt.Errorf("put %s: %w", table, err)
		}
		row["attributes"] = v
	}

	if err := a.backend.PutItem(ctx, table, row, cond); err != nil {
		return fmt.Errorf("put %s %s: %w", table, k, err)
	}
	if a.cfg.Feed != nil {
		a.cfg.Feed.Record(table, cond == NotExists, row.Clone())
	}
	return nil
}

// Get reads a row, inlining overflowed attributes. A missing row is
// (nil, nil).
func (a *Adapter) Get(ctx context.Context, table string, k key.DetailKey) (Item, error) {
	item, err := a.backend.GetItem(ctx, table, k)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, k, err)
	}
	if item == nil {
		return nil, nil
	}
	if err := a.inline(ctx, item); err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, k, err)
	}
	return item, nil
}

// Update applies ops and returns the updated row. updatedAt is set to the
// current time unless ops already sets it.
func (a *Adapter) Update(ctx context.Context, table string, k key.DetailKey, ops Ops) (Item, error) {
	set := make(map[string]any, len(ops.Set)+1)
	for name, v := range ops.Set {
		set[name] = v
	}
	if set["updatedAt"] == nil {
		set["updatedAt"] = a.cfg.Now().UTC().Format(time.RFC3339Nano)
	}
	if attrs, ok := set["attributes"]; ok && !isSetValue(attrs) {
		v, err := a.overflow(ctx, table, k, attrs)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", table, err)
		}
		set["attributes"] = v
	}
	ops.Set = set

	a.cfg.Logger.Debug("update item", "table", table, "pk", k.PK, "sk", k.SK)

	item, err := a.backend.UpdateItem(ctx, table, k, ops)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, k, err)
	}
	if err := a.inline(ctx, item); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, k, err)
	}
	return item, nil
}

// QueryByPartition lists rows of one partition.
func (a *Adapter) QueryByPartition(ctx context.Context, table string, q Query) (Page, error) {
	if q.SK != nil {
		if err := q.SK.Validate(); err != nil {
			return Page{}, fmt.Errorf("query %s: %w", table, err)
		}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Order == "" {
		q.Order = OrderAsc
	}

	page, err := a.backend.Query(ctx, table, q)
	if err != nil {
		return Page{}, fmt.Errorf("query %s %s: %w", table, q.PK, err)
	}
	for _, item := range page.Items {
		if err := a.inline(ctx, item); err != nil {
			return Page{}, fmt.Errorf("query %s %s: %w", table, q.PK, err)
		}
	}
	return page, nil
}

// Scan lists all rows of a table, a page at a time.
func (a *Adapter) Scan(ctx context.Context, table string, startKey *key.DetailKey, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	page, err := a.backend.Scan(ctx, table, startKey, limit)
	if err != nil {
		return Page{}, fmt.Errorf("scan %s: %w", table, err)
	}
	for _, item := range page.Items {
		if err := a.inline(ctx, item); err != nil {
			return Page{}, fmt.Errorf("scan %s: %w", table, err)
		}
	}
	return page, nil
}

func (a *Adapter) overflow(ctx context.Context, table string, k key.DetailKey, attrs any) (any, error) {
	if attrs == nil || a.cfg.AttributeLimitSize <= 0 || blob.IsURI(attrs) {
		return attrs, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	if len(data) <= a.cfg.AttributeLimitSize {
		return attrs, nil
	}
	if a.blobs == nil {
		return nil, fmt.Errorf("attributes exceed %d bytes and no blob store is configured", a.cfg.AttributeLimitSize)
	}

	objectKey := fmt.Sprintf("ddb/%s/%s/%s/%s.json", table, k.PK, k.SK, a.cfg.NewID())
	uri, err := a.blobs.Put(ctx, objectKey, data)
	if err != nil {
		return nil, fmt.Errorf("overflow attributes: %w", err)
	}
	a.cfg.Logger.Debug("attributes overflowed", "table", table, "key", objectKey, "bytes", len(data))
	return uri, nil
}

// ResolveAttributes replaces an overflow URI in item["attributes"] with the
// stored object. Rows read through the adapter are already resolved; this
// is for rows that arrive another way, such as stream images.
func (a *Adapter) ResolveAttributes(ctx context.Context, item Item) error {
	return a.inline(ctx, item)
}

func (a *Adapter) inline(ctx context.Context, item Item) error {
	uri, ok := item["attributes"].(string)
	if !ok || !blob.IsURI(uri) {
		return nil
	}
	if a.blobs == nil {
		return fmt.Errorf("attributes stored at %s but no blob store is configured", uri)
	}
	_, objectKey, err := blob.ParseURI(uri)
	if err != nil {
		return err
	}
	data, err := a.blobs.Get(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("inline attributes: %w", err)
	}
	var attrs any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return fmt.Errorf("decode attributes %s: %w", uri, err)
	}
	item["attributes"] = attrs
	return nil
}

func isSetValue(v any) bool {
	switch v.(type) {
	case SetValue, *SetValue:
		return true
	}
	return false
}
