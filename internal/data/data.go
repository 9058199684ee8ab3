// Package data stores the current-state projection of each command key.
package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/model"
)

// projected lists the fields Publish owns. Anything else already on the
// row is carried over.
var projected = []string{
	"pk", "sk", "id", "code", "name", "version", "tenantCode", "type",
	"isDeleted", "seq", "ttl", "attributes", "cpk", "csk", "source",
	"requestId", "createdAt", "createdBy", "createdIp",
	"updatedAt", "updatedBy", "updatedIp",
}

// Store reads and writes one module's data table.
type Store struct {
	store  *kv.Adapter
	table  string
	logger *slog.Logger
}

func New(store *kv.Adapter, table string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{store: store, table: table, logger: logger.With("table", table)}
}

// TableName returns the physical data table.
func (s *Store) TableName() string {
	return s.table
}

// Publish projects cmd into its data row. Creation audit fields are kept
// from the existing row.
func (s *Store) Publish(ctx context.Context, cmd *model.Command) (*model.Data, error) {
	k := key.DetailKey{PK: cmd.PK, SK: key.RemoveSortKeyVersion(cmd.SK)}

	existing, err := s.store.Get(ctx, s.table, k)
	if err != nil {
		return nil, fmt.Errorf("data publish: %w", err)
	}

	id := cmd.ID
	if id == "" {
		id = key.GenerateID(k.PK, k.SK)
	}
	d := &model.Data{
		PK:         k.PK,
		SK:         k.SK,
		ID:         id,
		Code:       cmd.Code,
		Name:       cmd.Name,
		Version:    cmd.Version,
		TenantCode: cmd.TenantCode,
		Type:       cmd.Type,
		IsDeleted:  cmd.IsDeleted,
		Seq:        cmd.Seq,
		TTL:        cmd.TTL,
		Attributes: cmd.Attributes,
		CPK:        cmd.PK,
		CSK:        cmd.SK,
		Source:     cmd.Source,
		RequestID:  cmd.RequestID,
		CreatedAt:  cmd.CreatedAt,
		CreatedBy:  cmd.CreatedBy,
		CreatedIP:  cmd.CreatedIP,
		UpdatedAt:  cmd.UpdatedAt,
		UpdatedBy:  cmd.UpdatedBy,
		UpdatedIP:  cmd.UpdatedIP,
	}
	if existing != nil {
		prev, err := model.FromItem[model.Data](existing)
		if err != nil {
			return nil, fmt.Errorf("data publish: %w", err)
		}
		d.CreatedAt = prev.CreatedAt
		d.CreatedBy = prev.CreatedBy
		d.CreatedIP = prev.CreatedIP
	}

	item, err := model.ToItem(d)
	if err != nil {
		return nil, fmt.Errorf("data publish: %w", err)
	}
	row := kv.Item{}
	if existing != nil {
		row = existing.Clone()
		for _, name := range projected {
			delete(row, name)
		}
	}
	for name, v := range item {
		row[name] = v
	}

	s.logger.Debug("data publish", "pk", k.PK, "sk", k.SK, "version", d.Version)
	if err := s.store.Put(ctx, s.table, row, kv.Always); err != nil {
		return nil, fmt.Errorf("data publish: %w", err)
	}
	return d, nil
}

// GetItem returns the projection at k, or nil if there is none.
func (s *Store) GetItem(ctx context.Context, k key.DetailKey) (*model.Data, error) {
	item, err := s.store.Get(ctx, s.table, k)
	if err != nil {
		return nil, err
	}
	return model.FromItem[model.Data](item)
}

// ListOptions selects a page of one partition.
type ListOptions struct {
	SK     *kv.SortKeyFilter
	Cursor string
	Limit  int
	Order  kv.Order
}

// ListItemsByPK lists the projections of one partition.
func (s *Store) ListItemsByPK(ctx context.Context, pk string, opts ListOptions) (model.DataPage, error) {
	page, err := s.store.QueryByPartition(ctx, s.table, kv.Query{
		PK:          pk,
		SK:          opts.SK,
		StartFromSK: opts.Cursor,
		Limit:       opts.Limit,
		Order:       opts.Order,
	})
	if err != nil {
		return model.DataPage{}, err
	}
	out := model.DataPage{Items: make([]*model.Data, 0, len(page.Items))}
	for _, item := range page.Items {
		d, err := model.FromItem[model.Data](item)
		if err != nil {
			return model.DataPage{}, err
		}
		out.Items = append(out.Items, d)
	}
	if page.LastKey != nil {
		out.LastSK = page.LastKey.SK
	}
	return out, nil
}

// ListAll returns one page of the whole table. The returned key is the
// cursor for the next page, nil after the last one.
func (s *Store) ListAll(ctx context.Context, cursor *key.DetailKey, limit int) ([]*model.Data, *key.DetailKey, error) {
	page, err := s.store.Scan(ctx, s.table, cursor, limit)
	if err != nil {
		return nil, nil, err
	}
	items := make([]*model.Data, 0, len(page.Items))
	for _, item := range page.Items {
		d, err := model.FromItem[model.Data](item)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, d)
	}
	return items, page.LastKey, nil
}
