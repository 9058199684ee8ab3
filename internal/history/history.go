// Package history keeps a write-once copy of every data projection version.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/model"
)

// DataReader reads the projection being archived.
type DataReader interface {
	GetItem(ctx context.Context, k key.DetailKey) (*model.Data, error)
}

// TTLCalculator resolves the expiry of a history row.
type TTLCalculator interface {
	Calculate(ctx context.Context, typ kv.TableType, tenant string, start time.Time) (*int64, error)
}

// Store writes one module's history table.
type Store struct {
	store  *kv.Adapter
	table  string
	data   DataReader
	ttl    TTLCalculator
	now    func() time.Time
	logger *slog.Logger
}

// Config holds the optional collaborators of a Store.
type Config struct {
	TTL    TTLCalculator
	Now    func() time.Time
	Logger *slog.Logger
}

func New(store *kv.Adapter, table string, data DataReader, cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		store:  store,
		table:  table,
		data:   data,
		ttl:    cfg.TTL,
		now:    cfg.Now,
		logger: cfg.Logger.With("table", table),
	}
}

// Publish copies the data row of k to "{sk}@{version}". It returns nil
// when there is no data row. Replaying an already archived version is not
// an error.
func (s *Store) Publish(ctx context.Context, k key.DetailKey) (*model.Data, error) {
	base := k.Base()
	d, err := s.data.GetItem(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("history publish: %w", err)
	}
	if d == nil {
		s.logger.Debug("history publish skipped, no data", "pk", base.PK, "sk", base.SK)
		return nil, nil
	}

	d.SK = key.AddSortKeyVersion(base.SK, d.Version)
	d.TTL = nil
	if s.ttl != nil {
		tenant := d.TenantCode
		if tenant == "" {
			tenant = key.TenantCode(d.PK)
		}
		d.TTL, err = s.ttl.Calculate(ctx, kv.TableHistory, tenant, s.now())
		if err != nil {
			return nil, fmt.Errorf("history publish: %w", err)
		}
	}

	item, err := model.ToItem(d)
	if err != nil {
		return nil, fmt.Errorf("history publish: %w", err)
	}
	err = s.store.Put(ctx, s.table, item, kv.NotExists)
	if errors.Is(err, kv.ErrConditionalCheckFailed) {
		s.logger.Debug("history already archived", "pk", d.PK, "sk", d.SK)
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history publish: %w", err)
	}
	return d, nil
}

// GetItem returns one archived version, or nil.
func (s *Store) GetItem(ctx context.Context, k key.DetailKey) (*model.Data, error) {
	item, err := s.store.Get(ctx, s.table, k)
	if err != nil {
		return nil, err
	}
	return model.FromItem[model.Data](item)
}
