// Package command owns the versioned command log of one module.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cmdsync/internal/data"
	"github.com/roach88/cmdsync/internal/datasync"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/model"
	"github.com/roach88/cmdsync/internal/notify"
)

// SourceDuplicated marks commands written by Duplicate.
const SourceDuplicated = "duplicated"

// lookUpStep is the stride of the upward probe in GetLatestItem.
const lookUpStep = 5

// TTLCalculator resolves retention for a table type.
type TTLCalculator interface {
	Calculate(ctx context.Context, typ kv.TableType, tenant string, start time.Time) (*int64, error)
}

// Config wires a Store.
type Config struct {
	// Table is the physical command table.
	Table    string
	Data     *data.Store
	Handlers *datasync.Registry
	TTL      TTLCalculator
	Notifier notify.Publisher
	Now      func() time.Time
	Logger   *slog.Logger
}

// Store reads and writes one module's command table.
type Store struct {
	store    *kv.Adapter
	table    string
	data     *data.Store
	handlers *datasync.Registry
	ttl      TTLCalculator
	notifier notify.Publisher
	now      func() time.Time
	logger   *slog.Logger
}

func New(store *kv.Adapter, cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogPublisher{Logger: cfg.Logger}
	}
	if cfg.Handlers == nil {
		cfg.Handlers = datasync.NewRegistry()
	}
	return &Store{
		store:    store,
		table:    cfg.Table,
		data:     cfg.Data,
		handlers: cfg.Handlers,
		ttl:      cfg.TTL,
		notifier: cfg.Notifier,
		now:      cfg.Now,
		logger:   cfg.Logger.With("table", cfg.Table),
	}
}

// TableName returns the physical command table.
func (s *Store) TableName() string {
	return s.table
}

// Handlers returns the data-sync handlers of the module.
func (s *Store) Handlers() *datasync.Registry {
	return s.handlers
}

// Data returns the module's data store.
func (s *Store) Data() *data.Store {
	return s.data
}

// Publish appends the next version of a command. in.Version is the
// version the caller based its change on: VersionFirst for a new key,
// VersionLatest for whatever is stored last. It returns nil without
// writing when nothing semantic changed.
func (s *Store) Publish(ctx context.Context, in model.CommandInput, opts model.PublishOptions) (*model.Command, error) {
	base := key.DetailKey{PK: in.PK, SK: key.RemoveSortKeyVersion(in.SK)}

	var existing *model.Command
	inputVersion := in.Version
	switch {
	case inputVersion == key.VersionLatest:
		latest, err := s.GetLatestItem(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", base, err)
		}
		existing = latest
		inputVersion = key.VersionFirst
		if latest != nil {
			inputVersion = latest.Version
		}
	case inputVersion > key.VersionFirst:
		cur, err := s.get(ctx, base.Versioned(inputVersion))
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", base, err)
		}
		if cur == nil {
			return nil, fmt.Errorf("publish %s: version %d: %w", base, inputVersion, ErrVersionMismatch)
		}
		existing = cur
	case inputVersion < key.VersionLatest:
		return nil, fmt.Errorf("publish %s: version %d: %w", base, inputVersion, ErrVersionMismatch)
	}

	if existing != nil {
		// A nil TTL asks for the policy default, which the stored version
		// already carries, so it is not a change.
		cmp := in
		if cmp.TTL == nil {
			cmp.TTL = existing.TTL
		}
		same, err := IsNotCommandDirty(existing, cmp)
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", base, err)
		}
		if same {
			s.logger.Debug("command not dirty", "pk", base.PK, "sk", base.SK, "version", existing.Version)
			return nil, nil
		}
	}

	now := s.now().UTC()
	ttl := in.TTL
	if ttl == nil {
		var err error
		if ttl, err = s.calculateTTL(ctx, kv.TableData, in.PK, now); err != nil {
			return nil, fmt.Errorf("publish %s: %w", base, err)
		}
	}

	version := inputVersion + 1
	cmd := fromInput(in, base, version)
	cmd.TTL = ttl
	cmd.Source = opts.Source
	cmd.RequestID = opts.ResolvedRequestID()
	cmd.CreatedAt = now
	cmd.UpdatedAt = now
	cmd.CreatedBy = opts.Invoke.UserID
	cmd.UpdatedBy = opts.Invoke.UserID
	cmd.CreatedIP = opts.Invoke.SourceIP
	cmd.UpdatedIP = opts.Invoke.SourceIP

	s.logger.Debug("publish", "pk", cmd.PK, "sk", cmd.SK, "version", version)
	if err := s.create(ctx, cmd); err != nil {
		return nil, fmt.Errorf("publish %s: %w", cmd.Key(), err)
	}
	return cmd, nil
}

// PublishPartialUpdate merges in onto the stored command and publishes the
// result. in.Version selects the base version; zero means latest.
func (s *Store) PublishPartialUpdate(ctx context.Context, in model.PartialInput, opts model.PublishOptions) (*model.Command, error) {
	base := key.DetailKey{PK: in.PK, SK: key.RemoveSortKeyVersion(in.SK)}

	var item *model.Command
	var err error
	if in.Version > key.VersionFirst {
		item, err = s.get(ctx, base.Versioned(in.Version))
	} else {
		item, err = s.GetLatestItem(ctx, base)
	}
	if err != nil {
		return nil, fmt.Errorf("partial update %s: %w", base, err)
	}
	if item == nil {
		return nil, fmt.Errorf("partial update %s: %w", base, ErrNotFound)
	}

	full := model.ApplyPartial(item, in)
	full.SK = base.SK
	s.logger.Debug("partial update", "pk", base.PK, "sk", base.SK, "version", full.Version)
	return s.Publish(ctx, full, opts)
}

// Duplicate writes the command at k again as the next version.
func (s *Store) Duplicate(ctx context.Context, k key.DetailKey, opts model.PublishOptions) (*model.Command, error) {
	item, err := s.GetItem(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("duplicate %s: %w", k, err)
	}
	if item == nil {
		return nil, fmt.Errorf("duplicate %s: %w", k, ErrNotFound)
	}

	item.Version++
	item.SK = key.AddSortKeyVersion(item.SK, item.Version)
	item.Source = SourceDuplicated
	item.RequestID = opts.ResolvedRequestID()
	item.UpdatedAt = s.now().UTC()
	item.UpdatedBy = opts.Invoke.UserID
	item.UpdatedIP = opts.Invoke.SourceIP
	item.Status = ""
	item.TaskToken = ""

	s.logger.Debug("duplicate", "pk", item.PK, "sk", item.SK)
	if err := s.create(ctx, item); err != nil {
		return nil, fmt.Errorf("duplicate %s: %w", k, err)
	}
	return item, nil
}

// GetItem returns the command at k. An unversioned sort key resolves to
// the latest version.
func (s *Store) GetItem(ctx context.Context, k key.DetailKey) (*model.Command, error) {
	if !key.HasVersion(k.SK) {
		return s.GetLatestItem(ctx, k)
	}
	return s.get(ctx, k)
}

// GetLatestItem finds the highest stored version of the unversioned key
// k, or nil when there is none.
//
// The data projection's version is the starting estimate. The search
// climbs in strides of lookUpStep while any version in the stride exists,
// then walks down one version at a time to the highest hit. Missing runs
// shorter than lookUpStep are tolerated.
func (s *Store) GetLatestItem(ctx context.Context, k key.DetailKey) (*model.Command, error) {
	base := k.Base()
	estimate := key.VersionFirst
	if s.data != nil {
		d, err := s.data.GetItem(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("latest %s: %w", base, err)
		}
		if d != nil {
			estimate = d.Version
		}
	}

	ver := estimate + lookUpStep
	for {
		hit, err := s.anyInStride(ctx, base, ver)
		if err != nil {
			return nil, fmt.Errorf("latest %s: %w", base, err)
		}
		if !hit {
			break
		}
		ver += lookUpStep
	}

	for ver--; ver > key.VersionFirst; ver-- {
		item, err := s.get(ctx, base.Versioned(ver))
		if err != nil {
			return nil, fmt.Errorf("latest %s: %w", base, err)
		}
		if item != nil {
			return item, nil
		}
	}
	return nil, nil
}

// anyInStride reports whether any version in [from, from+lookUpStep)
// exists.
func (s *Store) anyInStride(ctx context.Context, base key.DetailKey, from int) (bool, error) {
	for v := from; v < from+lookUpStep; v++ {
		item, err := s.get(ctx, base.Versioned(v))
		if err != nil {
			return false, err
		}
		if item != nil {
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatus sets the status label of the command at k and announces it.
// notifyID defaults to "{table}#{pk}#{sk}".
func (s *Store) UpdateStatus(ctx context.Context, k key.DetailKey, status, notifyID string) error {
	item, err := s.store.Update(ctx, s.table, k, kv.Ops{Set: map[string]any{"status": status}})
	if err != nil {
		return fmt.Errorf("update status %s: %w", k, err)
	}
	if notifyID == "" {
		notifyID = s.table + key.KeySeparator + k.PK + key.KeySeparator + k.SK
	}
	source, _ := item["source"].(string)

	err = s.notifier.Publish(ctx, notify.Notification{
		Action:     notify.ActionCommandStatus,
		ID:         notifyID,
		Table:      s.table,
		PK:         k.PK,
		SK:         k.SK,
		TenantCode: key.TenantCode(k.PK),
		Content:    notify.StatusContent{Status: status, Source: source},
	})
	if err != nil {
		return fmt.Errorf("update status %s: %w", k, err)
	}
	return nil
}

// PublishSync projects a command straight into the data table and runs
// the non-default handlers, without going through the workflow. The input
// version must equal the data version, or be VersionLatest.
func (s *Store) PublishSync(ctx context.Context, in model.CommandInput, opts model.PublishOptions) (*model.Command, error) {
	base := key.DetailKey{PK: in.PK, SK: key.RemoveSortKeyVersion(in.SK)}
	d, err := s.data.GetItem(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("publish sync %s: %w", base, err)
	}
	dataVersion := key.VersionFirst
	if d != nil {
		dataVersion = d.Version
	}
	if in.Version != key.VersionLatest && in.Version != dataVersion {
		return nil, fmt.Errorf("publish sync %s: input %d, stored %d: %w", base, in.Version, dataVersion, ErrVersionMismatch)
	}

	now := s.now().UTC()
	ttl := in.TTL
	if ttl == nil {
		if ttl, err = s.calculateTTL(ctx, kv.TableData, in.PK, now); err != nil {
			return nil, fmt.Errorf("publish sync %s: %w", base, err)
		}
	}

	cmd := fromInput(in, base, dataVersion+1)
	cmd.TTL = ttl
	cmd.Source = opts.Source
	cmd.RequestID = opts.ResolvedRequestID()
	cmd.CreatedAt = now
	cmd.CreatedBy = opts.Invoke.UserID
	cmd.CreatedIP = opts.Invoke.SourceIP
	cmd.UpdatedAt = now
	cmd.UpdatedBy = opts.Invoke.UserID
	cmd.UpdatedIP = opts.Invoke.SourceIP
	if d != nil {
		if !d.UpdatedAt.IsZero() {
			cmd.UpdatedAt = d.UpdatedAt
		}
		if d.UpdatedBy != "" {
			cmd.UpdatedBy = d.UpdatedBy
		}
		if d.UpdatedIP != "" {
			cmd.UpdatedIP = d.UpdatedIP
		}
	}

	s.logger.Debug("publish sync", "pk", cmd.PK, "sk", cmd.SK, "version", cmd.Version)
	if _, err := s.data.Publish(ctx, cmd); err != nil {
		return nil, fmt.Errorf("publish sync %s: %w", base, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range s.handlers.NonDefault() {
		g.Go(func() error {
			if _, err := h.Up(gctx, cmd); err != nil {
				return fmt.Errorf("%s: %w", h.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("publish sync %s: %w", base, err)
	}
	return cmd, nil
}

// PublishPartialUpdateSync merges in onto the data projection and
// publishes it synchronously. in.Version must equal the data version.
func (s *Store) PublishPartialUpdateSync(ctx context.Context, in model.PartialInput, opts model.PublishOptions) (*model.Command, error) {
	base := key.DetailKey{PK: in.PK, SK: key.RemoveSortKeyVersion(in.SK)}
	d, err := s.data.GetItem(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("partial update sync %s: %w", base, err)
	}
	if d == nil {
		return nil, fmt.Errorf("partial update sync %s: %w", base, ErrNotFound)
	}
	if d.Version != in.Version {
		return nil, fmt.Errorf("partial update sync %s: input %d, stored %d: %w", base, in.Version, d.Version, ErrVersionMismatch)
	}

	full := model.ApplyPartialData(d, in)
	full.SK = base.SK
	return s.PublishSync(ctx, full, opts)
}

// UpdateTTL stamps the expiry on the version before the one at k, which
// has just been superseded. The first version has no predecessor.
func (s *Store) UpdateTTL(ctx context.Context, k key.DetailKey) (*model.Command, error) {
	version := key.SortKeyVersion(k.SK)
	if version <= key.VersionFirst+1 {
		return nil, nil
	}
	prevKey := k.Versioned(version - 1)

	item, err := s.store.Get(ctx, s.table, prevKey)
	if err != nil {
		return nil, fmt.Errorf("update ttl %s: %w", prevKey, err)
	}
	if item == nil {
		return nil, nil
	}

	ttl, err := s.calculateTTL(ctx, kv.TableCommand, k.PK, s.now())
	if err != nil {
		return nil, fmt.Errorf("update ttl %s: %w", prevKey, err)
	}
	if ttl == nil {
		delete(item, "ttl")
	} else {
		item["ttl"] = *ttl
	}

	s.logger.Debug("update ttl", "pk", prevKey.PK, "sk", prevKey.SK)
	if err := s.store.Put(ctx, s.table, item, kv.Always); err != nil {
		return nil, fmt.Errorf("update ttl %s: %w", prevKey, err)
	}
	return model.FromItem[model.Command](item)
}

// UpdateTaskToken stores the workflow callback token on the command at k.
func (s *Store) UpdateTaskToken(ctx context.Context, k key.DetailKey, token string) (*model.Command, error) {
	s.logger.Debug("save task token", "pk", k.PK, "sk", k.SK)
	item, err := s.store.Update(ctx, s.table, k, kv.Ops{Set: map[string]any{"taskToken": token}})
	if err != nil {
		return nil, fmt.Errorf("update task token %s: %w", k, err)
	}
	return model.FromItem[model.Command](item)
}

// GetNextCommand returns the version after the one at k, or nil.
func (s *Store) GetNextCommand(ctx context.Context, k key.DetailKey) (*model.Command, error) {
	next := k.Versioned(key.SortKeyVersion(k.SK) + 1)
	return s.get(ctx, next)
}

// ReSyncData replays every data projection through the non-default
// handlers.
func (s *Store) ReSyncData(ctx context.Context) (int, error) {
	handlers := s.handlers.NonDefault()
	if len(handlers) == 0 {
		s.logger.Debug("no data sync handlers")
		return 0, nil
	}

	var cursor *key.DetailKey
	synced := 0
	for {
		items, next, err := s.data.ListAll(ctx, cursor, kv.DefaultLimit)
		if err != nil {
			return synced, fmt.Errorf("resync: %w", err)
		}
		for _, d := range items {
			cmd := model.CommandFromData(d)
			for _, h := range handlers {
				if _, err := h.Up(ctx, cmd); err != nil {
					return synced, fmt.Errorf("resync %s via %s: %w", cmd.Key(), h.Name(), err)
				}
			}
			synced++
		}
		if next == nil {
			return synced, nil
		}
		cursor = next
	}
}

func (s *Store) get(ctx context.Context, k key.DetailKey) (*model.Command, error) {
	item, err := s.store.Get(ctx, s.table, k)
	if err != nil {
		return nil, err
	}
	return model.FromItem[model.Command](item)
}

func (s *Store) create(ctx context.Context, cmd *model.Command) error {
	item, err := model.ToItem(cmd)
	if err != nil {
		return err
	}
	err = s.store.Put(ctx, s.table, item, kv.NotExists)
	if errors.Is(err, kv.ErrConditionalCheckFailed) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func (s *Store) calculateTTL(ctx context.Context, typ kv.TableType, pk string, start time.Time) (*int64, error) {
	if s.ttl == nil {
		return nil, nil
	}
	return s.ttl.Calculate(ctx, typ, key.TenantCode(pk), start)
}

func fromInput(in model.CommandInput, base key.DetailKey, version int) *model.Command {
	return &model.Command{
		PK:         base.PK,
		SK:         key.AddSortKeyVersion(base.SK, version),
		ID:         in.ID,
		Code:       in.Code,
		Name:       in.Name,
		Version:    version,
		TenantCode: in.TenantCode,
		Type:       in.Type,
		IsDeleted:  in.IsDeleted,
		Seq:        in.Seq,
		Attributes: in.Attributes,
	}
}
