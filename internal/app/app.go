// Package app wires the stores, notifier, workflow engine and event bus
// from configuration and a module manifest.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/cmdsync/internal/blob"
	"github.com/roach88/cmdsync/internal/config"
	"github.com/roach88/cmdsync/internal/datasync"
	"github.com/roach88/cmdsync/internal/eventbus"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/kv/dynamo"
	"github.com/roach88/cmdsync/internal/kv/sqlkv"
	"github.com/roach88/cmdsync/internal/manifest"
	"github.com/roach88/cmdsync/internal/notify"
	"github.com/roach88/cmdsync/internal/orchestrator"
	"github.com/roach88/cmdsync/internal/stream"
	"github.com/roach88/cmdsync/internal/workflow"
)

// ErrUnknownModule is returned for a module the manifest does not declare.
var ErrUnknownModule = errors.New("unknown module")

// Options override parts of the wiring, mostly for deterministic runs.
type Options struct {
	Logger *slog.Logger
	// Notifier replaces the configured notify backend.
	Notifier notify.Publisher
	Now      func() time.Time
	NewID    func() string
}

// App is a fully wired process.
type App struct {
	Config   config.Config
	Manifest *manifest.Manifest
	Namer    kv.TableNamer
	Store    *kv.Adapter
	Notifier notify.Publisher
	Bus      *eventbus.Bus
	Router   *orchestrator.Router
	Engine   workflow.Engine
	// Local and Feed are set when the workflow runs in process.
	Local *workflow.Local
	Feed  *stream.Collector

	logger  *slog.Logger
	awsCfg  *aws.Config
	sqlKV   *sqlkv.Store
	sqlDB   *sql.DB
	dialect sqlkv.Dialect
	redis   *redis.Client
	closers []func() error
}

// New builds an App. Close releases its connections.
func New(ctx context.Context, cfg config.Config, m *manifest.Manifest, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env, appName := cfg.Env, cfg.AppName
	if m.Env != "" {
		env = m.Env
	}
	if m.App != "" {
		appName = m.App
	}

	a := &App{
		Config:   cfg,
		Manifest: m,
		Namer:    kv.NewTableNamer(env, appName),
		Bus:      eventbus.New(),
		logger:   logger,
	}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config

	if cfg.UsesAWS() {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWS.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWS.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.awsCfg = &awsCfg
	}

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}
	backend, err := a.backend()
	if err != nil {
		return err
	}

	if cfg.WorkflowBackend == config.WorkflowLocal {
		a.Feed = &stream.Collector{}
	}
	adapterCfg := kv.AdapterConfig{
		AttributeLimitSize: cfg.AttributeLimitSize,
		Now:                opts.Now,
		NewID:              opts.NewID,
		Logger:             a.logger,
	}
	if a.Feed != nil {
		adapterCfg.Feed = a.Feed
	}
	a.Store = kv.NewAdapter(backend, blobs, adapterCfg)

	a.Notifier = opts.Notifier
	if a.Notifier == nil {
		if a.Notifier, err = a.notifier(); err != nil {
			return err
		}
	}

	var resumer orchestrator.Resumer
	switch cfg.WorkflowBackend {
	case config.WorkflowLocal:
		a.Local = workflow.NewLocal(a.Bus, a.logger)
		a.Engine, resumer = a.Local, a.Local
	case config.WorkflowSFN:
		sfn := workflow.NewSFN(*a.awsCfg, cfg.SFNCommandARN, cfg.AWS.SFNEndpoint, a.logger)
		a.Engine, resumer = sfn, sfn
	}

	var modules []*orchestrator.Module
	for _, mod := range a.Manifest.Modules {
		handlers, err := a.handlers(ctx, mod)
		if err != nil {
			return fmt.Errorf("module %s: %w", mod.Name, err)
		}
		modules = append(modules, orchestrator.NewModule(a.Store, a.Namer, mod.Name, orchestrator.ModuleOptions{
			Handlers: handlers,
			Notifier: a.Notifier,
			Now:      opts.Now,
			Logger:   a.logger,
		}))
	}
	a.Router = orchestrator.NewRouter(a.Namer, modules...)

	orch := orchestrator.New(orchestrator.Config{
		Router:   a.Router,
		Store:    a.Store,
		Notifier: a.Notifier,
		Resumer:  resumer,
		Logger:   a.logger,
	})
	ingestor := stream.NewIngestor(a.Namer, a.Engine, a.logger)
	if opts.Now != nil {
		ingestor.WithClock(opts.Now)
	}
	a.Bus.Bind(orchestrator.EventType, orch.BusHandler())
	a.Bus.Bind(stream.BatchEventType, ingestor.BusHandler())
	return nil
}

func (a *App) blobStore(ctx context.Context) (blob.Store, error) {
	cfg := a.Config
	switch cfg.BlobBackend {
	case config.BlobS3:
		return blob.NewS3Store(*a.awsCfg, blob.S3Config{
			Bucket:    cfg.S3BucketName,
			Endpoint:  cfg.AWS.S3Endpoint,
			PathStyle: cfg.AWS.S3PathStyle,
		}), nil
	case config.BlobGCS:
		gcs, err := blob.NewGCSStore(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		return gcs, nil
	default:
		bucket := cfg.S3BucketName
		if bucket == "" {
			bucket = "local"
		}
		return blob.NewMemoryStore(bucket), nil
	}
}

func (a *App) backend() (kv.Backend, error) {
	cfg := a.Config
	if cfg.KVBackend == config.KVDynamo {
		return dynamo.New(*a.awsCfg, cfg.AWS.DynamoDBEndpoint), nil
	}
	return a.openSQL()
}

// openSQL opens the configured SQL database once. It backs the SQL KV
// backend and the SQL mirror handlers.
func (a *App) openSQL() (*sqlkv.Store, error) {
	if a.sqlDB != nil {
		return a.sqlKV, nil
	}
	dialect, ok := sqlkv.DialectByName(a.Config.SQLDriver)
	if !ok {
		return nil, fmt.Errorf("unknown SQL_DRIVER %q", a.Config.SQLDriver)
	}
	st, err := sqlkv.OpenDSN(dialect, a.Config.SQLDSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	a.sqlKV, a.sqlDB, a.dialect = st, st.DB(), dialect
	return st, nil
}

func (a *App) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
		a.closers = append(a.closers, a.redis.Close)
	}
	return a.redis
}

func (a *App) notifier() (notify.Publisher, error) {
	cfg := a.Config
	switch cfg.NotifyBackend {
	case config.NotifySNS:
		return notify.NewSNSPublisher(*a.awsCfg, cfg.SNSTopicARN, cfg.AWS.SNSEndpoint), nil
	case config.NotifyRedis:
		return notify.NewRedisPublisher(a.redisClient(), cfg.RedisChannel), nil
	default:
		return notify.LogPublisher{Logger: a.logger}, nil
	}
}

func (a *App) handlers(ctx context.Context, mod manifest.Module) ([]datasync.Handler, error) {
	var out []datasync.Handler
	for _, h := range mod.Handlers {
		switch h.Kind {
		case manifest.KindRedis:
			prefix := h.Table
			if prefix == "" {
				prefix = a.Namer.TableName(mod.Name, kv.TableData)
			}
			out = append(out, datasync.NewRedisCacheHandler(a.redisClient(), prefix))
		case manifest.KindSQL:
			if _, err := a.openSQL(); err != nil {
				return nil, err
			}
			mirror := datasync.NewSQLMirrorHandler(a.sqlDB, a.dialect, h.Table)
			if err := mirror.EnsureSchema(ctx); err != nil {
				return nil, err
			}
			out = append(out, mirror)
		default:
			return nil, fmt.Errorf("unknown handler kind %q", h.Kind)
		}
	}
	return out, nil
}

// Module returns the stores of a declared module.
func (a *App) Module(name string) (*orchestrator.Module, error) {
	m, ok := a.Router.Module(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return m, nil
}

// Ingest starts workflows for change-feed records.
func (a *App) Ingest(ctx context.Context, records []stream.CommandEvent) ([]string, error) {
	res, err := a.Bus.Execute(ctx, &stream.Batch{Records: records})
	if err != nil {
		return nil, err
	}
	ids, _ := res[0].([]string)
	return ids, nil
}

// HandleState runs one workflow state.
func (a *App) HandleState(ctx context.Context, ev *orchestrator.StateEvent) (any, error) {
	res, err := a.Bus.Execute(ctx, ev)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// Flush delivers the writes collected since the last call to the local
// workflow and runs it until idle. It returns the started execution ids.
// With a remote workflow the table stream does this and Flush is a no-op.
func (a *App) Flush(ctx context.Context) ([]string, error) {
	if a.Local == nil {
		return nil, nil
	}
	var started []string
	for {
		records, err := a.Feed.Take()
		if err != nil {
			return started, err
		}
		if len(records) == 0 {
			return started, nil
		}
		ids, err := a.Ingest(ctx, records)
		started = append(started, ids...)
		if err != nil {
			return started, err
		}
		if err := a.Local.Drain(ctx); err != nil {
			return started, err
		}
	}
}

// Follow ingests batches as they arrive until the channel is closed or
// ctx is done. With a local workflow the runner works through executions
// concurrently; once batches is closed the runner finishes the queued
// executions and stops accepting new ones. It returns the started
// execution ids.
func (a *App) Follow(ctx context.Context, batches <-chan []stream.CommandEvent) ([]string, error) {
	var started []string
	consume := func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case records, ok := <-batches:
				if !ok {
					return nil
				}
				ids, err := a.Ingest(ctx, records)
				started = append(started, ids...)
				if err != nil {
					return err
				}
				a.logger.Debug("batch ingested", "records", len(records), "started", len(ids))
			}
		}
	}

	if a.Local == nil {
		err := consume(ctx)
		return started, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Local.Run(gctx) })
	g.Go(func() error {
		defer a.Local.Stop()
		return consume(gctx)
	})
	err := g.Wait()
	return started, err
}

// Redrive restarts failed executions. With no ids every failed local
// execution is redriven.
func (a *App) Redrive(ctx context.Context, ids ...string) ([]string, error) {
	if len(ids) == 0 {
		if a.Local == nil {
			return nil, errors.New("redrive: execution ids are required for a remote workflow")
		}
		redriven, err := a.Local.RedriveFailed(ctx)
		if err != nil {
			return redriven, err
		}
		return redriven, a.Local.Drain(ctx)
	}

	r, ok := a.Engine.(workflow.Redriver)
	if !ok {
		return nil, errors.New("redrive: workflow backend cannot redrive")
	}
	for _, id := range ids {
		if err := r.Redrive(ctx, id); err != nil {
			return nil, err
		}
	}
	if a.Local != nil {
		return ids, a.Local.Drain(ctx)
	}
	return ids, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
