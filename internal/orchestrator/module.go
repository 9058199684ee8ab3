package orchestrator

import (
	"log/slog"
	"time"

	"github.com/roach88/cmdsync/internal/command"
	"github.com/roach88/cmdsync/internal/data"
	"github.com/roach88/cmdsync/internal/datasync"
	"github.com/roach88/cmdsync/internal/history"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/notify"
	"github.com/roach88/cmdsync/internal/ttl"
)

// ModuleOptions configures NewModule.
type ModuleOptions struct {
	// Handlers run after the default data projection, in order.
	Handlers []datasync.Handler
	Notifier notify.Publisher
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewModule wires the command, data and history stores of one module on
// top of store. The default data handler is always registered first.
func NewModule(store *kv.Adapter, namer kv.TableNamer, name string, opts ModuleOptions) *Module {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", name)

	dataStore := data.New(store, namer.TableName(name, kv.TableData), logger)
	calc := ttl.NewCalculator(store, namer, name, logger)

	handlers := datasync.NewRegistry(datasync.NewDefaultHandler(dataStore))
	for _, h := range opts.Handlers {
		handlers.Register(h)
	}

	return &Module{
		Name: name,
		Commands: command.New(store, command.Config{
			Table:    namer.TableName(name, kv.TableCommand),
			Data:     dataStore,
			Handlers: handlers,
			TTL:      calc,
			Notifier: opts.Notifier,
			Now:      opts.Now,
			Logger:   logger,
		}),
		History: history.New(store, namer.TableName(name, kv.TableHistory), dataStore, history.Config{
			TTL:    calc,
			Now:    opts.Now,
			Logger: logger,
		}),
	}
}
