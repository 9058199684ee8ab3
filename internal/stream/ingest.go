package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cmdsync/internal/eventbus"
	"github.com/roach88/cmdsync/internal/kv"
)

// Starter starts a workflow execution for a record.
type Starter interface {
	StartExecution(ctx context.Context, name string, ev *CommandEvent) (string, error)
}

// Ingestor starts one workflow per inserted command.
type Ingestor struct {
	namer   kv.TableNamer
	starter Starter
	now     func() time.Time
	logger  *slog.Logger
}

func NewIngestor(namer kv.TableNamer, starter Starter, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{namer: namer, starter: starter, now: time.Now, logger: logger}
}

// WithClock replaces the clock used for execution names.
func (i *Ingestor) WithClock(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

// Ingest starts executions for the INSERT records of command tables and
// returns their ids. Other records are skipped.
func (i *Ingestor) Ingest(ctx context.Context, events []CommandEvent) ([]string, error) {
	var started []string
	for idx := range events {
		ev := &events[idx]
		table := ev.TableName()
		module, ok := i.namer.ModuleName(table)
		if !ok || ev.EventName != EventInsert || i.namer.TableType(table) != kv.TableCommand {
			i.logger.Debug("skip stream record", "event", ev.EventName, "table", table)
			continue
		}

		k, err := ev.Key()
		if err != nil {
			return started, fmt.Errorf("ingest %s: %w", ev.EventID, err)
		}
		name := ExecutionName(module, k, i.now())

		id, err := i.starter.StartExecution(ctx, name, ev)
		if err != nil {
			return started, fmt.Errorf("ingest %s: start %s: %w", k, name, err)
		}
		i.logger.Debug("execution started", "name", name, "id", id)
		started = append(started, id)
	}
	return started, nil
}

// BatchEventType is the event bus type of Batch.
const BatchEventType = "stream.command-inserted"

// Batch is a decoded set of change-feed records.
type Batch struct {
	Records []CommandEvent
}

func (*Batch) EventType() string { return BatchEventType }

// BusHandler adapts the ingestor to the event bus under BatchEventType.
func (i *Ingestor) BusHandler() eventbus.Handler {
	return eventbus.HandlerFunc(func(ctx context.Context, ev eventbus.Event) (any, error) {
		b, ok := ev.(*Batch)
		if !ok {
			return nil, fmt.Errorf("ingest: unexpected event %T", ev)
		}
		return i.Ingest(ctx, b.Records)
	})
}
