package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/cmdsync/internal/eventbus"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/model"
	"github.com/roach88/cmdsync/internal/notify"
)

const tracerName = "github.com/roach88/cmdsync/internal/orchestrator"

// Resumer releases a workflow execution paused on a task token.
type Resumer interface {
	SendTaskSuccess(ctx context.Context, token string, output any) error
}

// Config wires an Orchestrator.
type Config struct {
	Router   *Router
	Store    *kv.Adapter
	Notifier notify.Publisher
	Resumer  Resumer
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
	Logger *slog.Logger
}

// Orchestrator runs single workflow states.
type Orchestrator struct {
	router   *Router
	store    *kv.Adapter
	notifier notify.Publisher
	resumer  Resumer
	tracer   trace.Tracer
	logger   *slog.Logger
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		router:   cfg.Router,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		resumer:  cfg.Resumer,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.notifier == nil {
		o.notifier = notify.LogPublisher{Logger: o.logger}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// invocation is one decoded state call.
type invocation struct {
	ev     *StateEvent
	module *Module
	key    key.DetailKey
	cmd    *model.Command
}

// Handle runs the state named by ev. The command's status is set to
// STARTED before and FINISHED after. A failing state sets FAILED, raises an
// alarm and returns the error.
func (o *Orchestrator) Handle(ctx context.Context, ev *StateEvent) (any, error) {
	if err := ev.validate(); err != nil {
		return nil, err
	}
	inv, err := o.decode(ev)
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "cmdsync.state."+ev.StateName,
		trace.WithAttributes(
			attribute.String("cmdsync.state", ev.StateName),
			attribute.String("cmdsync.execution_id", ev.ExecutionID),
			attribute.String("cmdsync.module", inv.module.Name),
			attribute.String("cmdsync.pk", inv.key.PK),
			attribute.String("cmdsync.sk", inv.key.SK),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	o.logger.Debug("state", "state", ev.StateName, "pk", inv.key.PK, "sk", inv.key.SK)
	commands := inv.module.Commands
	if err := commands.UpdateStatus(ctx, inv.key, CommandStatus(ev.StateName, StatusStarted), inv.cmd.RequestID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out, err := o.run(ctx, inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if serr := commands.UpdateStatus(ctx, inv.key, CommandStatus(ev.StateName, StatusFailed), inv.cmd.RequestID); serr != nil {
			o.logger.Error("mark failed", "state", ev.StateName, "pk", inv.key.PK, "sk", inv.key.SK, "error", serr)
		}
		o.alarm(ctx, inv, notify.AlarmContent{
			StateName: ev.StateName,
			Error:     err.Error(),
			Stack:     string(debug.Stack()),
		})
		return nil, err
	}

	if err := commands.UpdateStatus(ctx, inv.key, CommandStatus(ev.StateName, StatusFinished), inv.cmd.RequestID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (o *Orchestrator) decode(ev *StateEvent) (*invocation, error) {
	mod, err := o.router.Resolve(ev.CommandEvent.TableName())
	if err != nil {
		return nil, err
	}
	k, err := ev.CommandEvent.Key()
	if err != nil {
		return nil, err
	}
	cmd, err := ev.CommandEvent.Command()
	if err != nil {
		return nil, err
	}
	return &invocation{ev: ev, module: mod, key: k, cmd: cmd}, nil
}

func (o *Orchestrator) run(ctx context.Context, inv *invocation) (any, error) {
	switch inv.ev.StateName {
	case StateCheckVersion:
		return o.checkVersion(ctx, inv)
	case StateWaitPrevCommand:
		return o.waitPrevCommand(ctx, inv)
	case StateSetTTLCommand:
		return o.setTTLCommand(ctx, inv)
	case StateHistoryCopy:
		return o.historyCopy(ctx, inv)
	case StateTransformData:
		return o.transformData(inv), nil
	case StateSyncData:
		return o.syncData(ctx, inv)
	case StateFinish:
		return nil, o.finish(ctx, inv)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownState, inv.ev.StateName)
}

// alarm sends an sfn-alarm. A failed send is logged only; the state's own
// outcome wins.
func (o *Orchestrator) alarm(ctx context.Context, inv *invocation, content notify.AlarmContent) {
	err := o.notifier.Publish(ctx, notify.Notification{
		Action:     notify.ActionSfnAlarm,
		ID:         inv.key.PK + key.KeySeparator + inv.key.SK,
		Table:      inv.module.Commands.TableName(),
		PK:         inv.key.PK,
		SK:         inv.key.SK,
		TenantCode: inv.cmd.TenantCode,
		Content:    content,
	})
	if err != nil {
		o.logger.Error("alarm", "state", content.StateName, "pk", inv.key.PK, "sk", inv.key.SK, "error", err)
	}
}

func (o *Orchestrator) checkVersion(ctx context.Context, inv *invocation) (*Output, error) {
	base := inv.key.Base()
	d, err := inv.module.Commands.Data().GetItem(ctx, base)
	if err != nil {
		return nil, err
	}
	dataVersion := key.VersionFirst
	if d != nil {
		dataVersion = d.Version
	}
	next := dataVersion + 1
	version := inv.cmd.Version

	switch {
	case version == next:
		return &Output{Result: ResultProceed}, nil
	case version > next:
		out := &Output{
			Result: ResultVersionSkip,
			Error:  ErrVersionSkip.Error(),
			Cause:  fmt.Sprintf("next version must be %d but got %d", next, version),
		}
		o.logger.Warn("version skip", "pk", base.PK, "sk", base.SK, "next", next, "got", version)
		o.alarm(ctx, inv, notify.AlarmContent{
			StateName: StateCheckVersion,
			Error:     out.Error,
			Cause:     out.Cause,
		})
		return out, nil
	}

	prev, err := inv.module.Commands.GetItem(ctx, base.Versioned(version-1))
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return &Output{Result: ResultProceed}, nil
	}
	return &Output{Result: ResultWait}, nil
}

func (o *Orchestrator) waitPrevCommand(ctx context.Context, inv *invocation) (*Output, error) {
	if _, err := inv.module.Commands.UpdateTaskToken(ctx, inv.key, inv.ev.TaskToken); err != nil {
		return nil, err
	}
	return &Output{Result: map[string]any{"token": inv.ev.TaskToken}}, nil
}

func (o *Orchestrator) setTTLCommand(ctx context.Context, inv *invocation) (*Output, error) {
	if _, err := inv.module.Commands.UpdateTTL(ctx, inv.key); err != nil {
		return nil, err
	}
	return &Output{Result: "ok"}, nil
}

func (o *Orchestrator) historyCopy(ctx context.Context, inv *invocation) (*Output, error) {
	if inv.module.History != nil {
		if _, err := inv.module.History.Publish(ctx, inv.key.Base()); err != nil {
			return nil, err
		}
	}
	return &Output{Result: "ok"}, nil
}

// transformData lists one sync_data input per registered handler, in
// registration order.
func (o *Orchestrator) transformData(inv *invocation) []Output {
	names := inv.module.Commands.Handlers().Names()
	out := make([]Output, len(names))
	for i, name := range names {
		out[i] = Output{PrevStateName: inv.ev.StateName, Result: name}
	}
	return out
}

func (o *Orchestrator) syncData(ctx context.Context, inv *invocation) (any, error) {
	name := inv.ev.Input.ResultString()
	if name == "" {
		return nil, ErrSyncHandlerMissing
	}
	h, ok := inv.module.Commands.Handlers().Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSyncHandlerUnresolved, name)
	}

	item, err := inv.ev.CommandEvent.Item()
	if err != nil {
		return nil, err
	}
	if err := o.store.ResolveAttributes(ctx, item); err != nil {
		return nil, err
	}
	cmd, err := model.FromItem[model.Command](item)
	if err != nil {
		return nil, err
	}
	return h.Up(ctx, cmd)
}

// finish resumes the execution of the next version when it is parked in
// wait_prev_command.
func (o *Orchestrator) finish(ctx context.Context, inv *invocation) error {
	next, err := inv.module.Commands.GetNextCommand(ctx, inv.key)
	if err != nil {
		return err
	}
	if next == nil || next.TaskToken == "" {
		return nil
	}
	if o.resumer == nil {
		return errors.New("finish: next command is waiting but no resumer is set")
	}
	o.logger.Debug("resume next", "pk", next.PK, "sk", next.SK)
	return o.resumer.SendTaskSuccess(ctx, next.TaskToken, &Output{PrevStateName: StateFinish, Result: "ok"})
}

// BusHandler adapts the orchestrator to the event bus under EventType.
func (o *Orchestrator) BusHandler() eventbus.Handler {
	return eventbus.HandlerFunc(func(ctx context.Context, ev eventbus.Event) (any, error) {
		se, ok := ev.(*StateEvent)
		if !ok {
			return nil, fmt.Errorf("orchestrator: unexpected event %T", ev)
		}
		return o.Handle(ctx, se)
	})
}
