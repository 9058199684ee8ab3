package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/cmdsync/internal/app"
	"github.com/roach88/cmdsync/internal/config"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/manifest"
	"github.com/roach88/cmdsync/internal/model"
	"github.com/roach88/cmdsync/internal/notify"
	"github.com/roach88/cmdsync/internal/testutil"
)

// scenarioSource labels commands written by scenarios.
const scenarioSource = "harness"

// Harness runs the steps of one scenario against a fresh deployment.
type Harness struct {
	app    *app.App
	result *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario gets its own SQLite database, a frozen-step clock and
// sequential blob ids, so traces are identical between runs. Step and
// assertion failures are reported in the result; the error is reserved for
// scenarios that cannot be set up.
func Run(s *Scenario) (*Result, error) {
	return RunContext(context.Background(), s)
}

// RunContext is Run with a caller context.
func RunContext(ctx context.Context, s *Scenario) (*Result, error) {
	m, err := scenarioManifest(s)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "cmdsync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	vars := map[string]string{
		"NODE_ENV": "test",
		"SQL_DSN":  filepath.Join(dir, "kv.db"),
	}
	if s.AttributeLimit > 0 {
		vars["ATTRIBUTE_LIMIT_SIZE"] = strconv.Itoa(s.AttributeLimit)
	}
	cfg, err := config.LoadFrom(vars)
	if err != nil {
		return nil, err
	}

	recorder := &notify.Recorder{}
	clock := testutil.NewDeterministicClock(testutil.DefaultStart, time.Second)
	a, err := app.New(ctx, cfg, m, app.Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: recorder,
		Now:      clock.Now,
		NewID:    testutil.NewSequenceIDs("blob").Next,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start scenario %s: %w", s.Name, err)
	}
	defer a.Close()

	h := &Harness{app: a, result: NewResult()}
	for i, step := range s.Steps {
		h.runStep(ctx, i, step)
	}

	actx := &AssertionContext{Ctx: ctx, App: a, Recorder: recorder}
	for _, msg := range EvaluateAssertions(actx, s.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// scenarioManifest parses the scenario's manifest, or declares the modules
// its steps use.
func scenarioManifest(s *Scenario) (*manifest.Manifest, error) {
	if s.Manifest != "" {
		return manifest.Parse(s.Name+".cue", s.Manifest)
	}
	m := &manifest.Manifest{App: "scenario"}
	var names []string
	for _, step := range s.Steps {
		if step.Module != "" && !slices.Contains(names, step.Module) {
			names = append(names, step.Module)
		}
	}
	for _, a := range s.Assertions {
		if a.Module != "" && !slices.Contains(names, a.Module) {
			names = append(names, a.Module)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		m.Modules = append(m.Modules, manifest.Module{Name: name})
	}
	return m, nil
}

func (h *Harness) runStep(ctx context.Context, index int, step Step) {
	ev := TraceEvent{Action: step.Action, Module: step.Module}
	if pk, ok := step.Input["pk"].(string); ok {
		ev.PK = pk
	}

	res, err := h.execute(ctx, step)
	switch {
	case err != nil && step.ExpectError != "":
		if !strings.Contains(err.Error(), step.ExpectError) {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: error %q does not contain %q", index, step.Action, err, step.ExpectError))
		}
		ev.Error = step.ExpectError
	case err != nil:
		h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", index, step.Action, err))
		ev.Error = err.Error()
	case step.ExpectError != "":
		h.result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q", index, step.Action, step.ExpectError))
		ev.Result = res
	default:
		ev.Result = res
	}
	h.result.addTrace(ev)
}

func (h *Harness) execute(ctx context.Context, step Step) (any, error) {
	opts := model.PublishOptions{Source: scenarioSource}

	switch step.Action {
	case ActionPublish, ActionSync:
		in, err := model.FromItem[model.CommandInput](kv.Item(step.Input))
		if err != nil {
			return nil, err
		}
		mod, err := h.app.Module(step.Module)
		if err != nil {
			return nil, err
		}
		var cmd *model.Command
		if step.Action == ActionSync {
			cmd, err = mod.Commands.PublishSync(ctx, *in, opts)
		} else {
			cmd, err = mod.Commands.Publish(ctx, *in, opts)
		}
		if err != nil {
			return nil, err
		}
		return commandResult(cmd), nil

	case ActionPartial:
		in, err := model.FromItem[model.PartialInput](kv.Item(step.Input))
		if err != nil {
			return nil, err
		}
		mod, err := h.app.Module(step.Module)
		if err != nil {
			return nil, err
		}
		cmd, err := mod.Commands.PublishPartialUpdate(ctx, *in, opts)
		if err != nil {
			return nil, err
		}
		return commandResult(cmd), nil

	case ActionDuplicate:
		mod, err := h.app.Module(step.Module)
		if err != nil {
			return nil, err
		}
		k, err := inputKey(step.Input)
		if err != nil {
			return nil, err
		}
		cmd, err := mod.Commands.Duplicate(ctx, k, opts)
		if err != nil {
			return nil, err
		}
		return commandResult(cmd), nil

	case ActionSeed:
		mod, err := h.app.Module(step.Module)
		if err != nil {
			return nil, err
		}
		cmd, err := model.FromItem[model.Command](kv.Item(step.Input))
		if err != nil {
			return nil, err
		}
		d, err := mod.Commands.Data().Publish(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return map[string]any{"version": d.Version}, nil

	case ActionDeliver:
		return h.deliver(ctx, step.Reverse)

	case ActionRedrive:
		ids, err := h.app.Redrive(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"redriven": len(ids), "executions": h.executions()}, nil

	case ActionResync:
		mod, err := h.app.Module(step.Module)
		if err != nil {
			return nil, err
		}
		n, err := mod.Commands.ReSyncData(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"synced": n}, nil
	}
	return nil, fmt.Errorf("unknown action %q", step.Action)
}

// deliver hands the pending stream records to the workflow and runs it
// until idle.
func (h *Harness) deliver(ctx context.Context, reverse bool) (any, error) {
	records, err := h.app.Feed.Take()
	if err != nil {
		return nil, err
	}
	if reverse {
		slices.Reverse(records)
	}
	ids, err := h.app.Ingest(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := h.app.Local.Drain(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"started": len(ids), "executions": h.executions()}, nil
}

func (h *Harness) executions() []ExecutionTrace {
	execs := h.app.Local.Executions()
	out := make([]ExecutionTrace, len(execs))
	for i, exec := range execs {
		out[i] = ExecutionTrace{State: exec.State, Status: string(exec.Status)}
	}
	return out
}

// commandResult summarizes a write. A nil command is a write skipped
// because nothing changed.
func commandResult(cmd *model.Command) map[string]any {
	if cmd == nil {
		return map[string]any{"skipped": true}
	}
	return map[string]any{"sk": cmd.SK, "version": cmd.Version}
}

func inputKey(in map[string]any) (key.DetailKey, error) {
	pk, _ := in["pk"].(string)
	sk, _ := in["sk"].(string)
	if pk == "" || sk == "" {
		return key.DetailKey{}, fmt.Errorf("input needs pk and sk")
	}
	return key.DetailKey{PK: pk, SK: sk}, nil
}
