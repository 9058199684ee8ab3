package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cmdsync/internal/app"
	"github.com/roach88/cmdsync/internal/config"
	"github.com/roach88/cmdsync/internal/manifest"
	"github.com/roach88/cmdsync/internal/orchestrator"
	"github.com/roach88/cmdsync/internal/workflow"
)

// openApp loads configuration and the manifest and wires the backends.
// The caller closes the App.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	a, err := app.New(commandContext(cmd), cfg, m, app.Options{Logger: opts.logger})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start", err)
	}
	return a, nil
}

func closeApp(opts *RootOptions, a *app.App) {
	if err := a.Close(); err != nil {
		opts.logger.Error("error closing backends", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// module resolves a module argument, mapping unknown names to a command
// error.
func module(a *app.App, name string) (*orchestrator.Module, error) {
	mod, err := a.Module(name)
	if err != nil {
		if errors.Is(err, app.ErrUnknownModule) {
			return nil, WrapExitError(ExitCommandError, "unknown module", err)
		}
		return nil, err
	}
	return mod, nil
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", path), err)
	}
	return raw, nil
}

// ExecutionSummary is the printable form of a local execution.
type ExecutionSummary struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
	Cause    string `json:"cause,omitempty"`
	Redrives int    `json:"redrives,omitempty"`
}

// summarize reports the executions named by ids. Remote executions are
// reported by id only.
func summarize(a *app.App, ids []string) []ExecutionSummary {
	out := make([]ExecutionSummary, 0, len(ids))
	for _, id := range ids {
		s := ExecutionSummary{ID: id, Status: "STARTED"}
		if a.Local != nil {
			if exec, ok := a.Local.Execution(id); ok {
				s = ExecutionSummary{
					ID:       id,
					Status:   string(exec.Status),
					State:    exec.State,
					Error:    exec.Error,
					Cause:    exec.Cause,
					Redrives: exec.Redrives,
				}
			}
		}
		out = append(out, s)
	}
	return out
}

// failedExecutions maps failed local executions to ExitFailure.
func failedExecutions(execs []ExecutionSummary) error {
	n := 0
	for _, e := range execs {
		if e.Status == string(workflow.StatusFailed) {
			n++
		}
	}
	if n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d execution(s) failed", n))
	}
	return nil
}
