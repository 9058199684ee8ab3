package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cmdsync/internal/command"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/model"
	"github.com/roach88/cmdsync/internal/orchestrator"
	"github.com/roach88/cmdsync/internal/workflow"
)

// Publish modes.
const (
	ModeFull        = "full"
	ModePartial     = "partial"
	ModeSync        = "sync"
	ModePartialSync = "partial-sync"
	ModeDuplicate   = "duplicate"
)

var validModes = []string{ModeFull, ModePartial, ModeSync, ModePartialSync, ModeDuplicate}

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	Input     string
	Mode      string
	Source    string
	RequestID string
	NoFlush   bool
}

// PublishResult is the outcome of one publish.
type PublishResult struct {
	Published  bool               `json:"published"`
	Command    *model.Command     `json:"command,omitempty"`
	Executions []ExecutionSummary `json:"executions,omitempty"`
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{}

	cmd := &cobra.Command{
		Use:   "publish <module>",
		Short: "Publish a command to a module",
		Long: `Publish a command read from --input (JSON or YAML, "-" for stdin).

Modes:
  full          write a new version from a complete record
  partial       merge the given fields into the latest version
  sync          write and project immediately, without the workflow
  partial-sync  partial, projected immediately
  duplicate     re-publish the latest version of pk/sk unchanged

With the local workflow backend, pending executions run before the
command returns unless --no-flush is set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", "input file, - for stdin")
	cmd.Flags().StringVar(&opts.Mode, "mode", ModeFull, "publish mode (full|partial|sync|partial-sync|duplicate)")
	cmd.Flags().StringVar(&opts.Source, "source", "cli", "source label recorded on the command")
	cmd.Flags().StringVar(&opts.RequestID, "request-id", "", "request id recorded on the command")
	cmd.Flags().BoolVar(&opts.NoFlush, "no-flush", false, "leave workflow executions pending")

	return cmd
}

func runPublish(cmd *cobra.Command, rootOpts *RootOptions, opts *PublishOptions, moduleName string) error {
	out := rootOpts.formatter(cmd)

	if !slices.Contains(validModes, opts.Mode) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be one of %v", opts.Mode, validModes))
	}

	raw, err := readInput(cmd, opts.Input)
	if err != nil {
		return err
	}
	var input map[string]any
	if err := yaml.Unmarshal(raw, &input); err != nil {
		return WrapExitError(ExitCommandError, "invalid input", err)
	}
	if input == nil {
		return NewExitError(ExitCommandError, "input is empty")
	}

	a, err := openApp(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer closeApp(rootOpts, a)

	mod, err := module(a, moduleName)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	cmdOpts := model.PublishOptions{Source: opts.Source, RequestID: opts.RequestID}
	out.VerboseLog("Publishing to %s (%s)", moduleName, opts.Mode)

	c, err := publish(cmd, mod, opts.Mode, input, cmdOpts)
	if err != nil {
		if errors.Is(err, command.ErrConflict) || errors.Is(err, command.ErrVersionMismatch) || errors.Is(err, command.ErrNotFound) {
			out.Error("PUBLISH_REJECTED", err.Error(), nil)
			return WrapExitError(ExitFailure, "publish rejected", err)
		}
		return WrapExitError(ExitCommandError, "publish failed", err)
	}

	res := PublishResult{Published: c != nil, Command: c}
	if a.Local != nil && !opts.NoFlush {
		ids, err := a.Flush(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "workflow failed", err)
		}
		res.Executions = summarize(a, ids)
	}

	if rootOpts.Format == FormatText {
		if c == nil {
			out.Success("command unchanged, nothing published")
		} else {
			out.Success(fmt.Sprintf("✓ published %s %s (version %d)", c.PK, c.SK, c.Version))
		}
		for _, e := range res.Executions {
			out.Success(formatExecution(e))
		}
	} else if err := out.Success(res); err != nil {
		return err
	}
	return failedExecutions(res.Executions)
}

func publish(cmd *cobra.Command, mod *orchestrator.Module, mode string, input map[string]any, opts model.PublishOptions) (*model.Command, error) {
	ctx := commandContext(cmd)
	switch mode {
	case ModePartial, ModePartialSync:
		in, err := model.FromItem[model.PartialInput](kv.Item(input))
		if err != nil {
			return nil, err
		}
		if mode == ModePartialSync {
			return mod.Commands.PublishPartialUpdateSync(ctx, *in, opts)
		}
		return mod.Commands.PublishPartialUpdate(ctx, *in, opts)
	case ModeDuplicate:
		pk, _ := input["pk"].(string)
		sk, _ := input["sk"].(string)
		if pk == "" || sk == "" {
			return nil, NewExitError(ExitCommandError, "duplicate needs pk and sk")
		}
		return mod.Commands.Duplicate(ctx, key.DetailKey{PK: pk, SK: sk}, opts)
	}

	in, err := model.FromItem[model.CommandInput](kv.Item(input))
	if err != nil {
		return nil, err
	}
	if mode == ModeSync {
		return mod.Commands.PublishSync(ctx, *in, opts)
	}
	return mod.Commands.Publish(ctx, *in, opts)
}

func formatExecution(e ExecutionSummary) string {
	mark := "✓"
	if e.Status == string(workflow.StatusFailed) {
		mark = "✗"
	}
	s := fmt.Sprintf("%s execution %s: %s", mark, e.ID, e.Status)
	if e.State != "" {
		s += " at " + e.State
	}
	if e.Cause != "" {
		s += " (" + e.Cause + ")"
	}
	return s
}
