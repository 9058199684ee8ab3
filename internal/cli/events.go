package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cmdsync/internal/stream"
	"github.com/roach88/cmdsync/internal/workflow"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	Follow bool
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Start workflows for table stream records",
		Long: `Read DynamoDB stream records (a single record or {"Records": [...]},
"-" for stdin) and start one workflow execution per command insert.
Other records are skipped. With the local workflow backend the
executions run before the command returns.

With --follow the input is one batch per line and each batch is ingested
as soon as it is read, until end of input or interrupt.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Follow {
				return runFollow(cmd, rootOpts, args[0])
			}

			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			records, err := stream.DecodeRecords(raw)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid stream records", err)
			}

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(rootOpts, a)

			ctx := commandContext(cmd)
			ids, err := a.Ingest(ctx, records)
			if err != nil {
				return WrapExitError(ExitCommandError, "ingest failed", err)
			}
			if a.Local != nil {
				if err := a.Local.Drain(ctx); err != nil {
					return WrapExitError(ExitCommandError, "workflow failed", err)
				}
			}
			return reportExecutions(cmd, rootOpts, fmt.Sprintf("%d of %d record(s) started a workflow", len(ids), len(records)), summarize(a, ids))
		},
	}

	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "ingest newline-delimited batches as they arrive")

	return cmd
}

// maxBatchLine bounds one line of --follow input.
const maxBatchLine = 4 << 20

func runFollow(cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", path), err)
		}
		defer f.Close()
		r = f
	}

	a, err := openApp(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer closeApp(rootOpts, a)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	var (
		lines   int
		skipped int
		readErr error
	)
	batches := make(chan []stream.CommandEvent)
	go func() {
		defer close(batches)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxBatchLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			lines++
			records, err := stream.DecodeRecords(line)
			if err != nil {
				skipped++
				rootOpts.logger.Warn("skipping invalid batch", "line", lines, "error", err)
				continue
			}
			select {
			case batches <- records:
			case <-ctx.Done():
				return
			}
		}
		readErr = scanner.Err()
	}()

	ids, err := a.Follow(ctx, batches)
	if errors.Is(err, context.Canceled) {
		return reportExecutions(cmd, rootOpts, fmt.Sprintf("interrupted, %d workflow(s) started", len(ids)), summarize(a, ids))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "ingest failed", err)
	}
	// Follow returned nil, so the reader has closed batches.
	if readErr != nil {
		return WrapExitError(ExitCommandError, "cannot read batches", readErr)
	}
	msg := fmt.Sprintf("%d batch(es) read, %d skipped, %d workflow(s) started", lines, skipped, len(ids))
	return reportExecutions(cmd, rootOpts, msg, summarize(a, ids))
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <file>",
		Short: "Run one workflow state",
		Long: `Run the state named in a Step Functions task payload ("-" for stdin)
and print its output. This is the entry point of the remote workflow's
task states.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			ev, err := workflow.DecodeSFNPayload(raw)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid state payload", err)
			}

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(rootOpts, a)

			out, err := a.HandleState(commandContext(cmd), ev)
			if err != nil {
				rootOpts.formatter(cmd).Error("STATE_FAILED", err.Error(), map[string]string{
					"state":       ev.StateName,
					"executionId": ev.ExecutionID,
				})
				return WrapExitError(ExitFailure, fmt.Sprintf("state %s failed", ev.StateName), err)
			}
			return rootOpts.formatter(cmd).Success(out)
		},
	}
	return cmd
}

// NewRedriveCommand creates the redrive command.
func NewRedriveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redrive [execution-id...]",
		Short: "Restart failed workflow executions",
		Long: `Restart failed executions from the state that failed. Without ids every
failed local execution is redriven; the remote workflow needs ids.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(rootOpts, a)

			ids, err := a.Redrive(commandContext(cmd), args...)
			if err != nil {
				return WrapExitError(ExitCommandError, "redrive failed", err)
			}
			return reportExecutions(cmd, rootOpts, fmt.Sprintf("%d execution(s) redriven", len(ids)), summarize(a, ids))
		},
	}
	return cmd
}

// NewResyncCommand creates the resync command.
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync <module>",
		Short: "Re-run the non-default handlers over every projection",
		Long: `Feed every record of the module's data table to its registered
handlers again, for example after adding a handler to the manifest.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(rootOpts, a)

			mod, err := module(a, args[0])
			if err != nil {
				return err
			}
			n, err := mod.Commands.ReSyncData(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "resync failed", err)
			}
			out := rootOpts.formatter(cmd)
			if rootOpts.Format == FormatText {
				return out.Success(fmt.Sprintf("✓ resynced %d record(s) of %s", n, args[0]))
			}
			return out.Success(map[string]any{"module": args[0], "synced": n})
		},
	}
	return cmd
}

func reportExecutions(cmd *cobra.Command, rootOpts *RootOptions, summary string, execs []ExecutionSummary) error {
	out := rootOpts.formatter(cmd)
	if rootOpts.Format == FormatText {
		out.Success(summary)
		for _, e := range execs {
			out.Success(formatExecution(e))
		}
	} else if err := out.Success(map[string]any{"executions": execs}); err != nil {
		return err
	}
	return failedExecutions(execs)
}
