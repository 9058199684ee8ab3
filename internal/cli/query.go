package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cmdsync/internal/data"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/orchestrator"
)

// GetOptions holds flags for the get and latest commands.
type GetOptions struct {
	PK    string
	SK    string
	Table string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{}

	cmd := &cobra.Command{
		Use:   "get <module>",
		Short: "Read one record of a module table",
		Long: `Read one record by key. --table selects the data projection (default),
the command table (sk must carry @version) or the history table.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.PK, "pk", "", "partition key (required)")
	cmd.Flags().StringVar(&opts.SK, "sk", "", "sort key (required)")
	cmd.Flags().StringVar(&opts.Table, "table", string(kv.TableData), "table to read (data|command|history)")
	cmd.MarkFlagRequired("pk")
	cmd.MarkFlagRequired("sk")

	return cmd
}

func runGet(cmd *cobra.Command, rootOpts *RootOptions, opts *GetOptions, moduleName string) error {
	a, err := openApp(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer closeApp(rootOpts, a)

	mod, err := module(a, moduleName)
	if err != nil {
		return err
	}
	rec, err := lookup(cmd, mod, kv.TableType(opts.Table), key.DetailKey{PK: opts.PK, SK: opts.SK})
	if err != nil {
		return WrapExitError(ExitCommandError, "lookup failed", err)
	}
	if rec == nil {
		return notFound(cmd, rootOpts, opts.PK, opts.SK)
	}
	return rootOpts.formatter(cmd).Success(rec)
}

// lookup returns nil, nil for a missing record. Typed nil pointers are
// mapped to a nil interface.
func lookup(cmd *cobra.Command, mod *orchestrator.Module, table kv.TableType, k key.DetailKey) (any, error) {
	ctx := commandContext(cmd)
	switch table {
	case kv.TableData:
		d, err := mod.Commands.Data().GetItem(ctx, k)
		if err != nil || d == nil {
			return nil, err
		}
		return d, nil
	case kv.TableCommand:
		c, err := mod.Commands.GetItem(ctx, k)
		if err != nil || c == nil {
			return nil, err
		}
		return c, nil
	case kv.TableHistory:
		d, err := mod.History.GetItem(ctx, k)
		if err != nil || d == nil {
			return nil, err
		}
		return d, nil
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown table %q", table))
}

func notFound(cmd *cobra.Command, rootOpts *RootOptions, pk, sk string) error {
	msg := fmt.Sprintf("no record %s#%s", pk, sk)
	rootOpts.formatter(cmd).Error("NOT_FOUND", msg, nil)
	return NewExitError(ExitFailure, msg)
}

// NewLatestCommand creates the latest command.
func NewLatestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{}

	cmd := &cobra.Command{
		Use:           "latest <module>",
		Short:         "Show the latest command version of a key",
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
			c, err := mod.Commands.GetLatestItem(commandContext(cmd), key.DetailKey{PK: opts.PK, SK: opts.SK})
			if err != nil {
				return WrapExitError(ExitCommandError, "lookup failed", err)
			}
			if c == nil {
				return notFound(cmd, rootOpts, opts.PK, opts.SK)
			}
			return rootOpts.formatter(cmd).Success(c)
		},
	}

	cmd.Flags().StringVar(&opts.PK, "pk", "", "partition key (required)")
	cmd.Flags().StringVar(&opts.SK, "sk", "", "sort key without version (required)")
	cmd.MarkFlagRequired("pk")
	cmd.MarkFlagRequired("sk")

	return cmd
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	PK     string
	Prefix string
	Cursor string
	Limit  int
	Desc   bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:           "list <module>",
		Short:         "List the projections of one partition",
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

			lo := data.ListOptions{Cursor: opts.Cursor, Limit: opts.Limit, Order: kv.OrderAsc}
			if opts.Prefix != "" {
				lo.SK = kv.BeginsWith(opts.Prefix)
			}
			if opts.Desc {
				lo.Order = kv.OrderDesc
			}
			page, err := mod.Commands.Data().ListItemsByPK(commandContext(cmd), opts.PK, lo)
			if err != nil {
				return WrapExitError(ExitCommandError, "list failed", err)
			}
			return rootOpts.formatter(cmd).Success(page)
		},
	}

	cmd.Flags().StringVar(&opts.PK, "pk", "", "partition key (required)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "sort key prefix")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "continue after this sort key")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "page size")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "descending sort key order")
	cmd.MarkFlagRequired("pk")

	return cmd
}
