package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cmdsync/internal/manifest"
)

// ValidateResult summarizes a valid manifest.
type ValidateResult struct {
	Valid   bool             `json:"valid"`
	App     string           `json:"app"`
	Env     string           `json:"env,omitempty"`
	Modules []ModuleManifest `json:"modules"`
}

// ModuleManifest lists the handler kinds of one module.
type ModuleManifest struct {
	Name     string   `json:"name"`
	Handlers []string `json:"handlers,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate a module manifest",
		Long: `Load the CUE manifest in dir (default: --manifest) and report its
modules and handlers.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Manifest
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(cmd, rootOpts, dir)
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, dir string) error {
	out := opts.formatter(cmd)
	out.VerboseLog("Validating manifest in %s", dir)

	m, err := manifest.Load(dir)
	if err != nil {
		var le *manifest.LoadError
		if errors.As(err, &le) {
			out.Error(le.Code, err.Error(), nil)
			// Missing or unreadable input is a usage problem, not an invalid
			// manifest.
			if le.Code == manifest.ErrCodeNotFound || le.Code == manifest.ErrCodeNoFiles {
				return WrapExitError(ExitCommandError, "manifest not found", err)
			}
			return WrapExitError(ExitFailure, "manifest is invalid", err)
		}
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}

	res := ValidateResult{Valid: true, App: m.App, Env: m.Env}
	for _, mod := range m.Modules {
		mm := ModuleManifest{Name: mod.Name}
		for _, h := range mod.Handlers {
			mm.Handlers = append(mm.Handlers, h.Kind)
		}
		res.Modules = append(res.Modules, mm)
	}

	if opts.Format == FormatJSON {
		return out.Success(res)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✓ manifest valid: app %s, %d module(s)", m.App, len(m.Modules))
	for _, mm := range res.Modules {
		fmt.Fprintf(&b, "\n  %s", mm.Name)
		if len(mm.Handlers) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(mm.Handlers, ", "))
		}
	}
	return out.Success(b.String())
}
