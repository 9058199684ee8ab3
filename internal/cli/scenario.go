package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/cmdsync/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	Filter string
	Update bool
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match" | "mismatch" | "updated" | "missing"
	Errors []string `json:"errors,omitempty"`
}

// ScenarioSummary totals a scenario run.
type ScenarioSummary struct {
	Passed  int              `json:"passed"`
	Failed  int              `json:"failed"`
	Total   int              `json:"total"`
	Results []ScenarioResult `json:"results"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{}

	cmd := &cobra.Command{
		Use:   "scenario <path>",
		Short: "Run YAML scenarios against an in-process deployment",
		Long: `Run one scenario file, or every *.yaml scenario in a directory, each
against its own SQLite database and local workflow.

When golden/<name>.golden exists next to the scenarios, the canonical
trace must match it byte for byte. --update rewrites the golden files.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenario files matching this glob")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files")

	return cmd
}

func runScenarios(cmd *cobra.Command, rootOpts *RootOptions, opts *ScenarioOptions, path string) error {
	out := rootOpts.formatter(cmd)

	files, dir, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot find scenarios", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files found in %s", path))
	}

	summary := ScenarioSummary{Total: len(files)}
	for _, f := range files {
		out.VerboseLog("Running %s", f)
		res := runScenario(cmd, f, filepath.Join(dir, "golden"), opts.Update)
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)

		if rootOpts.Format == FormatText {
			mark := "✓"
			if !res.Pass {
				mark = "✗"
			}
			fmt.Fprintf(out.Writer, "%s %s\n", mark, res.Name)
			for _, e := range res.Errors {
				fmt.Fprintf(out.Writer, "    %s\n", e)
			}
		}
	}

	if rootOpts.Format == FormatText {
		fmt.Fprintf(out.Writer, "\nScenario Summary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	} else if err := out.Success(summary); err != nil {
		return err
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	return nil
}

func runScenario(cmd *cobra.Command, file, goldenDir string, update bool) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file)}

	s, err := harness.LoadScenario(file)
	if err != nil {
		res.Errors = []string{err.Error()}
		return res
	}
	res.Name = s.Name

	result, err := harness.RunContext(commandContext(cmd), s)
	if err != nil {
		res.Errors = []string{err.Error()}
		return res
	}
	res.Pass = result.Pass
	res.Errors = append(res.Errors, result.Errors...)

	got, err := harness.Snapshot(s.Name, result)
	if err != nil {
		res.Pass = false
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	goldenPath := filepath.Join(goldenDir, s.Name+".golden")
	if update {
		if err := os.MkdirAll(goldenDir, 0o755); err == nil {
			err = os.WriteFile(goldenPath, got, 0o644)
		}
		if err != nil {
			res.Pass = false
			res.Errors = append(res.Errors, fmt.Sprintf("update golden: %v", err))
			return res
		}
		res.Golden = "updated"
		return res
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		res.Golden = "missing"
	case err != nil:
		res.Pass = false
		res.Errors = append(res.Errors, err.Error())
	case bytes.Equal(want, got):
		res.Golden = "match"
	default:
		res.Pass = false
		res.Golden = "mismatch"
		res.Errors = append(res.Errors, fmt.Sprintf("trace differs from %s", goldenPath))
	}
	return res
}

// findScenarioFiles returns the scenario files under path and the
// directory holding them.
func findScenarioFiles(path, filter string) ([]string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	if !info.IsDir() {
		return []string{path}, filepath.Dir(path), nil
	}

	pattern := "*.yaml"
	if filter != "" {
		pattern = filter
	}
	files, err := filepath.Glob(filepath.Join(path, pattern))
	if err != nil {
		return nil, "", err
	}
	var out []string
	for _, f := range files {
		if filepath.Ext(f) == ".yaml" {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out, path, nil
}
