package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Step actions.
const (
	ActionPublish   = "publish"
	ActionPartial   = "partial"
	ActionSync      = "sync"
	ActionDuplicate = "duplicate"
	ActionSeed      = "seed"
	ActionDeliver   = "deliver"
	ActionRedrive   = "redrive"
	ActionResync    = "resync"
)

// Assertion types.
const (
	AssertItem          = "item"
	AssertLatest        = "latest"
	AssertExecutions    = "executions"
	AssertNotifications = "notifications"
)

// Scenario is a scripted run against an in-process deployment: commands
// are written, their stream records delivered to the local workflow, and
// the resulting tables checked.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Manifest is CUE source. When empty every module named by a step is
	// declared without extra handlers.
	Manifest string `yaml:"manifest,omitempty"`

	// AttributeLimit overrides the inline attributes limit in bytes.
	AttributeLimit int `yaml:"attribute_limit,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of a scenario.
type Step struct {
	// Action is one of publish, partial, sync, duplicate, seed, deliver,
	// redrive or resync.
	Action string `yaml:"action"`

	Module string `yaml:"module,omitempty"`

	// Input is the command input of publish, partial and sync, the key of
	// duplicate, or the projection of seed.
	Input map[string]any `yaml:"input,omitempty"`

	// Reverse delivers the pending stream records newest first.
	Reverse bool `yaml:"reverse,omitempty"`

	// ExpectError, when set, must be a substring of the step's error.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	Type string `yaml:"type"`

	Module string `yaml:"module,omitempty"`

	// Table is command, data or history (item only). Defaults to data.
	Table string `yaml:"table,omitempty"`

	PK string `yaml:"pk,omitempty"`
	SK string `yaml:"sk,omitempty"`

	// Expect is a subset of the record's JSON form.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts that no record exists.
	Absent bool `yaml:"absent,omitempty"`

	// Status filters executions; Action filters notifications.
	Status string `yaml:"status,omitempty"`
	Action string `yaml:"action,omitempty"`

	Count *int `yaml:"count,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", filepath.Base(path), err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}

// LoadScenarios loads every *.yaml file in dir, in name order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Validate checks required fields.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.AttributeLimit < 0 {
		return fmt.Errorf("attribute_limit must not be negative")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	switch step.Action {
	case ActionPublish, ActionPartial, ActionSync, ActionDuplicate, ActionSeed:
		if step.Module == "" {
			return fmt.Errorf("steps[%d]: module is required for %s", index, step.Action)
		}
		if step.Input == nil {
			return fmt.Errorf("steps[%d]: input is required for %s", index, step.Action)
		}
	case ActionResync:
		if step.Module == "" {
			return fmt.Errorf("steps[%d]: module is required for %s", index, step.Action)
		}
	case ActionDeliver, ActionRedrive:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Action)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertItem, AssertLatest:
		if a.Module == "" || a.PK == "" || a.SK == "" {
			return fmt.Errorf("assertions[%d]: module, pk and sk are required for %s", index, a.Type)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for %s", index, a.Type)
		}
		switch a.Table {
		case "", "command", "data", "history":
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
	case AssertExecutions, AssertNotifications:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
