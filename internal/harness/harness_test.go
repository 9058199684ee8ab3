package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenariosMatchGolden(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/out_of_order.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRunReportsFailedAssertions(t *testing.T) {
	zero := 0
	s := &Scenario{
		Name: "wrong_version",
		Steps: []Step{
			{Action: ActionPublish, Module: "order", Input: map[string]any{
				"pk": "ORDER#acme", "sk": "ORD1", "code": "ORD1", "version": 0,
			}},
			{Action: ActionDeliver},
		},
		Assertions: []Assertion{
			{Type: AssertItem, Module: "order", PK: "ORDER#acme", SK: "ORD1", Expect: map[string]any{"version": 7}},
			{Type: AssertItem, Module: "order", PK: "ORDER#acme", SK: "ORD2", Expect: map[string]any{"version": 1}},
			{Type: AssertExecutions, Count: &zero},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "assertions[0] item: expected version = 7, got 1")
	assert.Contains(t, result.Errors[1], "got none")
	assert.Contains(t, result.Errors[2], "expected count 0, got count 1")
}

func TestRunReportsStepErrors(t *testing.T) {
	s := &Scenario{
		Name: "step_errors",
		Steps: []Step{
			{Action: ActionDuplicate, Module: "order", Input: map[string]any{"pk": "ORDER#acme", "sk": "ORD1"}},
			{Action: ActionDeliver, ExpectError: "boom"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "steps[0] duplicate:")
	assert.Contains(t, result.Errors[0], "command not found")
	assert.Contains(t, result.Errors[1], `steps[1] deliver: expected error containing "boom"`)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "ORDER#acme", result.Trace[0].PK)
	assert.NotEmpty(t, result.Trace[0].Error)
	assert.Equal(t, 2, result.Trace[1].Seq)
}

func TestRunRejectsBadManifest(t *testing.T) {
	s := &Scenario{
		Name:     "bad_manifest",
		Manifest: `modules: order: {}`,
		Steps:    []Step{{Action: ActionDeliver}},
	}
	_, err := Run(s)
	require.Error(t, err)
}

func TestScenarioManifestDeclaresUsedModules(t *testing.T) {
	s := &Scenario{
		Name: "implicit",
		Steps: []Step{
			{Action: ActionResync, Module: "order"},
			{Action: ActionResync, Module: "master"},
			{Action: ActionResync, Module: "order"},
		},
		Assertions: []Assertion{{Type: AssertItem, Module: "invoice", PK: "p", SK: "s", Absent: true}},
	}
	m, err := scenarioManifest(s)
	require.NoError(t, err)
	assert.Equal(t, "scenario", m.App)
	assert.Equal(t, []string{"invoice", "master", "order"}, m.ModuleNames())
}

func TestMatchSubset(t *testing.T) {
	got := map[string]any{
		"version":    2.0,
		"code":       "ORD1",
		"attributes": map[string]any{"qty": 2.0, "note": "x"},
	}

	tests := []struct {
		name     string
		want     map[string]any
		ok       bool
		wantPath string
	}{
		{name: "empty", want: map[string]any{}, ok: true},
		{name: "int against float", want: map[string]any{"version": 2}, ok: true},
		{name: "nested subset", want: map[string]any{"attributes": map[string]any{"qty": 2}}, ok: true},
		{name: "mismatch", want: map[string]any{"code": "ORD2"}, wantPath: "code"},
		{name: "missing field", want: map[string]any{"name": "x"}, wantPath: "name"},
		{name: "nested mismatch", want: map[string]any{"attributes": map[string]any{"note": "y"}}, wantPath: "attributes.note"},
		{name: "object against scalar", want: map[string]any{"code": map[string]any{"a": 1}}, wantPath: "code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, _, _, ok := matchSubset(tt.want, got, "")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}
