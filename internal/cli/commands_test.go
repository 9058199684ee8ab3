package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderInput = `{"pk": "ORDER#acme", "sk": "ORD1", "code": "ORD1", "tenantCode": "acme", "version": 0, "attributes": {"qty": 1}}`

func TestValidateCommand(t *testing.T) {
	manifestDir := setupWorkspace(t)

	t.Run("valid text", func(t *testing.T) {
		out, err := execute(t, "", "validate", manifestDir)
		require.NoError(t, err)
		assert.Contains(t, out, "manifest valid: app shop, 2 module(s)")
		assert.Contains(t, out, "order [sql]")
	})

	t.Run("valid json", func(t *testing.T) {
		out, err := execute(t, "", "validate", "--manifest", manifestDir, "--format", "json")
		require.NoError(t, err)
		data := decodeData(t, out)
		assert.Equal(t, true, data["valid"])
		assert.Equal(t, "shop", data["app"])
		assert.Len(t, data["modules"], 2)
	})

	t.Run("missing directory", func(t *testing.T) {
		out, err := execute(t, "", "validate", filepath.Join(manifestDir, "nope"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E005]")
	})

	t.Run("no modules", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.cue"), []byte("package shop\n\napp: \"shop\"\n\nmodules: {}\n"), 0o644))
		out, err := execute(t, "", "validate", dir)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "E102")
	})
}

func TestPublishRunsWorkflowAndProjects(t *testing.T) {
	manifestDir := setupWorkspace(t)

	out, err := execute(t, orderInput, "publish", "order", "--manifest", manifestDir, "--format", "json", "--request-id", "req-1")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, true, data["published"])

	cmd := data["command"].(map[string]any)
	assert.Equal(t, "ORD1@1", cmd["sk"])
	assert.Equal(t, 1.0, cmd["version"])
	assert.Equal(t, "cli", cmd["source"])
	assert.Equal(t, "req-1", cmd["requestId"])

	execs := data["executions"].([]any)
	require.Len(t, execs, 1)
	assert.Equal(t, "SUCCEEDED", execs[0].(map[string]any)["status"])
	assert.Equal(t, "finish", execs[0].(map[string]any)["state"])

	// A new process sees the projection.
	out, err = execute(t, "", "get", "order", "--manifest", manifestDir, "--format", "json", "--pk", "ORDER#acme", "--sk", "ORD1")
	require.NoError(t, err)
	rec := decodeData(t, out)
	assert.Equal(t, 1.0, rec["version"])
	assert.Equal(t, map[string]any{"qty": 1.0}, rec["attributes"])

	out, err = execute(t, "", "get", "order", "--manifest", manifestDir, "--format", "json", "--table", "history", "--pk", "ORDER#acme", "--sk", "ORD1@1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, decodeData(t, out)["version"])

	out, err = execute(t, "", "latest", "order", "--manifest", manifestDir, "--format", "json", "--pk", "ORDER#acme", "--sk", "ORD1")
	require.NoError(t, err)
	assert.Equal(t, "ORD1@1", decodeData(t, out)["sk"])

	out, err = execute(t, "", "list", "order", "--manifest", manifestDir, "--format", "json", "--pk", "ORDER#acme")
	require.NoError(t, err)
	assert.Len(t, decodeData(t, out)["items"], 1)

	out, err = execute(t, "", "resync", "order", "--manifest", manifestDir)
	require.NoError(t, err)
	assert.Contains(t, out, "resynced 1 record(s) of order")
}

func TestPublishConflictIsRejected(t *testing.T) {
	manifestDir := setupWorkspace(t)

	_, err := execute(t, orderInput, "publish", "order", "--manifest", manifestDir, "--no-flush")
	require.NoError(t, err)

	conflicting := `{"pk": "ORDER#acme", "sk": "ORD1", "code": "ORD1", "tenantCode": "acme", "version": 0, "attributes": {"qty": 5}}`
	out, err := execute(t, conflicting, "publish", "order", "--manifest", manifestDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [PUBLISH_REJECTED]")
	assert.Contains(t, out, "command version already exists")
}

func TestPublishYAMLInputFromFile(t *testing.T) {
	manifestDir := setupWorkspace(t)
	input := filepath.Join(t.TempDir(), "master.yaml")
	require.NoError(t, os.WriteFile(input, []byte("pk: MASTER#acme\nsk: CUST1\ncode: CUST1\nversion: 0\n"), 0o644))

	out, err := execute(t, "", "publish", "master", "--manifest", manifestDir, "--input", input, "--mode", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ published MASTER#acme CUST1@1 (version 1)")

	out, err = execute(t, "", "get", "master", "--manifest", manifestDir, "--pk", "MASTER#acme", "--sk", "CUST1")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": 1`)
}

func TestPublishInputErrors(t *testing.T) {
	manifestDir := setupWorkspace(t)

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{name: "unknown module", stdin: orderInput, args: []string{"publish", "invoice"}},
		{name: "bad mode", stdin: orderInput, args: []string{"publish", "order", "--mode", "upsert"}},
		{name: "empty input", stdin: "", args: []string{"publish", "order"}},
		{name: "unreadable input", args: []string{"publish", "order", "--input", "/no/such/file.json"}},
		{name: "duplicate without key", stdin: `{"pk": "ORDER#acme"}`, args: []string{"publish", "order", "--mode", "duplicate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.stdin, append(tt.args, "--manifest", manifestDir)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestGetMissingRecord(t *testing.T) {
	manifestDir := setupWorkspace(t)

	out, err := execute(t, "", "get", "order", "--manifest", manifestDir, "--pk", "ORDER#acme", "--sk", "ORD404")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]: no record ORDER#acme#ORD404")

	_, err = execute(t, "", "get", "order", "--manifest", manifestDir, "--pk", "p", "--sk", "s", "--table", "archive")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngestSkipsNonCommandRecords(t *testing.T) {
	manifestDir := setupWorkspace(t)

	records := `{"Records": [{
		"eventName": "MODIFY",
		"eventSourceARN": "arn:aws:dynamodb:ap-northeast-1:000000000000:table/test-shop-order-command/stream/2026",
		"dynamodb": {"Keys": {"pk": {"S": "ORDER#acme"}, "sk": {"S": "ORD1@1"}}}
	}]}`
	out, err := execute(t, records, "ingest", "-", "--manifest", manifestDir)
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 1 record(s) started a workflow")
}

func TestRedriveWithNothingFailed(t *testing.T) {
	manifestDir := setupWorkspace(t)

	out, err := execute(t, "", "redrive", "--manifest", manifestDir, "--format", "json")
	require.NoError(t, err)
	assert.Empty(t, decodeData(t, out)["executions"])
}

func TestScenarioCommand(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: cli_publish
steps:
  - action: publish
    module: order
    input: {pk: "ORDER#acme", sk: "ORD1", code: "ORD1", version: 0}
  - action: deliver
assertions:
  - type: item
    module: order
    pk: "ORDER#acme"
    sk: "ORD1"
    expect: {version: 1}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cli_publish.yaml"), []byte(scenario), 0o644))

	out, err := execute(t, "", "scenario", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cli_publish")
	assert.Contains(t, out, "Scenario Summary: 1 passed, 0 failed, 1 total")
	assert.FileExists(t, filepath.Join(dir, "golden", "cli_publish.golden"))

	out, err = execute(t, "", "scenario", dir, "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	results := data["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "match", results[0].(map[string]any)["golden"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "cli_publish.golden"), []byte(`{}`), 0o644))
	out, err = execute(t, "", "scenario", filepath.Join(dir, "cli_publish.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ cli_publish")
	assert.Contains(t, out, "trace differs from")
}

func TestScenarioCommandFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: a\nsteps: [{action: resync, module: order}]\n"), 0o644))

	_, err := execute(t, "", "scenario", dir, "--filter", "b*.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, "", "scenario", dir, "--filter", "a*.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ a")
}

func TestIngestFollowReadsBatchPerLine(t *testing.T) {
	manifestDir := setupWorkspace(t)

	_, err := execute(t, orderInput, "publish", "order", "--manifest", manifestDir, "--no-flush")
	require.NoError(t, err)

	insert := `{"eventID": "e1", "eventName": "INSERT", ` +
		`"eventSourceARN": "arn:aws:dynamodb:ap-northeast-1:000000000000:table/test-shop-order-command/stream/2026", ` +
		`"dynamodb": {"Keys": {"pk": {"S": "ORDER#acme"}, "sk": {"S": "ORD1@1"}}, ` +
		`"NewImage": {"pk": {"S": "ORDER#acme"}, "sk": {"S": "ORD1@1"}, "version": {"N": "1"}, "code": {"S": "ORD1"}, ` +
		`"tenantCode": {"S": "acme"}, "attributes": {"M": {"qty": {"N": "1"}}}}}}`
	stdin := "not json\n\n" + insert + "\n"

	out, err := execute(t, stdin, "ingest", "-", "--follow", "--manifest", manifestDir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 batch(es) read, 1 skipped, 1 workflow(s) started")
	assert.Contains(t, out, "SUCCEEDED")

	out, err = execute(t, "", "get", "order", "--manifest", manifestDir, "--format", "json", "--pk", "ORDER#acme", "--sk", "ORD1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, decodeData(t, out)["version"])
}

func TestIngestFollowMissingFile(t *testing.T) {
	manifestDir := setupWorkspace(t)

	_, err := execute(t, "", "ingest", "/no/such/batches.ndjson", "--follow", "--manifest", manifestDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
