package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/config"
	"github.com/roach88/cmdsync/internal/datasync"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/manifest"
	"github.com/roach88/cmdsync/internal/model"
	"github.com/roach88/cmdsync/internal/notify"
	"github.com/roach88/cmdsync/internal/stream"
	"github.com/roach88/cmdsync/internal/testutil"
	"github.com/roach88/cmdsync/internal/workflow"
)

const shopManifest = `
app: "shop"
modules: {
	order: handlers: [{kind: "sql", table: "order_report"}]
	master: {}
}
`

func newTestApp(t *testing.T, vars map[string]string) (*App, *notify.Recorder) {
	t.Helper()
	if vars == nil {
		vars = map[string]string{}
	}
	if _, ok := vars["SQL_DSN"]; !ok {
		vars["SQL_DSN"] = filepath.Join(t.TempDir(), "app.db")
	}
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	m, err := manifest.Parse("app.cue", shopManifest)
	require.NoError(t, err)

	recorder := &notify.Recorder{}
	clock := testutil.NewDeterministicClock(testutil.DefaultStart, 0)
	a, err := New(context.Background(), cfg, m, Options{
		Notifier: recorder,
		Now:      clock.Now,
		NewID:    testutil.NewSequenceIDs("blob").Next,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, recorder
}

func publish(t *testing.T, a *App, prev, qty int) {
	t.Helper()
	mod, err := a.Module("order")
	require.NoError(t, err)
	_, err = mod.Commands.Publish(context.Background(), model.CommandInput{
		PK:         "ORDER#acme",
		SK:         "ORD1",
		Code:       "ORD1",
		Version:    prev,
		TenantCode: "acme",
		Attributes: map[string]any{"qty": qty},
	}, model.PublishOptions{Source: "test"})
	require.NoError(t, err)
}

func TestNewWiresManifestModules(t *testing.T) {
	a, _ := newTestApp(t, nil)

	assert.Equal(t, "local-shop-", a.Namer.Prefix)
	assert.Equal(t, []string{"master", "order"}, a.Router.Names())
	require.NotNil(t, a.Local)
	require.NotNil(t, a.Feed)

	order, err := a.Module("order")
	require.NoError(t, err)
	assert.Equal(t, "local-shop-order-command", order.Commands.TableName())
	assert.Equal(t, []string{datasync.DefaultHandlerName, "SQLMirrorHandler"}, order.Commands.Handlers().Names())

	_, err = a.Module("invoice")
	require.ErrorIs(t, err, ErrUnknownModule)
}

func TestManifestEnvOverridesConfig(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"NODE_ENV": "prod",
		"SQL_DSN":  filepath.Join(t.TempDir(), "app.db"),
	})
	require.NoError(t, err)
	m, err := manifest.Parse("app.cue", `
app: "shop"
env: "dev"
modules: order: {}
`)
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, m, Options{Notifier: &notify.Recorder{}})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "dev-shop-", a.Namer.Prefix)
}

func TestFlushRunsWorkflowsToData(t *testing.T) {
	ctx := context.Background()
	a, recorder := newTestApp(t, nil)

	publish(t, a, 0, 1)
	ids, err := a.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	publish(t, a, 1, 2)
	ids, err = a.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	for _, exec := range a.Local.Executions() {
		assert.Equal(t, workflow.StatusSucceeded, exec.Status, exec.ID)
	}

	order, _ := a.Module("order")
	d, err := order.Commands.Data().GetItem(ctx, key.DetailKey{PK: "ORDER#acme", SK: "ORD1"})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Version)

	var version int
	err = a.sqlDB.QueryRowContext(ctx, `SELECT version FROM order_report WHERE pk = ? AND sk = ?`, "ORDER#acme", "ORD1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Empty(t, recorder.ByAction(notify.ActionSfnAlarm))

	ids, err = a.Flush(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "status and ttl updates are not inserts")
}

func TestBatchedVersionsConvergeAfterRedrive(t *testing.T) {
	ctx := context.Background()
	a, recorder := newTestApp(t, nil)

	publish(t, a, 0, 1)
	publish(t, a, 1, 2)
	ids, err := a.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	failed, _ := a.Local.Execution(ids[1])
	assert.Equal(t, workflow.StatusFailed, failed.Status)
	assert.Len(t, recorder.ByAction(notify.ActionSfnAlarm), 1)

	redriven, err := a.Redrive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, redriven)

	order, _ := a.Module("order")
	d, err := order.Commands.Data().GetItem(ctx, key.DetailKey{PK: "ORDER#acme", SK: "ORD1"})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Version)
}

func TestFollowRunsBatchesAsTheyArrive(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, nil)

	batches := make(chan []stream.CommandEvent)
	type result struct {
		ids []string
		err error
	}
	done := make(chan result, 1)
	go func() {
		ids, err := a.Follow(ctx, batches)
		done <- result{ids, err}
	}()

	order, _ := a.Module("order")
	dataVersion := func() int {
		d, err := order.Commands.Data().GetItem(ctx, key.DetailKey{PK: "ORDER#acme", SK: "ORD1"})
		if err != nil || d == nil {
			return 0
		}
		return d.Version
	}
	send := func() {
		records, err := a.Feed.Take()
		require.NoError(t, err)
		batches <- records
	}

	publish(t, a, 0, 1)
	send()
	require.Eventually(t, func() bool { return dataVersion() == 1 }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	publish(t, a, 1, 2)
	send()
	require.Eventually(t, func() bool { return dataVersion() == 2 }, 5*time.Second, 10*time.Millisecond)

	close(batches)
	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not return")
	}
	require.NoError(t, res.err)
	require.Len(t, res.ids, 2)
	for _, id := range res.ids {
		exec, ok := a.Local.Execution(id)
		require.True(t, ok, id)
		assert.Equal(t, workflow.StatusSucceeded, exec.Status, id)
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ids, err := a.Follow(ctx, make(chan []stream.CommandEvent))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ids)
}

func TestRedriveWithNothingFailed(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ids, err := a.Redrive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = a.Redrive(context.Background(), "local:execution:nope")
	require.ErrorIs(t, err, workflow.ErrExecutionNotFound)
}

func TestNewRejectsUnknownSQLDriver(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"SQL_DRIVER": "oracle"})
	require.NoError(t, err)
	m, err := manifest.Parse("app.cue", shopManifest)
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, m, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown SQL_DRIVER "oracle"`)
}
