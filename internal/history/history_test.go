package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/data"
	"github.com/roach88/cmdsync/internal/history"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/model"
	"github.com/roach88/cmdsync/internal/testutil"
	"github.com/roach88/cmdsync/internal/ttl"
)

func setup(t *testing.T) (*testutil.Env, *data.Store, *history.Store) {
	t.Helper()
	env := testutil.NewEnv(t, 0)
	dataStore := data.New(env.Store, "test-app-order-data", nil)
	hist := history.New(env.Store, "test-app-order-history", dataStore, history.Config{
		TTL: ttl.NewCalculator(env.Store, env.Namer, "order", nil),
		Now: env.Clock.Now,
	})
	return env, dataStore, hist
}

func TestPublishWithoutDataIsNoop(t *testing.T) {
	ctx := context.Background()
	env, _, hist := setup(t)

	got, err := hist.Publish(ctx, key.DetailKey{PK: "ORDER#acme", SK: "ORD1@1"})
	require.NoError(t, err)
	assert.Nil(t, got)

	page, err := env.Store.Scan(ctx, "test-app-order-history", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestPublishIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	env, dataStore, hist := setup(t)

	require.NoError(t, env.Store.Put(ctx, "test-app-master-data", kv.Item{
		"pk":         "MASTER#acme",
		"sk":         "TTL#test-app-order-history",
		"attributes": map[string]any{"days": 7},
	}, kv.Always))

	_, err := dataStore.Publish(ctx, &model.Command{
		PK: "ORDER#acme", SK: "ORD1@3", Version: 3, TenantCode: "acme",
		Attributes: map[string]any{"v": "first"},
	})
	require.NoError(t, err)

	got, err := hist.Publish(ctx, key.DetailKey{PK: "ORDER#acme", SK: "ORD1@3"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ORD1@3", got.SK)
	require.NotNil(t, got.TTL)
	assert.Equal(t, testutil.DefaultStart.Add(7*24*time.Hour).Unix(), *got.TTL)

	// A replay after the projection changed must not overwrite the archive.
	_, err = dataStore.Publish(ctx, &model.Command{
		PK: "ORDER#acme", SK: "ORD1@3", Version: 3, TenantCode: "acme",
		Attributes: map[string]any{"v": "second"},
	})
	require.NoError(t, err)
	_, err = hist.Publish(ctx, key.DetailKey{PK: "ORDER#acme", SK: "ORD1@3"})
	require.NoError(t, err)

	stored, err := hist.GetItem(ctx, key.DetailKey{PK: "ORDER#acme", SK: "ORD1@3"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, map[string]any{"v": "first"}, stored.Attributes)
}
