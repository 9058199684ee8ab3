package datasync

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/kv/sqlkv"
	"github.com/roach88/cmdsync/internal/model"
)

type recordingPublisher struct {
	got []*model.Command
}

func (p *recordingPublisher) Publish(_ context.Context, cmd *model.Command) (*model.Data, error) {
	p.got = append(p.got, cmd)
	return &model.Data{PK: cmd.PK, SK: "S", Version: cmd.Version}, nil
}

type namedHandler struct {
	name, typ string
}

func (h namedHandler) Name() string { return h.name }
func (h namedHandler) Type() string { return h.typ }
func (h namedHandler) Up(context.Context, *model.Command) (any, error) {
	return h.name, nil
}
func (h namedHandler) Down(context.Context, *model.Command) (any, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	def := NewDefaultHandler(&recordingPublisher{})
	r := NewRegistry(def, namedHandler{"Search", "opensearch"}, namedHandler{"Report", "sql"})

	assert.Equal(t, []string{"DataSyncDdsHandler", "Search", "Report"}, r.Names())

	h, ok := r.Get("Search")
	require.True(t, ok)
	assert.Equal(t, "opensearch", h.Type())

	_, ok = r.Get("search")
	assert.False(t, ok, "lookup is exact")

	nonDefault := r.NonDefault()
	require.Len(t, nonDefault, 2)
	assert.Equal(t, "Search", nonDefault[0].Name())
}

func TestRegistryReplacesSameName(t *testing.T) {
	r := NewRegistry(namedHandler{"Search", "opensearch"}, namedHandler{"Report", "sql"})
	r.Register(namedHandler{"Search", "sql"})

	assert.Equal(t, []string{"Search", "Report"}, r.Names())
	require.Len(t, r.All(), 2)
	assert.Equal(t, "sql", r.All()[0].Type())

	h, ok := r.Get("Search")
	require.True(t, ok)
	assert.Equal(t, "sql", h.Type())
	assert.Len(t, r.NonDefault(), 2)
}

func TestDefaultHandlerProjects(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewDefaultHandler(pub)

	out, err := h.Up(context.Background(), &model.Command{PK: "P", SK: "S@2", Version: 2})
	require.NoError(t, err)
	require.Len(t, pub.got, 1)
	assert.Equal(t, 2, out.(*model.Data).Version)
	assert.Equal(t, TypeDynamoDB, h.Type())
}

type fakeRedis struct {
	sets map[string]any
	ttls map[string]time.Duration
	dels []string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, k string, v any, exp time.Duration) *redis.StatusCmd {
	f.sets[k] = v
	f.ttls[k] = exp
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.dels = append(f.dels, keys...)
	return redis.NewIntResult(int64(len(keys)), f.err)
}

func TestRedisCacheHandler(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	h := NewRedisCacheHandler(fake, "dev-app-order-data")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	ttl := now.Add(time.Hour).Unix()
	cmd := &model.Command{PK: "ORDER#acme", SK: "ORD1@3", Version: 3, TTL: &ttl}

	_, err := h.Up(ctx, cmd)
	require.NoError(t, err)
	k := "dev-app-order-data:ORDER#acme:ORD1"
	assert.Contains(t, string(fake.sets[k].([]byte)), `"version":3`)
	assert.Equal(t, time.Hour, fake.ttls[k])

	cmd.IsDeleted = true
	_, err = h.Up(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{k}, fake.dels)

	expired := now.Add(-time.Minute).Unix()
	_, err = h.Up(ctx, &model.Command{PK: "ORDER#acme", SK: "ORD2@1", TTL: &expired})
	require.NoError(t, err)
	assert.Contains(t, fake.dels, "dev-app-order-data:ORDER#acme:ORD2")

	fake.err = errors.New("conn refused")
	_, err = h.Down(ctx, cmd)
	assert.ErrorContains(t, err, "conn refused")
}

func TestSQLMirrorHandler_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", t.TempDir()+"/mirror.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := NewSQLMirrorHandler(db, sqlkv.SQLite, "order_report")
	require.NoError(t, h.EnsureSchema(ctx))

	cmd := &model.Command{PK: "ORDER#acme", SK: "ORD1@2", Version: 2, Code: "ORD1", Attributes: map[string]any{"qty": 2}}
	_, err = h.Up(ctx, cmd)
	require.NoError(t, err)

	stale := &model.Command{PK: "ORDER#acme", SK: "ORD1@1", Version: 1, Code: "OLD"}
	_, err = h.Up(ctx, stale)
	require.NoError(t, err)

	var version int
	var code, attrs string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT version, code, attributes FROM order_report WHERE pk = ? AND sk = ?`, "ORDER#acme", "ORD1",
	).Scan(&version, &code, &attrs))
	assert.Equal(t, 2, version, "older versions do not overwrite")
	assert.Equal(t, "ORD1", code)
	assert.JSONEq(t, `{"qty":2}`, attrs)

	_, err = h.Down(ctx, cmd)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_report`).Scan(&n))
	assert.Zero(t, n)
}

func TestSQLMirrorHandler_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := NewSQLMirrorHandler(db, sqlkv.Postgres, "order_report")
	boom := errors.New("relation does not exist")
	mock.ExpectExec(`INSERT INTO "order_report" .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10\)`).
		WithArgs("P", "S", 1, "", "", "", "", false, "null", "").
		WillReturnError(boom)

	_, err = h.Up(context.Background(), &model.Command{PK: "P", SK: "S@1", Version: 1})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
