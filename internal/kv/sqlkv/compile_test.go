package sqlkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

func TestCompileQuery(t *testing.T) {
	sql, params, err := compileQuery("data", kv.Query{
		PK:          "P",
		SK:          kv.BeginsWith("ORD"),
		StartFromSK: "ORD2",
		Limit:       5,
		Order:       kv.OrderDesc,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT body FROM items WHERE table_name = ? AND pk = ? AND substr(sk, 1, length(?)) = ? AND sk < ? ORDER BY sk DESC LIMIT ?",
		sql)
	assert.Equal(t, []any{"data", "P", "ORD", "ORD", "ORD2", 6}, params)
}

func TestCompileQueryRejectsUnknownOperator(t *testing.T) {
	_, _, err := compileQuery("data", kv.Query{PK: "P", SK: &kv.SortKeyFilter{Op: "contains"}})
	assert.Error(t, err)
}

func TestCompileScan(t *testing.T) {
	sql, params := compileScan("data", &key.DetailKey{PK: "A", SK: "2"}, 3)
	assert.Equal(t,
		"SELECT body FROM items WHERE table_name = ? AND (pk > ? OR (pk = ? AND sk > ?)) ORDER BY pk ASC, sk ASC LIMIT ?",
		sql)
	assert.Equal(t, []any{"data", "A", "A", "2", 4}, params)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", Postgres.Rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", SQLite.Rebind("a = ? AND b = ?"))
}
