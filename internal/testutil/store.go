// Package testutil provides deterministic clocks, ids and throwaway stores
// for tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/blob"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/kv/sqlkv"
	"github.com/roach88/cmdsync/internal/stream"
)

// Env bundles the stores a test usually needs.
type Env struct {
	Backend *sqlkv.Store
	Blobs   *blob.MemoryStore
	Store   *kv.Adapter
	Feed    *stream.Collector
	Namer   kv.TableNamer
	Clock   *DeterministicClock
}

// NewEnv opens a SQLite-backed adapter in a temp dir with an in-memory
// blob store and a change feed. attributeLimit of zero disables overflow.
func NewEnv(t *testing.T, attributeLimit int) *Env {
	t.Helper()

	backend, err := sqlkv.Open(t.TempDir() + "/kv.db")
	require.NoError(t, err, "open sqlite store")
	t.Cleanup(func() { backend.Close() })

	clock := NewDeterministicClock(DefaultStart, 0)
	blobs := blob.NewMemoryStore("test-bucket")
	ids := NewSequenceIDs("blob")
	feed := &stream.Collector{}

	return &Env{
		Backend: backend,
		Blobs:   blobs,
		Store: kv.NewAdapter(backend, blobs, kv.AdapterConfig{
			AttributeLimitSize: attributeLimit,
			Now:                clock.Now,
			NewID:              ids.Next,
			Feed:               feed,
		}),
		Feed:  feed,
		Namer: kv.NewTableNamer("test", "app"),
		Clock: clock,
	}
}
