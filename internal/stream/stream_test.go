package stream

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

func loadRecords(t *testing.T) []CommandEvent {
	t.Helper()
	raw, err := os.ReadFile("testdata/insert_record.json")
	require.NoError(t, err)
	events, err := DecodeRecords(raw)
	require.NoError(t, err)
	require.Len(t, events, 3)
	return events
}

func TestDecodeInsertRecord(t *testing.T) {
	ev := loadRecords(t)[0]

	assert.Equal(t, "dev-shop-order-command", ev.TableName())
	k, err := ev.Key()
	require.NoError(t, err)
	assert.Equal(t, key.DetailKey{PK: "ORDER#acme", SK: "ORD1@2"}, k)

	cmd, err := ev.Command()
	require.NoError(t, err)
	assert.Equal(t, 2, cmd.Version)
	assert.Equal(t, "req-9", cmd.RequestID)
	assert.Equal(t, 3.0, cmd.Attributes["qty"])
	assert.Equal(t, []any{"a", "b"}, cmd.Attributes["tags"])
	assert.Nil(t, cmd.Attributes["none"])
}

func TestEncodeDecodeImage(t *testing.T) {
	item := kv.Item{
		"pk":         "P",
		"sk":         "S@1",
		"version":    1,
		"attributes": map[string]any{"list": []any{"x"}, "nested": map[string]any{"ok": true}},
	}
	ev, err := NewInsertEvent("dev-shop-order-command", item)
	require.NoError(t, err)
	assert.Equal(t, "dev-shop-order-command", ev.TableName())

	back, err := ev.Item()
	require.NoError(t, err)
	assert.Equal(t, 1.0, back["version"])
	assert.Equal(t, map[string]any{"list": []any{"x"}, "nested": map[string]any{"ok": true}}, back["attributes"])
}

func TestTableNameFromARN(t *testing.T) {
	assert.Equal(t, "t-command", TableNameFromARN("arn:aws:dynamodb:r:1:table/t-command/stream/x"))
	assert.Equal(t, "t-data", TableNameFromARN("arn:aws:dynamodb:r:1:table/t-data"))
	assert.Equal(t, "queue", TableNameFromARN("arn:aws:sqs:r:1:queue"))
	assert.Equal(t, "plain", TableNameFromARN("plain"))
}

func TestExecutionName(t *testing.T) {
	now := time.UnixMilli(1767225600123)

	name := ExecutionName("order", key.DetailKey{PK: "ORDER#acme", SK: "ORD1@2"}, now)
	assert.Equal(t, "order-ORDER-acme-ORD1-2-1767225600123", name)

	long := ExecutionName("order", key.DetailKey{PK: "ORDER#" + strings.Repeat("t", 60), SK: "ORD1@2"}, now)
	assert.Len(t, long, 80)
	assert.True(t, strings.HasSuffix(long, "-1767225600123"))
	assert.NotContains(t, long, "#")
	assert.True(t, strings.HasPrefix(long, "order-"))
}

func TestExecutionNameKeepsVersionOfLongKeys(t *testing.T) {
	now := time.UnixMilli(1767225600123)
	k := key.DetailKey{PK: "ORDER#" + strings.Repeat("t", 60), SK: "ORD1"}

	v1 := ExecutionName("order", key.DetailKey{PK: k.PK, SK: k.SK + "@1"}, now)
	v2 := ExecutionName("order", key.DetailKey{PK: k.PK, SK: k.SK + "@2"}, now)
	assert.NotEqual(t, v1, v2)
	assert.LessOrEqual(t, len(v1), 80)
	assert.True(t, strings.HasSuffix(v2, "-ORD1-2-1767225600123"), v2)

	huge := ExecutionName(strings.Repeat("m", 100), key.DetailKey{PK: "P", SK: "S@3"}, now)
	assert.Len(t, huge, 80)
	assert.True(t, strings.HasSuffix(huge, "-P-S-3-1767225600123"), huge)
}

type fakeStarter struct {
	names []string
	err   error
}

func (f *fakeStarter) StartExecution(_ context.Context, name string, _ *CommandEvent) (string, error) {
	f.names = append(f.names, name)
	return "exec:" + name, f.err
}

func TestIngestStartsOnlyCommandInserts(t *testing.T) {
	starter := &fakeStarter{}
	ing := NewIngestor(kv.NewTableNamer("dev", "shop"), starter, nil)
	ing.now = func() time.Time { return time.UnixMilli(1000) }

	ids, err := ing.Ingest(context.Background(), loadRecords(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"order-ORDER-acme-ORD1-2-1000"}, starter.names)
	assert.Equal(t, []string{"exec:order-ORDER-acme-ORD1-2-1000"}, ids)

	starter.err = errors.New("throttled")
	_, err = ing.Ingest(context.Background(), loadRecords(t))
	assert.ErrorContains(t, err, "throttled")
}

func TestIngestSkipsOtherEnvironments(t *testing.T) {
	starter := &fakeStarter{}
	ing := NewIngestor(kv.NewTableNamer("prod", "shop"), starter, nil)

	ids, err := ing.Ingest(context.Background(), loadRecords(t))
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, starter.names)
}
