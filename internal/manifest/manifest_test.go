package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDirectory(t *testing.T) {
	m, err := Load("testdata/shop")
	require.NoError(t, err)

	assert.Equal(t, "shop", m.App)
	assert.Empty(t, m.Env)
	assert.Equal(t, []string{"master", "order"}, m.ModuleNames())

	order, ok := m.Module("order")
	require.True(t, ok)
	require.Len(t, order.Handlers, 2)
	assert.Equal(t, KindRedis, order.Handlers[0].Kind)
	assert.Equal(t, KindSQL, order.Handlers[1].Kind)
	assert.Equal(t, "order_report", order.Handlers[1].Table)

	master, ok := m.Module("master")
	require.True(t, ok)
	assert.Empty(t, master.Handlers)

	_, ok = m.Module("invoice")
	assert.False(t, ok)
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load("testdata/nope")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestParseWithEnv(t *testing.T) {
	m, err := Parse("m.cue", `
app: "shop"
env: "dev"
modules: order: {}
`)
	require.NoError(t, err)
	assert.Equal(t, "dev", m.Env)
	assert.Equal(t, []string{"order"}, m.ModuleNames())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"syntax", `app: "shop`, ErrCodeBuildFailed},
		{"missing app", `modules: order: {}`, ErrCodeSchema},
		{"unknown handler kind", `app: "a", modules: order: handlers: [{kind: "kafka"}]`, ErrCodeSchema},
		{"unknown field", `app: "a", modules: order: {}, extra: 1`, ErrCodeSchema},
		{"bad module name", `app: "a", modules: "Order": {}`, ErrCodeSchema},
		{"no modules", `app: "a", modules: {}`, ErrCodeNoModules},
		{"sql without table", `app: "a", modules: order: handlers: [{kind: "sql"}]`, ErrCodeHandler},
		{"duplicate kind", `app: "a", modules: order: handlers: [{kind: "redis"}, {kind: "redis"}]`, ErrCodeHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("m.cue", tt.src)
			var le *LoadError
			require.True(t, errors.As(err, &le), "got %v", err)
			assert.Equal(t, tt.code, le.Code, le.Error())
		})
	}
}

func TestLoadErrorMessage(t *testing.T) {
	_, err := Parse("m.cue", "app: \"a\"\nmodules: order: handlers: [{kind: \"sql\"}]\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeHandler)
	assert.Contains(t, err.Error(), "sql handler needs a table")
}
