package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{ n int }

func (ping) EventType() string { return "ping" }

type pong struct{}

func (pong) EventType() string { return "pong" }

func TestExecuteKeepsBindingOrder(t *testing.T) {
	bus := New()
	bus.Bind("ping", HandlerFunc(func(ctx context.Context, ev Event) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow", nil
	}))
	bus.Bind("ping", HandlerFunc(func(ctx context.Context, ev Event) (any, error) {
		return ev.(ping).n * 2, nil
	}))

	results, err := bus.Execute(context.Background(), ping{n: 21})
	require.NoError(t, err)
	assert.Equal(t, []any{"slow", 42}, results)
}

func TestExecuteWithoutHandlerFails(t *testing.T) {
	bus := New()
	bus.Bind("ping", HandlerFunc(func(context.Context, Event) (any, error) { return nil, nil }))

	_, err := bus.Execute(context.Background(), pong{})
	assert.ErrorIs(t, err, ErrHandlerNotFound)
	assert.ErrorContains(t, err, "pong")
}

func TestExecuteFailsAsAWhole(t *testing.T) {
	bus := New()
	boom := errors.New("boom")
	bus.Bind("ping", HandlerFunc(func(context.Context, Event) (any, error) { return "ok", nil }))
	bus.Bind("ping", HandlerFunc(func(context.Context, Event) (any, error) { return nil, boom }))

	results, err := bus.Execute(context.Background(), ping{})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, results)
}
