// Package eventbus routes typed events to the handlers bound to their type.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrHandlerNotFound is returned when no handler is bound to an event's
// type. Unroutable events are never dropped silently.
var ErrHandlerNotFound = errors.New("event handler not found")

// Event is anything that declares its type.
type Event interface {
	EventType() string
}

// Handler handles one event.
type Handler interface {
	Handle(ctx context.Context, ev Event) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) (any, error) {
	return f(ctx, ev)
}

// Bus is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Bind adds h to the handlers of eventType.
func (b *Bus) Bind(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Execute runs every handler bound to ev's type concurrently and returns
// their results in binding order. Any handler error fails the call.
func (b *Bus) Execute(ctx context.Context, ev Event) ([]any, error) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.EventType()]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, ev.EventType())
	}

	results := make([]any, len(handlers))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handlers {
		g.Go(func() error {
			res, err := h.Handle(gctx, ev)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
