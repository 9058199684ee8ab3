// Package datasync holds the handlers that project accepted commands into
// read models.
package datasync

import (
	"context"

	"github.com/roach88/cmdsync/internal/model"
)

// TypeDynamoDB marks the default projection handler.
const TypeDynamoDB = "dynamodb"

// Handler projects a command into one read model.
type Handler interface {
	// Name is the identifier used by the workflow fan-out.
	Name() string
	Type() string
	Up(ctx context.Context, cmd *model.Command) (any, error)
	Down(ctx context.Context, cmd *model.Command) (any, error)
}

// Registry keeps handlers in registration order. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	handlers []Handler
	byName   map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{byName: make(map[string]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register appends h. A handler with an already registered name replaces
// the earlier one in place, keeping its position.
func (r *Registry) Register(h Handler) {
	name := h.Name()
	if _, ok := r.byName[name]; ok {
		for i, old := range r.handlers {
			if old.Name() == name {
				r.handlers[i] = h
				break
			}
		}
	} else {
		r.handlers = append(r.handlers, h)
	}
	r.byName[name] = h
}

// Get looks a handler up by exact name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// All returns the handlers in registration order.
func (r *Registry) All() []Handler {
	return append([]Handler(nil), r.handlers...)
}

// Names returns the handler names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.handlers))
	for i, h := range r.handlers {
		names[i] = h.Name()
	}
	return names
}

// NonDefault returns the handlers that are not of type TypeDynamoDB.
func (r *Registry) NonDefault() []Handler {
	var out []Handler
	for _, h := range r.handlers {
		if h.Type() != TypeDynamoDB {
			out = append(out, h)
		}
	}
	return out
}
