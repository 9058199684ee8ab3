package orchestrator

import (
	"fmt"
	"sort"

	"github.com/roach88/cmdsync/internal/command"
	"github.com/roach88/cmdsync/internal/history"
	"github.com/roach88/cmdsync/internal/kv"
)

// Module is the set of stores of one logical module.
type Module struct {
	Name     string
	Commands *command.Store
	History  *history.Store
}

// Router maps physical command tables to their module. It is built once at
// startup.
type Router struct {
	namer   kv.TableNamer
	modules map[string]*Module
}

func NewRouter(namer kv.TableNamer, modules ...*Module) *Router {
	r := &Router{namer: namer, modules: make(map[string]*Module)}
	for _, m := range modules {
		r.modules[m.Name] = m
	}
	return r
}

// Resolve returns the module owning a command table.
func (r *Router) Resolve(commandTable string) (*Module, error) {
	name, ok := r.namer.ModuleName(commandTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, commandTable)
	}
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, commandTable)
	}
	return m, nil
}

// Module returns a module by name.
func (r *Router) Module(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Names lists the registered modules in name order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
