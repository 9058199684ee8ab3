// Package manifest loads the CUE description of the modules an app runs
// and the data-sync handlers each of them projects into.
//
// A manifest looks like:
//
//	app: "shop"
//	modules: {
//		order: handlers: [{kind: "redis"}, {kind: "sql", table: "order_report"}]
//		master: {}
//	}
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Handler kinds.
const (
	KindRedis = "redis"
	KindSQL   = "sql"
)

// Error codes.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"
	ErrCodeSchema      = "E101"
	ErrCodeNoModules   = "E102"
	ErrCodeHandler     = "E103"
)

const schema = `
#Handler: {
	kind:   "redis" | "sql"
	table?: string & =~"^[A-Za-z_][A-Za-z0-9_]*$"
}
#Module: {
	handlers: [...#Handler] | *[]
}
#Manifest: {
	app:  string & !=""
	env?: string
	modules: [=~"^[a-z][a-z0-9_]*$"]: #Module
}
`

// Manifest is a loaded, validated manifest.
type Manifest struct {
	App string
	// Env is empty unless the manifest pins it.
	Env     string
	Modules []Module
}

// Module lists the handlers of one module, in declaration order.
type Module struct {
	Name     string
	Handlers []Handler
}

type Handler struct {
	Kind  string
	Table string
	Pos   token.Pos
}

// Module returns the module called name.
func (m *Manifest) Module(name string) (Module, bool) {
	for _, mod := range m.Modules {
		if mod.Name == name {
			return mod, true
		}
	}
	return Module{}, false
}

// ModuleNames returns the module names in order.
func (m *Manifest) ModuleNames() []string {
	names := make([]string, len(m.Modules))
	for i, mod := range m.Modules {
		names[i] = mod.Name
	}
	return names
}

// LoadError is a manifest problem, with its CUE position when known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads every .cue file of dir as one package.
func Load(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return decode(ctx, value)
}

// Parse reads a manifest from CUE source.
func Parse(filename, src string) (*Manifest, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err)
	}
	return decode(ctx, value)
}

// FindCUEFiles returns the .cue files under dir.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func decode(ctx *cue.Context, value cue.Value) (*Manifest, error) {
	def := ctx.CompileString(schema, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Manifest"))
	v := def.Unify(value)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}

	m := &Manifest{}
	if err := v.LookupPath(cue.ParsePath("app")).Decode(&m.App); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}
	if env := v.LookupPath(cue.ParsePath("env")); env.Exists() {
		if err := env.Decode(&m.Env); err != nil {
			return nil, formatCUEError(ErrCodeSchema, err)
		}
	}

	iter, err := v.LookupPath(cue.ParsePath("modules")).Fields()
	if err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}
	for iter.Next() {
		mod, err := decodeModule(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		m.Modules = append(m.Modules, mod)
	}
	if len(m.Modules) == 0 {
		return nil, &LoadError{Code: ErrCodeNoModules, Message: "manifest declares no modules", Pos: v.Pos()}
	}
	sort.Slice(m.Modules, func(i, j int) bool { return m.Modules[i].Name < m.Modules[j].Name })
	return m, nil
}

func decodeModule(name string, v cue.Value) (Module, error) {
	mod := Module{Name: name}
	list, err := v.LookupPath(cue.ParsePath("handlers")).List()
	if err != nil {
		return mod, formatCUEError(ErrCodeSchema, err)
	}

	seen := make(map[string]bool)
	for list.Next() {
		hv := list.Value()
		var h struct {
			Kind  string `json:"kind"`
			Table string `json:"table"`
		}
		if err := hv.Decode(&h); err != nil {
			return mod, formatCUEError(ErrCodeSchema, err)
		}
		if seen[h.Kind] {
			return mod, &LoadError{Code: ErrCodeHandler, Message: fmt.Sprintf("module %s: duplicate %s handler", name, h.Kind), Pos: hv.Pos()}
		}
		seen[h.Kind] = true
		if h.Kind == KindSQL && h.Table == "" {
			return mod, &LoadError{Code: ErrCodeHandler, Message: fmt.Sprintf("module %s: sql handler needs a table", name), Pos: hv.Pos()}
		}
		mod.Handlers = append(mod.Handlers, Handler{Kind: h.Kind, Table: h.Table, Pos: hv.Pos()})
	}
	return mod, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(code string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
