package kv

import "strings"

// TableType is the role of a physical table within a module.
type TableType string

const (
	TableCommand TableType = "command"
	TableData    TableType = "data"
	TableHistory TableType = "history"
)

// TableNamer maps module names to physical table names and back.
// Physical names are "{env}-{app}-{module}[-{type}]".
type TableNamer struct {
	Prefix string
}

// NewTableNamer builds the "{env}-{app}-" prefix.
func NewTableNamer(env, app string) TableNamer {
	return TableNamer{Prefix: env + "-" + app + "-"}
}

// TableName returns the physical table of a module. An empty type gives
// the bare module table.
func (n TableNamer) TableName(module string, typ TableType) string {
	name := n.Prefix + module
	if typ != "" {
		name += "-" + string(typ)
	}
	return name
}

// ModuleName recovers the module from a physical table name. A known type
// suffix is stripped; any other name is a bare module table. It reports
// false when the table does not carry this namer's prefix.
func (n TableNamer) ModuleName(table string) (string, bool) {
	rest, ok := strings.CutPrefix(table, n.Prefix)
	if !ok || rest == "" {
		return "", false
	}
	if typ := n.TableType(table); typ != "" {
		rest = strings.TrimSuffix(rest, "-"+string(typ))
	}
	return rest, rest != ""
}

// TableType returns the type suffix of a physical table name, or "" when
// the name ends in none of the known types.
func (n TableNamer) TableType(table string) TableType {
	idx := strings.LastIndex(table, "-")
	if idx == -1 {
		return ""
	}
	switch typ := TableType(table[idx+1:]); typ {
	case TableCommand, TableData, TableHistory:
		return typ
	}
	return ""
}
