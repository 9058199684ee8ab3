package sqlkv

import (
	_ "embed"
	"strconv"
	"strings"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Dialect captures the differences between supported databases.
type Dialect struct {
	Name    string
	Driver  string
	Schema  string
	Pragmas []string

	// numbered switches "?" placeholders to "$1", "$2", ...
	numbered bool
	// forUpdate is appended to the read of an update transaction.
	forUpdate string
}

var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite3",
	Schema: sqliteSchema,
	Pragmas: []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	},
}

var Postgres = Dialect{
	Name:      "postgres",
	Driver:    "postgres",
	Schema:    postgresSchema,
	numbered:  true,
	forUpdate: " FOR UPDATE",
}

// DialectByName returns the dialect for "sqlite" or "postgres".
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case SQLite.Name, SQLite.Driver:
		return SQLite, true
	case Postgres.Name:
		return Postgres, true
	default:
		return Dialect{}, false
	}
}

// Rebind rewrites "?" placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
