// Package sqlkv is a kv.Backend on a SQL database.
//
// All tables share one "items" table keyed by (table_name, pk, sk) with
// the row stored as a JSON body. SQLite (mattn/go-sqlite3) is used for
// local runs and tests; PostgreSQL (lib/pq) for shared environments.
//
// Conditional creates use INSERT ... ON CONFLICT DO NOTHING and report
// kv.ErrConditionalCheckFailed when no row was inserted. Updates read,
// apply kv.Apply, and write back inside one transaction.
package sqlkv
