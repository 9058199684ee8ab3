package sqlkv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

// Store is a kv.Backend on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open creates or opens a SQLite database at path.
//
// The database is configured with WAL mode, NORMAL synchronous mode and a
// 5-second busy timeout. Safe to call repeatedly on the same file.
func Open(path string) (*Store, error) {
	return OpenDSN(SQLite, path)
}

// OpenDSN opens a database of the given dialect and applies the schema.
func OpenDSN(dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect.Name == SQLite.Name {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database without applying pragmas or schema.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) init() error {
	for _, pragma := range s.dialect.Pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := s.db.Exec(s.dialect.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) PutItem(ctx context.Context, table string, item kv.Item, cond kv.Condition) error {
	k := item.Key()
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}

	if cond == kv.NotExists {
		res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO items (table_name, pk, sk, body)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (table_name, pk, sk) DO NOTHING
		`), table, k.PK, k.SK, string(body))
		if err != nil {
			return fmt.Errorf("put item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("put item: %w", err)
		}
		if n == 0 {
			return kv.ErrConditionalCheckFailed
		}
		return nil
	}

	if err := s.upsert(ctx, s.db, table, k, body); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, table string, k key.DetailKey) (kv.Item, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT body FROM items WHERE table_name = ? AND pk = ? AND sk = ?
	`), table, k.PK, k.SK).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return decodeItem(body)
}

func (s *Store) UpdateItem(ctx context.Context, table string, k key.DetailKey, ops kv.Ops) (kv.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update item: begin: %w", err)
	}
	defer tx.Rollback()

	current := kv.Item{"pk": k.PK, "sk": k.SK}
	var body string
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT body FROM items WHERE table_name = ? AND pk = ? AND sk = ?
	`+s.dialect.forUpdate), table, k.PK, k.SK).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("update item: read: %w", err)
	default:
		if current, err = decodeItem(body); err != nil {
			return nil, fmt.Errorf("update item: %w", err)
		}
	}

	next, err := kv.Apply(current, ops)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	if err := s.upsert(ctx, tx, table, k, encoded); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update item: commit: %w", err)
	}
	return next, nil
}

func (s *Store) Query(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
	query, params, err := compileQuery(table, q)
	if err != nil {
		return kv.Page{}, err
	}
	return s.page(ctx, s.dialect.Rebind(query), params, q.Limit)
}

func (s *Store) Scan(ctx context.Context, table string, startKey *key.DetailKey, limit int) (kv.Page, error) {
	query, params := compileScan(table, startKey, limit)
	return s.page(ctx, s.dialect.Rebind(query), params, limit)
}

func (s *Store) page(ctx context.Context, query string, params []any, limit int) (kv.Page, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return kv.Page{}, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []kv.Item
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return kv.Page{}, fmt.Errorf("scan item: %w", err)
		}
		item, err := decodeItem(body)
		if err != nil {
			return kv.Page{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return kv.Page{}, fmt.Errorf("iterate items: %w", err)
	}

	page := kv.Page{Items: items}
	if limit > 0 && len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1].Key()
		page.LastKey = &last
	}
	return page, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, table string, k key.DetailKey, body []byte) error {
	_, err := db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO items (table_name, pk, sk, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (table_name, pk, sk) DO UPDATE SET body = excluded.body
	`), table, k.PK, k.SK, string(body))
	return err
}

func decodeItem(body string) (kv.Item, error) {
	var item kv.Item
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return item, nil
}
