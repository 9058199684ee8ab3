package datasync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv/sqlkv"
	"github.com/roach88/cmdsync/internal/model"
)

// SQLMirrorHandler keeps a relational copy of the projection for
// reporting. Replays of older versions never overwrite newer rows.
type SQLMirrorHandler struct {
	db      *sql.DB
	dialect sqlkv.Dialect
	table   string
}

func NewSQLMirrorHandler(db *sql.DB, dialect sqlkv.Dialect, table string) *SQLMirrorHandler {
	return &SQLMirrorHandler{db: db, dialect: dialect, table: pq.QuoteIdentifier(table)}
}

func (h *SQLMirrorHandler) Name() string { return "SQLMirrorHandler" }
func (h *SQLMirrorHandler) Type() string { return "sql" }

// EnsureSchema creates the mirror table if needed.
func (h *SQLMirrorHandler) EnsureSchema(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+h.table+` (
		pk          TEXT NOT NULL,
		sk          TEXT NOT NULL,
		version     INTEGER NOT NULL,
		code        TEXT,
		name        TEXT,
		tenant_code TEXT,
		type        TEXT,
		is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
		attributes  TEXT,
		updated_at  TEXT,
		PRIMARY KEY (pk, sk)
	)`)
	if err != nil {
		return fmt.Errorf("sql mirror schema: %w", err)
	}
	return nil
}

func (h *SQLMirrorHandler) Up(ctx context.Context, cmd *model.Command) (any, error) {
	attrs, err := json.Marshal(cmd.Attributes)
	if err != nil {
		return nil, fmt.Errorf("sql mirror encode: %w", err)
	}
	var updatedAt string
	if !cmd.UpdatedAt.IsZero() {
		updatedAt = cmd.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = h.db.ExecContext(ctx, h.dialect.Rebind(`
		INSERT INTO `+h.table+` (pk, sk, version, code, name, tenant_code, type, is_deleted, attributes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pk, sk) DO UPDATE SET
			version = excluded.version,
			code = excluded.code,
			name = excluded.name,
			tenant_code = excluded.tenant_code,
			type = excluded.type,
			is_deleted = excluded.is_deleted,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
		WHERE `+h.table+`.version <= excluded.version
	`), cmd.PK, key.RemoveSortKeyVersion(cmd.SK), cmd.Version, cmd.Code, cmd.Name,
		cmd.TenantCode, cmd.Type, cmd.IsDeleted, string(attrs), updatedAt)
	if err != nil {
		return nil, fmt.Errorf("sql mirror upsert %s: %w", cmd.Key(), err)
	}
	return nil, nil
}

func (h *SQLMirrorHandler) Down(ctx context.Context, cmd *model.Command) (any, error) {
	_, err := h.db.ExecContext(ctx, h.dialect.Rebind(`DELETE FROM `+h.table+` WHERE pk = ? AND sk = ?`),
		cmd.PK, key.RemoveSortKeyVersion(cmd.SK))
	if err != nil {
		return nil, fmt.Errorf("sql mirror delete %s: %w", cmd.Key(), err)
	}
	return nil, nil
}
