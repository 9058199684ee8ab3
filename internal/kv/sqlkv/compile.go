package sqlkv

import (
	"fmt"
	"strings"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

// compileQuery builds a parameterized partition query. One extra row is
// fetched so the caller can tell whether another page follows.
func compileQuery(table string, q kv.Query) (string, []any, error) {
	where := []string{"table_name = ?", "pk = ?"}
	params := []any{table, q.PK}

	if q.SK != nil {
		sql, p, err := compileSortKeyFilter(q.SK)
		if err != nil {
			return "", nil, fmt.Errorf("compile sort key filter: %w", err)
		}
		where = append(where, sql)
		params = append(params, p...)
	}

	direction := "ASC"
	cursorOp := ">"
	if q.Order == kv.OrderDesc {
		direction = "DESC"
		cursorOp = "<"
	}
	if q.StartFromSK != "" {
		where = append(where, "sk "+cursorOp+" ?")
		params = append(params, q.StartFromSK)
	}

	params = append(params, q.Limit+1)
	sql := fmt.Sprintf("SELECT body FROM items WHERE %s ORDER BY sk %s LIMIT ?",
		strings.Join(where, " AND "), direction)
	return sql, params, nil
}

func compileSortKeyFilter(f *kv.SortKeyFilter) (string, []any, error) {
	switch f.Op {
	case kv.SKEqual, kv.SKLess, kv.SKLessEq, kv.SKGreater, kv.SKGreaterEq:
		return "sk " + string(f.Op) + " ?", []any{f.Value}, nil
	case kv.SKBeginsWith:
		// substr instead of LIKE: LIKE is case-insensitive in SQLite and
		// would need escaping of % and _
		return "substr(sk, 1, length(?)) = ?", []any{f.Value, f.Value}, nil
	case kv.SKBetween:
		return "sk BETWEEN ? AND ?", []any{f.Value, f.To}, nil
	default:
		return "", nil, fmt.Errorf("unsupported sort key operator %q", f.Op)
	}
}

// compileScan builds a full-table page in (pk, sk) order.
func compileScan(table string, startKey *key.DetailKey, limit int) (string, []any) {
	where := "table_name = ?"
	params := []any{table}
	if startKey != nil {
		where += " AND (pk > ? OR (pk = ? AND sk > ?))"
		params = append(params, startKey.PK, startKey.PK, startKey.SK)
	}
	params = append(params, limit+1)
	return "SELECT body FROM items WHERE " + where + " ORDER BY pk ASC, sk ASC LIMIT ?", params
}
