// Package ttl resolves per-tenant retention settings into expiry
// timestamps.
package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
)

// MasterModule is the module whose data table holds tenant settings.
const MasterModule = "master"

const secondsPerDay = 86400

// ErrInvalidDays is returned for non-positive retention days.
var ErrInvalidDays = errors.New("ttl days must be positive")

// UnixTime returns start plus days, in epoch seconds.
func UnixTime(start time.Time, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}
	return start.Unix() + int64(days)*secondsPerDay, nil
}

// Calculator computes expiry times for one module's tables.
type Calculator struct {
	store  *kv.Adapter
	namer  kv.TableNamer
	module string
	logger *slog.Logger
}

func NewCalculator(store *kv.Adapter, namer kv.TableNamer, module string, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{store: store, namer: namer, module: module, logger: logger}
}

// Calculate returns the expiry of a row of the given table type written at
// start, or nil when the tenant has no positive retention setting for that
// table.
func (c *Calculator) Calculate(ctx context.Context, typ kv.TableType, tenant string, start time.Time) (*int64, error) {
	days, err := c.days(ctx, typ, tenant)
	if err != nil {
		return nil, err
	}
	if days == nil {
		return nil, nil
	}
	ts, err := UnixTime(start, *days)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (c *Calculator) days(ctx context.Context, typ kv.TableType, tenant string) (*int, error) {
	table := c.namer.TableName(MasterModule, kv.TableData)
	k := key.DetailKey{
		PK: key.MasterPK(tenant),
		SK: key.TTLSK(c.namer.TableName(c.module, typ)),
	}
	item, err := c.store.Get(ctx, table, k)
	if err != nil {
		return nil, fmt.Errorf("ttl setting: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	attrs, _ := item["attributes"].(map[string]any)
	days, ok := toInt(attrs["days"])
	if !ok || days <= 0 {
		c.logger.Debug("ttl setting without positive days", "pk", k.PK, "sk", k.SK, "days", attrs["days"])
		return nil, nil
	}
	return &days, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
