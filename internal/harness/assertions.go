package harness

import (
	"context"
	"fmt"

	"github.com/roach88/cmdsync/internal/app"
	"github.com/roach88/cmdsync/internal/canonical"
	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/model"
	"github.com/roach88/cmdsync/internal/notify"
)

// AssertionContext is what assertions read from.
type AssertionContext struct {
	Ctx      context.Context
	App      *app.App
	Recorder *notify.Recorder
}

// AssertionError describes a failed assertion.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertions[%d] %s: expected %s, got %s", e.Index, e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(actx *AssertionContext, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(actx, i, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(actx *AssertionContext, index int, a Assertion) error {
	switch a.Type {
	case AssertItem, AssertLatest:
		record, err := lookup(actx, a)
		if err != nil {
			return fmt.Errorf("assertions[%d] %s: %w", index, a.Type, err)
		}
		return assertRecord(index, a, record)

	case AssertExecutions:
		n := 0
		for _, exec := range actx.App.Local.Executions() {
			if a.Status == "" || string(exec.Status) == a.Status {
				n++
			}
		}
		return assertCount(index, a, n)

	case AssertNotifications:
		sent := actx.Recorder.Sent()
		if a.Action != "" {
			sent = actx.Recorder.ByAction(a.Action)
		}
		return assertCount(index, a, len(sent))
	}
	return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
}

// lookup returns the record an item or latest assertion names, as a JSON
// object, or nil when absent.
func lookup(actx *AssertionContext, a Assertion) (map[string]any, error) {
	mod, err := actx.App.Module(a.Module)
	if err != nil {
		return nil, err
	}
	k := key.DetailKey{PK: a.PK, SK: a.SK}

	var record any
	switch {
	case a.Type == AssertLatest:
		cmd, err := mod.Commands.GetLatestItem(actx.Ctx, k)
		if err != nil || cmd == nil {
			return nil, err
		}
		record = cmd
	case a.Table == "command":
		cmd, err := mod.Commands.GetItem(actx.Ctx, k)
		if err != nil || cmd == nil {
			return nil, err
		}
		record = cmd
	case a.Table == "history":
		d, err := mod.History.GetItem(actx.Ctx, k)
		if err != nil || d == nil {
			return nil, err
		}
		record = d
	default:
		d, err := mod.Commands.Data().GetItem(actx.Ctx, k)
		if err != nil || d == nil {
			return nil, err
		}
		record = d
	}
	item, err := model.ToItem(record)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func assertRecord(index int, a Assertion, record map[string]any) error {
	if a.Absent {
		if record != nil {
			return &AssertionError{Index: index, Type: a.Type, Expected: "no record", Actual: fmt.Sprintf("version %v", record["version"])}
		}
		return nil
	}
	if record == nil {
		return &AssertionError{Index: index, Type: a.Type, Expected: fmt.Sprintf("record %s#%s", a.PK, a.SK), Actual: "none"}
	}
	if path, want, got, ok := matchSubset(a.Expect, record, ""); !ok {
		return &AssertionError{Index: index, Type: a.Type, Expected: fmt.Sprintf("%s = %v", path, want), Actual: fmt.Sprintf("%v", got)}
	}
	return nil
}

func assertCount(index int, a Assertion, n int) error {
	if n != *a.Count {
		return &AssertionError{Index: index, Type: a.Type, Expected: fmt.Sprintf("count %d", *a.Count), Actual: fmt.Sprintf("count %d", n)}
	}
	return nil
}

// matchSubset reports whether every field of want is present in got with
// an equal value. Nested objects match as subsets too. On mismatch it
// returns the first differing path.
func matchSubset(want, got map[string]any, prefix string) (string, any, any, bool) {
	for k, w := range want {
		path := prefix + k
		g, ok := got[k]
		if !ok {
			return path, w, nil, false
		}
		if wm, ok := w.(map[string]any); ok {
			gm, ok := g.(map[string]any)
			if !ok {
				return path, w, g, false
			}
			if p, pw, pg, ok := matchSubset(wm, gm, path+"."); !ok {
				return p, pw, pg, false
			}
			continue
		}
		if eq, err := canonical.Equal(w, g); err != nil || !eq {
			return path, w, g, false
		}
	}
	return "", nil, nil, true
}
