package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemRoundTripKeepsNumbersAndTimes(t *testing.T) {
	ttl := int64(1767225600)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cmd := Command{
		PK:         "ORDER#acme",
		SK:         "ORD1@2",
		Version:    2,
		TTL:        &ttl,
		Attributes: map[string]any{"qty": 3.0},
		CreatedAt:  at,
	}

	item, err := ToItem(cmd)
	require.NoError(t, err)
	assert.Equal(t, 2.0, item["version"])
	_, hasUpdatedAt := item["updatedAt"]
	assert.False(t, hasUpdatedAt, "zero times are omitted")

	back, err := FromItem[Command](item)
	require.NoError(t, err)
	assert.Equal(t, cmd.Version, back.Version)
	assert.Equal(t, ttl, *back.TTL)
	assert.True(t, at.Equal(back.CreatedAt))
	assert.Equal(t, cmd.Attributes, back.Attributes)

	none, err := FromItem[Command](nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMergeDeep(t *testing.T) {
	dst := map[string]any{
		"a": 1,
		"nested": map[string]any{"x": 1, "y": 2},
		"list":   []any{1, 2},
	}
	src := map[string]any{
		"nested": map[string]any{"y": 3, "z": 4},
		"list":   []any{9},
		"b":      "new",
	}

	out := MergeDeep(dst, src)
	assert.Equal(t, map[string]any{
		"a":      1,
		"b":      "new",
		"nested": map[string]any{"x": 1, "y": 3, "z": 4},
		"list":   []any{9},
	}, out)
}

func TestApplyPartial(t *testing.T) {
	ttl := int64(100)
	base := &Command{
		PK:         "P",
		SK:         "S@3",
		Code:       "S",
		Name:       "old",
		Version:    3,
		TTL:        &ttl,
		Attributes: map[string]any{"a": 1.0, "m": map[string]any{"k": "v"}},
	}
	name := "new"

	in := ApplyPartial(base, PartialInput{PK: "P", SK: "S", Name: &name, Attributes: map[string]any{"b": 2.0}})

	assert.Equal(t, "S", in.SK)
	assert.Equal(t, "new", in.Name)
	assert.Equal(t, "S", in.Code)
	assert.Equal(t, 3, in.Version)
	assert.Nil(t, in.TTL, "ttl is dropped unless set")
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "m": map[string]any{"k": "v"}}, in.Attributes)
	assert.Equal(t, map[string]any{"a": 1.0, "m": map[string]any{"k": "v"}}, base.Attributes, "base untouched")
}
