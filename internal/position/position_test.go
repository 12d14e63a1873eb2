package position

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slot struct {
	list string
	pos  int
}

// board is a toy list layout used to apply plans and check density.
type board map[string]slot

func (b board) count(list string) int {
	n := 0
	for _, s := range b {
		if s.list == list {
			n++
		}
	}
	return n
}

func (b board) order(list string) []string {
	var ids []string
	for id, s := range b {
		if s.list == list {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return b[ids[i]].pos < b[ids[j]].pos })
	return ids
}

func (b board) apply(plan Plan, moving string) {
	for id, s := range b {
		if id == moving {
			continue
		}
		for _, shift := range plan.Shifts {
			if shift.ListID == s.list && shift.Covers(s.pos) {
				s.pos += shift.Delta
			}
		}
		b[id] = s
	}
	if moving != "" {
		b[moving] = slot{list: plan.ListID, pos: plan.Position}
	}
}

func requireDense(t *testing.T, b board, list string) {
	t.Helper()
	for i, id := range b.order(list) {
		require.Equal(t, i, b[id].pos, "list %s not dense at %s", list, id)
	}
}

func seed(list string, ids ...string) board {
	b := board{}
	for i, id := range ids {
		b[id] = slot{list: list, pos: i}
	}
	return b
}

func TestMoveBackwardWithinList(t *testing.T) {
	b := seed("L", "a", "b", "c")
	plan, err := Move("L", 2, "L", 0, b.count("L"))
	require.NoError(t, err)

	b.apply(plan, "c")
	assert.Equal(t, []string{"c", "a", "b"}, b.order("L"))
	requireDense(t, b, "L")
}

func TestMoveForwardWithinList(t *testing.T) {
	b := seed("L", "a", "b", "c", "d")
	plan, err := Move("L", 0, "L", 2, b.count("L"))
	require.NoError(t, err)

	b.apply(plan, "a")
	assert.Equal(t, []string{"b", "c", "a", "d"}, b.order("L"))
	requireDense(t, b, "L")
}

func TestMoveToSamePositionIsNoop(t *testing.T) {
	plan, err := Move("L", 1, "L", 1, 3)
	require.NoError(t, err)
	assert.Empty(t, plan.Shifts)
	assert.Equal(t, 1, plan.Position)
}

func TestMoveAcrossLists(t *testing.T) {
	b := seed("A", "a0", "a1", "a2")
	for id, s := range seed("B", "b0", "b1") {
		b[id] = s
	}
	plan, err := Move("A", 1, "B", 1, b.count("B"))
	require.NoError(t, err)

	b.apply(plan, "a1")
	assert.Equal(t, []string{"a0", "a2"}, b.order("A"))
	assert.Equal(t, []string{"b0", "a1", "b1"}, b.order("B"))
	requireDense(t, b, "A")
	requireDense(t, b, "B")
	assert.ElementsMatch(t, []string{"A", "B"}, plan.Lists())
}

func TestMoveClampsTarget(t *testing.T) {
	plan, err := Move("L", 0, "L", 99, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Position)

	plan, err = Move("A", 0, "B", 99, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Position)
}

func TestMoveRejectsNegativeTarget(t *testing.T) {
	_, err := Move("L", 0, "L", -1, 3)
	require.Error(t, err)
}

func TestInsertShiftsTail(t *testing.T) {
	b := seed("L", "a", "b", "c")
	plan := Insert("L", 1, b.count("L"))
	b["n"] = slot{list: "L", pos: -100}
	b.apply(plan, "n")
	assert.Equal(t, []string{"a", "n", "b", "c"}, b.order("L"))
	requireDense(t, b, "L")
}

func TestInsertDefaultsToAppend(t *testing.T) {
	plan := Insert("L", -1, 3)
	assert.Equal(t, 3, plan.Position)
	assert.Empty(t, plan.Shifts)

	plan = Insert("L", 10, 3)
	assert.Equal(t, 3, plan.Position)
}

func TestRemoveClosesGap(t *testing.T) {
	b := seed("L", "a", "b", "c", "d")
	delete(b, "b")
	b.apply(Remove("L", 1), "")
	assert.Equal(t, []string{"a", "c", "d"}, b.order("L"))
	requireDense(t, b, "L")
}

type versionReader struct {
	versions map[string]int64
	reads    int
}

func (r *versionReader) ListSnapshot(_ context.Context, listID string) (Snapshot, error) {
	r.reads++
	return Snapshot{ListID: listID, Version: r.versions[listID]}, nil
}

func TestAllocatorRetriesOnConflict(t *testing.T) {
	reader := &versionReader{versions: map[string]int64{"L": 1}}
	alloc := NewAllocator(reader, 3, nil)

	calls := 0
	err := alloc.Run(context.Background(), func(txn *Txn) error {
		calls++
		snap, err := txn.Snapshot("L")
		require.NoError(t, err)
		if calls == 1 {
			reader.versions["L"] = 2
			return ErrConflict
		}
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, map[string]int64{"L": 2}, txn.Versions())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAllocatorExhaustsBudget(t *testing.T) {
	alloc := NewAllocator(&versionReader{versions: map[string]int64{}}, 2, nil)
	calls := 0
	err := alloc.Run(context.Background(), func(*Txn) error {
		calls++
		return ErrConflict
	})
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 2, calls)
}

func TestAllocatorStopsOnOtherErrors(t *testing.T) {
	alloc := NewAllocator(&versionReader{}, 5, nil)
	boom := errors.New("boom")
	calls := 0
	err := alloc.Run(context.Background(), func(*Txn) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
