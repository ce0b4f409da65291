package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receive with a timeout so tests never hang
func recv[T any](t *testing.T, ch <-chan T, within time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("watch channel closed unexpectedly")
		}
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for watch value")
	}
	var zero T
	return zero
}

type item struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Rank  int    `json:"rank"`
}

func TestMemory_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	snap, err := s.Create(ctx, "things", item{Name: "a", State: "waiting"})
	require.NoError(t, err)
	require.NotEmpty(t, snap.ID)
	assert.EqualValues(t, 1, snap.Version)

	got, err := s.Get(ctx, "things", snap.ID)
	require.NoError(t, err)
	var it item
	require.NoError(t, got.Decode(&it))
	assert.Equal(t, "a", it.Name)

	up, err := PatchDoc(ctx, s, "things", snap.ID,
		Set(P("state"), "in_progress"),
		Set(P("members", "u1", "score"), 30),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 2, up.Version)
	v, ok := lookup(up.Data, P("members", "u1", "score"))
	require.True(t, ok)
	assert.Equal(t, float64(30), v)

	up, err = PatchDoc(ctx, s, "things", snap.ID, Unset(P("members", "u1")))
	require.NoError(t, err)
	_, ok = lookup(up.Data, P("members", "u1"))
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "things", snap.ID))
	_, err = s.Get(ctx, "things", snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	// idempotent
	require.NoError(t, s.Delete(ctx, "things", snap.ID))
}

func TestMemory_UpdateFuncErrorAndNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	snap, err := s.Create(ctx, "things", item{Name: "a"})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(ctx, "things", snap.ID, func(Doc) ([]Patch, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	same, err := s.Update(ctx, "things", snap.ID, func(Doc) ([]Patch, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, snap.Version, same.Version)

	_, err = s.Update(ctx, "things", "missing", func(Doc) ([]Patch, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpdateFuncGetsPrivateCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	snap, err := s.Create(ctx, "things", item{Name: "a"})
	require.NoError(t, err)

	_, err = s.Update(ctx, "things", snap.ID, func(d Doc) ([]Patch, error) {
		d["name"] = "mutated"
		return nil, nil
	})
	require.NoError(t, err)
	got, err := s.Get(ctx, "things", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Data["name"])
}

func TestMemory_ServerTimeStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	fixed := time.Unix(1_700_000_000, 0)
	s.SetClock(func() time.Time { return fixed })

	a, err := s.Create(ctx, "msgs", map[string]any{"text": "a"}, WithServerTime("timestamp"))
	require.NoError(t, err)
	b, err := s.Create(ctx, "msgs", map[string]any{"text": "b"}, WithServerTime("timestamp"))
	require.NoError(t, err)

	assert.Equal(t, float64(fixed.UnixMicro()), a.Data["timestamp"])
	assert.Greater(t, b.Data["timestamp"].(float64), a.Data["timestamp"].(float64))
}

func TestMemory_FindFiltersOrdersLimits(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, it := range []item{
		{Name: "a", State: "waiting", Rank: 3},
		{Name: "b", State: "waiting", Rank: 1},
		{Name: "c", State: "done", Rank: 2},
		{Name: "d", State: "waiting", Rank: 2},
	} {
		_, err := s.Create(ctx, "things", it)
		require.NoError(t, err)
	}

	names := func(snaps []Snapshot) []string {
		var out []string
		for _, sn := range snaps {
			out = append(out, sn.Data["name"].(string))
		}
		return out
	}

	res, err := s.Find(ctx, Query{
		Collection: "things",
		Filters:    []Filter{Where(P("state"), OpEq, "waiting")},
		OrderBy:    P("rank"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "a"}, names(res))

	res, err = s.Find(ctx, Query{
		Collection: "things",
		Filters:    []Filter{Where(P("rank"), OpGte, 2)},
		OrderBy:    P("rank"),
		Desc:       true,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, names(res))

	// no order: insertion order
	res, err = s.Find(ctx, Query{Collection: "things"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, names(res))

	_, err = s.Find(ctx, Query{Collection: "things", Filters: []Filter{{Path: P("x"), Op: "~"}}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMemory_WatchDocYieldsCurrentThenChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemory()
	snap, err := s.Create(ctx, "things", item{Name: "a"})
	require.NoError(t, err)

	ch, err := s.WatchDoc(ctx, "things", snap.ID)
	require.NoError(t, err)
	first := recv(t, ch, time.Second)
	assert.True(t, first.Exists)
	assert.EqualValues(t, 1, first.Version)

	_, err = PatchDoc(ctx, s, "things", snap.ID, Set(P("name"), "b"))
	require.NoError(t, err)
	next := recv(t, ch, time.Second)
	assert.Equal(t, "b", next.Data["name"])

	require.NoError(t, s.Delete(ctx, "things", snap.ID))
	gone := recv(t, ch, time.Second)
	assert.False(t, gone.Exists)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestMemory_WatchCoalescesToLatest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemory()
	snap, err := s.Create(ctx, "things", item{Name: "a"})
	require.NoError(t, err)
	ch, err := s.WatchDoc(ctx, "things", snap.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = PatchDoc(ctx, s, "things", snap.ID, Set(P("rank"), i))
		require.NoError(t, err)
	}
	latest := recv(t, ch, time.Second)
	assert.EqualValues(t, 6, latest.Version)
	assert.Equal(t, float64(4), latest.Data["rank"])
}

func TestMemory_WatchQueryAndDeleteCollection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemory()
	col := Sub("rooms", "r1", "messages")

	ch, err := s.WatchQuery(ctx, Query{Collection: col, OrderBy: P("timestamp")})
	require.NoError(t, err)
	assert.Empty(t, recv(t, ch, time.Second))

	_, err = s.Create(ctx, col, map[string]any{"text": "hi"}, WithServerTime("timestamp"))
	require.NoError(t, err)
	assert.Len(t, recv(t, ch, time.Second), 1)

	n, err := s.DeleteCollection(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, recv(t, ch, time.Second))
}

func TestMemory_ClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Close())
	_, err := s.Create(ctx, "things", item{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = s.WatchDoc(ctx, "things", "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}
