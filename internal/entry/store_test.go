package entry

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	entryA = Entry{Aid: strings.Repeat("a", 32), Eid: "eid-a"}
	entryB = Entry{Aid: strings.Repeat("b", 32), Eid: "eid-b"}
	entryC = Entry{Aid: strings.Repeat("c", 32), Eid: "eid-c"}
	entryD = Entry{Aid: strings.Repeat("d", 32), Eid: "eid-d"}
)

// setupStore creates a test Redis server and a store bound to it.
func setupStore(t *testing.T) (*redis.Client, *Store) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, NewStore(client, "ari:test:queue", zerolog.Nop())
}

func seedEntries(t *testing.T, s *Store, entries ...Entry) {
	t.Helper()
	ctx := context.Background()
	for _, e := range entries {
		_, err := s.AddEnd(ctx, e)
		require.NoError(t, err)
	}
}

func orderAids(t *testing.T, client *redis.Client, s *Store) []string {
	t.Helper()
	aids, err := client.LRange(context.Background(), s.orderKey(), 0, -1).Result()
	require.NoError(t, err)
	return aids
}

func entryAids(entries []Entry) []string {
	aids := make([]string, len(entries))
	for i, e := range entries {
		aids[i] = e.Aid
	}
	return aids
}

func TestStoreAddGet(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	n, err := s.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	got, err := s.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, entryA, got)

	got, err = s.Get(ctx, -1)
	require.NoError(t, err)
	require.Equal(t, entryD, got)

	got, err = s.GetByID(ctx, entryC.Aid)
	require.NoError(t, err)
	require.Equal(t, entryC, got)

	_, err = s.Get(ctx, 4)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByID(ctx, strings.Repeat("0", 32))
	require.ErrorIs(t, err, ErrNotFound)

	idx, err := s.Index(ctx, entryB.Aid)
	require.NoError(t, err)
	require.Equal(t, int64(1), idx)

	_, err = s.Index(ctx, strings.Repeat("0", 32))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreMetaRoundTrip(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	e := Entry{
		Aid: NewAID(),
		Eid: "eid-meta",
		Meta: map[string]any{
			"requester": "190862624127942657",
			"loop":      true,
		},
	}
	_, err := s.AddEnd(ctx, e)
	require.NoError(t, err)

	got, err := s.GetByID(ctx, e.Aid)
	require.NoError(t, err)
	require.Equal(t, e.Eid, got.Eid)
	require.Equal(t, "190862624127942657", got.Meta["requester"])
	require.Equal(t, true, got.Meta["loop"])
}

func TestStoreAddDuplicate(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA)

	_, err := s.AddEnd(ctx, entryA)
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = s.AddStart(ctx, entryA)
	require.ErrorIs(t, err, ErrDuplicate)

	n, err := s.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestStoreAddReturnsLength(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	n, err := s.AddEnd(ctx, entryA)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.AddEnd(ctx, entryB)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = s.AddStart(ctx, entryC)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestStorePop(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	e, ok, err := s.PopStart(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entryA, e)

	e, ok, err = s.PopEnd(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entryD, e)

	// Payload removal is part of the pop.
	_, err = s.GetByID(ctx, entryA.Aid)
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, []string{entryB.Aid, entryC.Aid}, orderAids(t, client, s))

	_, _, err = s.PopStart(ctx)
	require.NoError(t, err)
	_, _, err = s.PopEnd(ctx)
	require.NoError(t, err)

	_, ok, err = s.PopStart(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreRemove(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC)

	removed, err := s.Remove(ctx, entryB.Aid)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, []string{entryA.Aid, entryC.Aid}, orderAids(t, client, s))

	removed, err = s.Remove(ctx, entryB.Aid)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestStoreClear(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB)

	require.NoError(t, s.Clear(ctx))

	n, err := s.Length(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	// Idempotent.
	require.NoError(t, s.Clear(ctx))
}

func TestStoreSlice(t *testing.T) {
	ptr := func(v int64) *int64 { return &v }

	cases := []struct {
		name string
		sl   Slice
		want []Entry
	}{
		{"full", Slice{}, []Entry{entryA, entryB, entryC, entryD}},
		{"from 2", Slice{Start: ptr(2)}, []Entry{entryC, entryD}},
		{"to 2", Slice{Stop: ptr(2)}, []Entry{entryA, entryB}},
		{"inner", Slice{Start: ptr(1), Stop: ptr(-1)}, []Entry{entryB, entryC}},
		{"last", Slice{Start: ptr(-1)}, []Entry{entryD}},
		{"every other", Slice{Step: 2}, []Entry{entryA, entryC}},
		{"every other offset", Slice{Start: ptr(1), Step: 2}, []Entry{entryB, entryD}},
		{"reverse", Slice{Step: -1}, []Entry{entryD, entryC, entryB, entryA}},
		{"reverse window", Slice{Start: ptr(3), Stop: ptr(1), Step: -1}, []Entry{entryD, entryC}},
		{"negative reverse", Slice{Start: ptr(-1), Stop: ptr(-5), Step: -1}, []Entry{entryD, entryC, entryB, entryA}},
		{"past end", Slice{Start: ptr(10)}, nil},
		{"empty stop", Slice{Stop: ptr(0)}, nil},
	}

	_, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Slice(ctx, tc.sl)
			require.NoError(t, err)
			if diff := cmp.Diff(entryAids(tc.want), entryAids(got)); diff != "" {
				t.Errorf("slice %s mismatch (-want +got):\n%s", tc.sl, diff)
			}
		})
	}
}

func TestStorePage(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	page, err := s.Page(ctx, 0, 3)
	require.NoError(t, err)
	require.Equal(t, []string{entryA.Aid, entryB.Aid, entryC.Aid}, entryAids(page))

	page, err = s.Page(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []string{entryD.Aid}, entryAids(page))

	page, err = s.Page(ctx, 2, 3)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestStoreMove(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	moved, err := s.Move(ctx, entryD.Aid, 0, WhenceAbsolute)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, entryAids([]Entry{entryD, entryA, entryB, entryC}), orderAids(t, client, s))

	idx, err := s.Index(ctx, entryD.Aid)
	require.NoError(t, err)
	require.Equal(t, int64(0), idx)

	abs, err := s.ToAbsoluteIndex(ctx, 0, WhenceAbsolute)
	require.NoError(t, err)
	require.Equal(t, int64(0), abs)

	moved, err = s.Move(ctx, entryD.Aid, 3, WhenceAfter)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, entryAids([]Entry{entryA, entryB, entryC, entryD}), orderAids(t, client, s))

	abs, err = s.ToAbsoluteIndex(ctx, 3, WhenceAfter)
	require.NoError(t, err)
	require.Equal(t, int64(3), abs)

	moved, err = s.Move(ctx, entryA.Aid, 2, WhenceBefore)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, entryAids([]Entry{entryB, entryA, entryC, entryD}), orderAids(t, client, s))

	abs, err = s.ToAbsoluteIndex(ctx, 2, WhenceBefore)
	require.NoError(t, err)
	require.Equal(t, int64(1), abs)

	moved, err = s.Move(ctx, entryB.Aid, 2, WhenceBefore)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, entryAids([]Entry{entryA, entryB, entryC, entryD}), orderAids(t, client, s))
}

func TestStoreMoveAbsent(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	// Pivot index out of range.
	moved, err := s.Move(ctx, entryD.Aid, 50000, WhenceAbsolute)
	require.NoError(t, err)
	require.False(t, moved)

	// Unknown aid.
	moved, err = s.Move(ctx, strings.Repeat("0", 32), 0, WhenceBefore)
	require.NoError(t, err)
	require.False(t, moved)

	require.Equal(t, entryAids([]Entry{entryA, entryB, entryC, entryD}), orderAids(t, client, s))
}

func TestStoreMoveNegativeIndex(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	moved, err := s.Move(ctx, entryA.Aid, -1, WhenceAbsolute)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, entryAids([]Entry{entryB, entryC, entryD, entryA}), orderAids(t, client, s))
}

func TestStoreToAbsoluteIndexClamps(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	abs, err := s.ToAbsoluteIndex(ctx, 0, WhenceBefore)
	require.NoError(t, err)
	require.Equal(t, int64(0), abs)

	abs, err = s.ToAbsoluteIndex(ctx, 3, WhenceAfter)
	require.NoError(t, err)
	require.Equal(t, int64(3), abs)

	abs, err = s.ToAbsoluteIndex(ctx, 9, WhenceAbsolute)
	require.NoError(t, err)
	require.Equal(t, int64(3), abs)
}

func TestStoreShuffleSeeded(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	require.NoError(t, s.ShuffleSeeded(ctx, 42))
	require.Equal(t, entryAids([]Entry{entryD, entryA, entryB, entryC}), orderAids(t, client, s))

	require.NoError(t, s.ShuffleSeeded(ctx, 42))
	require.Equal(t, entryAids([]Entry{entryC, entryD, entryA, entryB}), orderAids(t, client, s))
}

func TestStoreShuffleKeepsEntries(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA, entryB, entryC, entryD)

	require.NoError(t, s.Shuffle(ctx))

	got := orderAids(t, client, s)
	require.ElementsMatch(t, entryAids([]Entry{entryA, entryB, entryC, entryD}), got)

	// Payloads survive a shuffle.
	for _, e := range []Entry{entryA, entryB, entryC, entryD} {
		_, err := s.GetByID(ctx, e.Aid)
		require.NoError(t, err)
	}
}

func TestStoreDecodeFailureIsAbsence(t *testing.T) {
	client, s := setupStore(t)
	ctx := context.Background()
	seedEntries(t, s, entryA)

	bad := strings.Repeat("f", 32)
	require.NoError(t, client.RPush(ctx, s.orderKey(), bad).Err())
	require.NoError(t, client.HSet(ctx, s.infoKey(), bad, "not msgpack").Err())

	_, err := s.GetByID(ctx, bad)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)

	// Slices skip the broken element instead of failing.
	entries, err := s.Slice(ctx, Slice{})
	require.NoError(t, err)
	require.Equal(t, []string{entryA.Aid}, entryAids(entries))
}
