package player

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gieseladev/ari/internal/andesite"
	"github.com/gieseladev/ari/internal/entry"
	"github.com/gieseladev/ari/internal/types"
)

func setupState(t *testing.T) (*miniredis.Miniredis, *State) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, newState(client, "ari", types.GuildID(7), zerolog.Nop())
}

func TestStateCurrentRoundTrip(t *testing.T) {
	_, s := setupState(t)
	ctx := context.Background()

	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	e := entry.New("eid-1")
	require.NoError(t, s.SetCurrent(ctx, &e))

	got, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e, got)

	require.NoError(t, s.SetCurrent(ctx, nil))
	_, ok, err = s.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateConnectedMaintainsRecoverySet(t *testing.T) {
	_, s := setupState(t)
	ctx := context.Background()

	connected, err := s.Connected(ctx)
	require.NoError(t, err)
	require.False(t, connected)

	require.NoError(t, s.SetConnected(ctx, true))
	connected, err = s.Connected(ctx)
	require.NoError(t, err)
	require.True(t, connected)
	member, err := s.rdb.SIsMember(ctx, "ari:connected_players", "7").Result()
	require.NoError(t, err)
	require.True(t, member)

	require.NoError(t, s.SetConnected(ctx, false))
	connected, err = s.Connected(ctx)
	require.NoError(t, err)
	require.False(t, connected)
	member, err = s.rdb.SIsMember(ctx, "ari:connected_players", "7").Result()
	require.NoError(t, err)
	require.False(t, member)
}

func TestStateDecodeFailureIsAbsence(t *testing.T) {
	mr, s := setupState(t)
	ctx := context.Background()

	mr.Set("ari:7:current", "{not json")
	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	mr.Set("ari:7:andesite:player", "also not json")
	vol, err := s.Volume(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, vol, "undecodable snapshot must fall back to the default")
}

func TestStateSnapshotDerived(t *testing.T) {
	_, s := setupState(t)
	ctx := context.Background()

	// Defaults with no snapshot cached.
	vol, err := s.Volume(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, vol)
	paused, err := s.Paused(ctx)
	require.NoError(t, err)
	require.False(t, paused)
	_, ok, err := s.Position(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	pos := 42500.0
	st := andesite.PlayerState{
		Time:     time.Now().UnixMilli(),
		Position: &pos,
		Paused:   true,
		Volume:   50,
	}
	require.NoError(t, s.SetNodeState(ctx, &st))

	vol, err = s.Volume(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.5, vol)

	paused, err = s.Paused(ctx)
	require.NoError(t, err)
	require.True(t, paused)

	// Paused snapshots do not extrapolate.
	got, ok, err := s.Position(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42.5, got)

	// Unpaused snapshots do.
	st.Paused = false
	st.Time = time.Now().Add(-2 * time.Second).UnixMilli()
	require.NoError(t, s.SetNodeState(ctx, &st))
	got, ok, err = s.Position(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 44.5, got, 0.5)
}

func TestStateVoiceAndTrack(t *testing.T) {
	_, s := setupState(t)
	ctx := context.Background()

	v := VoiceUpdate{
		SessionID: "sess",
		Event:     map[string]any{"token": "tok", "endpoint": "eu.discord.media"},
	}
	require.NoError(t, s.SetVoiceUpdate(ctx, &v))
	got, ok, err := s.VoiceUpdate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v, got)

	require.NoError(t, s.SetVoiceUpdate(ctx, nil))
	_, ok, err = s.VoiceUpdate(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	blob := "dGVzdA=="
	require.NoError(t, s.SetTrackBlob(ctx, &blob))
	gotBlob, ok, err := s.TrackBlob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blob, gotBlob)

	require.NoError(t, s.SetTrackBlob(ctx, nil))
	_, ok, err = s.TrackBlob(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
