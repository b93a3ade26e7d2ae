// Package player implements ari's per-guild player state machine, its
// durable state store and the manager that owns the live players.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gieseladev/ari/internal/andesite"
	"github.com/gieseladev/ari/internal/entry"
	"github.com/gieseladev/ari/internal/types"
)

// VoiceUpdate is the cached voice session the node needs to (re)join a
// voice channel.
type VoiceUpdate struct {
	SessionID string         `json:"session_id"`
	Event     map[string]any `json:"event"`
}

// State is the per-guild scalar state in Redis. Every value is
// independently present or absent; decode failures degrade to absence.
type State struct {
	rdb     *redis.Client
	prefix  string
	guildID types.GuildID
	log     zerolog.Logger
}

func newState(rdb *redis.Client, prefix string, guildID types.GuildID, logger zerolog.Logger) *State {
	return &State{rdb: rdb, prefix: prefix, guildID: guildID, log: logger}
}

func (s *State) key(suffix string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, s.guildID, suffix)
}

func (s *State) connectedSetKey() string {
	return s.prefix + ":connected_players"
}

// Current returns the entry the node was last told to play.
func (s *State) Current(ctx context.Context) (entry.Entry, bool, error) {
	var e entry.Entry
	ok, err := s.getJSON(ctx, s.key("current"), &e)
	return e, ok, err
}

// SetCurrent stores the playing entry; nil deletes it.
func (s *State) SetCurrent(ctx context.Context, e *entry.Entry) error {
	return s.setJSON(ctx, s.key("current"), e == nil, e)
}

// Connected reports the last observed voice-state transition.
func (s *State) Connected(ctx context.Context) (bool, error) {
	v, err := s.rdb.Get(ctx, s.key("connected")).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get connected flag of %s: %w", s.guildID, err)
	}
	return v == "1", nil
}

// SetConnected stores the connected flag and keeps the recovery set
// <prefix>:connected_players in sync, in one transaction.
func (s *State) SetConnected(ctx context.Context, connected bool) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if connected {
			pipe.Set(ctx, s.key("connected"), "1", 0)
			pipe.SAdd(ctx, s.connectedSetKey(), s.guildID.String())
		} else {
			pipe.Del(ctx, s.key("connected"))
			pipe.SRem(ctx, s.connectedSetKey(), s.guildID.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set connected flag of %s: %w", s.guildID, err)
	}
	return nil
}

// NodeState returns the cached node player snapshot.
func (s *State) NodeState(ctx context.Context) (andesite.PlayerState, bool, error) {
	var st andesite.PlayerState
	ok, err := s.getJSON(ctx, s.key("andesite:player"), &st)
	return st, ok, err
}

// SetNodeState stores the node player snapshot; nil deletes it.
func (s *State) SetNodeState(ctx context.Context, st *andesite.PlayerState) error {
	return s.setJSON(ctx, s.key("andesite:player"), st == nil, st)
}

// VoiceUpdate returns the cached voice session.
func (s *State) VoiceUpdate(ctx context.Context) (VoiceUpdate, bool, error) {
	var v VoiceUpdate
	ok, err := s.getJSON(ctx, s.key("andesite:voice"), &v)
	return v, ok, err
}

// SetVoiceUpdate stores the voice session; nil deletes it.
func (s *State) SetVoiceUpdate(ctx context.Context, v *VoiceUpdate) error {
	return s.setJSON(ctx, s.key("andesite:voice"), v == nil, v)
}

// TrackBlob returns the descriptor last sent to the node.
func (s *State) TrackBlob(ctx context.Context) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key("andesite:track")).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get track blob of %s: %w", s.guildID, err)
	}
	return v, true, nil
}

// SetTrackBlob stores the descriptor; nil deletes it.
func (s *State) SetTrackBlob(ctx context.Context, blob *string) error {
	key := s.key("andesite:track")
	if blob == nil {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
		return nil
	}
	if err := s.rdb.Set(ctx, key, *blob, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Volume returns the current volume (1.0 = 100%), defaulting to full when
// no snapshot is cached.
func (s *State) Volume(ctx context.Context) (float64, error) {
	st, ok, err := s.NodeState(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1.0, nil
	}
	return st.Volume / 100, nil
}

// Paused reports the cached pause state.
func (s *State) Paused(ctx context.Context) (bool, error) {
	st, ok, err := s.NodeState(ctx)
	if err != nil {
		return false, err
	}
	return ok && st.Paused, nil
}

// Position returns the live playback position in seconds; ok is false when
// the node is not playing.
func (s *State) Position(ctx context.Context) (float64, bool, error) {
	st, ok, err := s.NodeState(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	pos := livePosition(st)
	if pos == nil {
		return 0, false, nil
	}
	return *pos, true, nil
}

// livePosition extrapolates the snapshot position to now, in seconds. A
// snapshot without a position means the node is not playing.
func livePosition(st andesite.PlayerState) *float64 {
	if st.Position == nil {
		return nil
	}
	pos := *st.Position / 1000
	if !st.Paused && st.Time > 0 {
		pos += time.Since(time.UnixMilli(st.Time)).Seconds()
	}
	return &pos
}

// getJSON reads an optional JSON value. Decode failures are logged and
// reported as absence.
func (s *State) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Error().Err(err).
			Str("event", "state.decode_failed").
			Str("key", key).
			Msg("undecodable state value, treating as absent")
		return false, nil
	}
	return true, nil
}

func (s *State) setJSON(ctx context.Context, key string, del bool, v any) error {
	if del {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
