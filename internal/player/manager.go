package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gieseladev/ari/internal/andesite"
	"github.com/gieseladev/ari/internal/entry"
	"github.com/gieseladev/ari/internal/event"
	"github.com/gieseladev/ari/internal/meta"
	"github.com/gieseladev/ari/internal/metrics"
	"github.com/gieseladev/ari/internal/types"
)

// recoveryConcurrency bounds how many players rehydrate at once.
const recoveryConcurrency = 10

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Redis *redis.Client
	// Prefix is the Redis key namespace, e.g. "ari".
	Prefix   string
	Node     Node
	Resolver meta.Resolver
	Events   *event.Bus
	// MaxIdle and IdleTTL bound the in-memory player registry. Evicted
	// players lose only their in-memory handle; Redis keeps the state and
	// the next Get rehydrates.
	MaxIdle int
	IdleTTL time.Duration
	Logger  zerolog.Logger
}

// Manager owns the live players, one per guild, and drives crash
// recovery.
type Manager struct {
	rdb      *redis.Client
	prefix   string
	node     Node
	resolver meta.Resolver
	events   *event.Bus
	log      zerolog.Logger

	mu      sync.Mutex
	players *expirable.LRU[types.GuildID, *Player]
}

// NewManager creates a manager.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		rdb:      opts.Redis,
		prefix:   opts.Prefix,
		node:     opts.Node,
		resolver: opts.Resolver,
		events:   opts.Events,
		log:      opts.Logger,
	}
	m.players = expirable.NewLRU[types.GuildID, *Player](opts.MaxIdle, m.onEvict, opts.IdleTTL)
	return m
}

func (m *Manager) onEvict(guildID types.GuildID, _ *Player) {
	metrics.PlayersLive.Set(float64(m.players.Len()))
	m.log.Debug().
		Str("event", "manager.player_evicted").
		Stringer("guild_id", guildID).
		Msg("dropped idle player handle")
}

// Events returns the shared event bus the players emit on.
func (m *Manager) Events() *event.Bus { return m.events }

// Get returns the guild's live player, creating it when none exists. At
// most one player per guild is live at any instant.
func (m *Manager) Get(guildID types.GuildID) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players.Get(guildID); ok {
		return p
	}

	logger := m.log.With().Stringer("guild_id", guildID).Logger()
	base := fmt.Sprintf("%s:%s", m.prefix, guildID)
	p := &Player{
		guildID:  guildID,
		queue:    entry.NewStore(m.rdb, base+":queue", logger),
		history:  entry.NewStore(m.rdb, base+":history", logger),
		state:    newState(m.rdb, m.prefix, guildID, logger),
		node:     m.node,
		resolver: m.resolver,
		events:   m.events,
		log:      logger,
	}
	m.players.Add(guildID, p)
	metrics.PlayersLive.Set(float64(m.players.Len()))
	return p
}

// HandlePlayerUpdate caches a node player snapshot. Part of the
// andesite.Handler surface.
func (m *Manager) HandlePlayerUpdate(ctx context.Context, guildID types.GuildID, state andesite.PlayerState) {
	if err := m.Get(guildID).state.SetNodeState(ctx, &state); err != nil {
		m.log.Error().Err(err).
			Str("event", "manager.snapshot_store_failed").
			Stringer("guild_id", guildID).
			Msg("could not cache node snapshot")
	}
}

// HandleTrackEnd dispatches a track end to the guild's player. Part of
// the andesite.Handler surface.
func (m *Manager) HandleTrackEnd(ctx context.Context, guildID types.GuildID, evt andesite.TrackEndEvent) {
	if err := m.Get(guildID).OnTrackEnd(ctx, evt); err != nil {
		m.log.Error().Err(err).
			Str("event", "manager.track_end_failed").
			Stringer("guild_id", guildID).
			Str("reason", string(evt.Reason)).
			Msg("track end handling failed")
	}
}

// RecoverAll rehydrates node-side state for every guild in the
// connected-players set. Individual failures are logged and counted, never
// fatal; the guild stays in the set for the next attempt.
func (m *Manager) RecoverAll(ctx context.Context) error {
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, recoveryConcurrency)
	)

	iter := m.rdb.SScan(ctx, m.prefix+":connected_players", 0, "", 0).Iterator()
	for iter.Next(ctx) {
		guildID, err := types.ParseGuildID(iter.Val())
		if err != nil {
			m.log.Warn().Err(err).
				Str("event", "manager.recovery_bad_guild").
				Str("member", iter.Val()).
				Msg("skipping unparseable connected player")
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			m.recoverOne(ctx, guildID)
		}()
	}
	wg.Wait()

	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan connected players: %w", err)
	}
	return nil
}

func (m *Manager) recoverOne(ctx context.Context, guildID types.GuildID) {
	if err := m.Get(guildID).RecoverState(ctx); err != nil {
		metrics.IncRecovery("error")
		m.log.Error().Err(err).
			Str("event", "manager.recovery_failed").
			Stringer("guild_id", guildID).
			Msg("player recovery failed")
		return
	}
	metrics.IncRecovery("ok")
	m.log.Info().
		Str("event", "manager.recovered").
		Stringer("guild_id", guildID).
		Msg("player state recovered")
}
