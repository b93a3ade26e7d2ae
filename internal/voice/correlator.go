// Package voice pairs the two halves of a Discord voice handshake.
//
// A voice session needs a voice-state update (session id, channel) and a
// voice-server update (token, endpoint); they arrive on separate bus
// topics, in either order. The correlator holds the first half per guild
// until the second arrives, then forwards the pair to the audio node and
// the player in one go.
package voice

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gieseladev/ari/internal/player"
	"github.com/gieseladev/ari/internal/types"
)

// Players resolves guilds to their live player. *player.Manager satisfies
// it.
type Players interface {
	Get(guildID types.GuildID) *player.Player
}

// Correlator consumes the voice bus topics for one bot user.
type Correlator struct {
	userID  uint64
	players Players
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[types.GuildID]*pair
}

type pair struct {
	state  *stateHalf
	server map[string]any
}

type stateHalf struct {
	sessionID string
	channelID uint64
}

// NewCorrelator creates a correlator filtering voice states to the given
// bot user id.
func NewCorrelator(userID uint64, players Players, logger zerolog.Logger) *Correlator {
	return &Correlator{
		userID:  userID,
		players: players,
		log:     logger,
		pending: make(map[types.GuildID]*pair),
	}
}

// HandleVoiceState consumes a voice-state update. Updates for other users
// are ignored. An update without a channel means the bot left: the player
// is disconnected immediately and any pending pair state dropped.
func (c *Correlator) HandleVoiceState(ctx context.Context, data map[string]any) {
	userID, ok := snowflake(data["user_id"])
	if !ok || userID != c.userID {
		return
	}
	guildID, ok := snowflake(data["guild_id"])
	if !ok {
		return
	}
	guild := types.GuildID(guildID)

	channelID, hasChannel := snowflake(data["channel_id"])
	if !hasChannel {
		c.mu.Lock()
		delete(c.pending, guild)
		c.mu.Unlock()

		if err := c.players.Get(guild).OnDisconnect(ctx); err != nil {
			c.log.Error().Err(err).
				Str("event", "voice.disconnect_failed").
				Stringer("guild_id", guild).
				Msg("player disconnect failed")
		}
		return
	}

	sessionID, _ := data["session_id"].(string)
	c.mu.Lock()
	p := c.pair(guild)
	p.state = &stateHalf{sessionID: sessionID, channelID: channelID}
	c.mu.Unlock()

	c.tryComplete(ctx, guild)
}

// HandleVoiceServer consumes a voice-server update. The raw payload is
// what the audio node needs to join.
func (c *Correlator) HandleVoiceServer(ctx context.Context, data map[string]any) {
	guildID, ok := snowflake(data["guild_id"])
	if !ok {
		return
	}
	guild := types.GuildID(guildID)

	c.mu.Lock()
	c.pair(guild).server = data
	c.mu.Unlock()

	c.tryComplete(ctx, guild)
}

// pair returns the pending pair for the guild, creating it. Callers hold
// c.mu.
func (c *Correlator) pair(guild types.GuildID) *pair {
	p, ok := c.pending[guild]
	if !ok {
		p = &pair{}
		c.pending[guild] = p
	}
	return p
}

func (c *Correlator) tryComplete(ctx context.Context, guild types.GuildID) {
	c.mu.Lock()
	p, ok := c.pending[guild]
	if !ok || p.state == nil || p.server == nil {
		c.mu.Unlock()
		return
	}
	state, server := p.state, p.server
	delete(c.pending, guild)
	c.mu.Unlock()

	pl := c.players.Get(guild)
	err := pl.HandleVoiceServerUpdate(ctx, player.VoiceUpdate{
		SessionID: state.sessionID,
		Event:     server,
	})
	if err != nil {
		c.log.Error().Err(err).
			Str("event", "voice.forward_failed").
			Stringer("guild_id", guild).
			Msg("could not forward voice session to node")
		return
	}

	if err := pl.OnConnect(ctx, state.channelID); err != nil {
		c.log.Error().Err(err).
			Str("event", "voice.connect_failed").
			Stringer("guild_id", guild).
			Msg("player connect failed")
	}
}

// snowflake parses an id that may arrive as a string or a number; JSON
// transports deliver numbers as float64.
func snowflake(v any) (uint64, bool) {
	switch id := v.(type) {
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		return n, err == nil
	case float64:
		return uint64(id), true
	case int64:
		return uint64(id), true
	case int:
		return uint64(id), true
	case uint64:
		return id, true
	}
	return 0, false
}
