package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gieseladev/ari/internal/andesite"
	"github.com/gieseladev/ari/internal/event"
	"github.com/gieseladev/ari/internal/meta"
	"github.com/gieseladev/ari/internal/player"
	"github.com/gieseladev/ari/internal/types"
)

const botUser = uint64(190862624127942657)

// fakeNode records voice forwards and swallows everything else.
type fakeNode struct {
	mu     sync.Mutex
	voices []string // session ids
}

func (n *fakeNode) Play(context.Context, types.GuildID, andesite.PlayOptions) error { return nil }
func (n *fakeNode) Pause(context.Context, types.GuildID, bool) error                { return nil }
func (n *fakeNode) Seek(context.Context, types.GuildID, float64) error              { return nil }
func (n *fakeNode) SetVolume(context.Context, types.GuildID, float64) error         { return nil }
func (n *fakeNode) Stop(context.Context, types.GuildID) error                       { return nil }

func (n *fakeNode) VoiceServerUpdate(_ context.Context, _ types.GuildID, sessionID string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.voices = append(n.voices, sessionID)
	return nil
}

func (n *fakeNode) sessions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.voices...)
}

type nopResolver struct{}

func (nopResolver) AudioSource(_ context.Context, eid string) (meta.AudioSource, error) {
	return meta.AudioSource{Source: "youtube", Identifier: eid}, nil
}

func (nopResolver) TrackInfo(context.Context, string) (meta.TrackInfo, error) {
	return meta.TrackInfo{}, meta.ErrNotFound
}

type fixture struct {
	correlator *Correlator
	manager    *player.Manager
	node       *fakeNode
	connects   []event.Connect
	mu         sync.Mutex
}

func setup(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{node: &fakeNode{}}

	events := event.NewBus(zerolog.Nop())
	events.On("on_connect", func(ev event.Emitted) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.connects = append(f.connects, ev.Event.(event.Connect))
		return nil
	})

	f.manager = player.NewManager(player.ManagerOptions{
		Redis:    rdb,
		Prefix:   "ari",
		Node:     f.node,
		Resolver: nopResolver{},
		Events:   events,
		MaxIdle:  16,
		IdleTTL:  time.Minute,
		Logger:   zerolog.Nop(),
	})
	f.correlator = NewCorrelator(botUser, f.manager, zerolog.Nop())
	return f
}

func (f *fixture) connectEvents() []event.Connect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Connect(nil), f.connects...)
}

func stateUpdate(channel any) map[string]any {
	return map[string]any{
		"user_id":    "190862624127942657",
		"guild_id":   "7",
		"channel_id": channel,
		"session_id": "sess-1",
	}
}

func serverUpdate() map[string]any {
	return map[string]any{
		"guild_id": "7",
		"token":    "tok",
		"endpoint": "eu.discord.media:443",
	}
}

func TestCorrelatorPairsStateThenServer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.correlator.HandleVoiceState(ctx, stateUpdate("42"))
	require.Empty(t, f.node.sessions(), "half a pair must not reach the node")

	f.correlator.HandleVoiceServer(ctx, serverUpdate())

	require.Equal(t, []string{"sess-1"}, f.node.sessions())
	connects := f.connectEvents()
	require.Len(t, connects, 1)
	require.NotNil(t, connects[0].ChannelID)
	require.Equal(t, uint64(42), *connects[0].ChannelID)
}

func TestCorrelatorPairsServerThenState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.correlator.HandleVoiceServer(ctx, serverUpdate())
	require.Empty(t, f.node.sessions())

	f.correlator.HandleVoiceState(ctx, stateUpdate("42"))
	require.Equal(t, []string{"sess-1"}, f.node.sessions())
}

func TestCorrelatorConsumesPair(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.correlator.HandleVoiceState(ctx, stateUpdate("42"))
	f.correlator.HandleVoiceServer(ctx, serverUpdate())
	require.Len(t, f.node.sessions(), 1)

	// A second server update alone must wait for a fresh state half.
	f.correlator.HandleVoiceServer(ctx, serverUpdate())
	require.Len(t, f.node.sessions(), 1)
}

func TestCorrelatorIgnoresForeignUsers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	update := stateUpdate("42")
	update["user_id"] = "12345"
	f.correlator.HandleVoiceState(ctx, update)
	f.correlator.HandleVoiceServer(ctx, serverUpdate())

	require.Empty(t, f.node.sessions())
	require.Empty(t, f.connectEvents())
}

func TestCorrelatorDisconnectOnAbsentChannel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.correlator.HandleVoiceState(ctx, stateUpdate("42"))
	f.correlator.HandleVoiceServer(ctx, serverUpdate())
	require.Len(t, f.connectEvents(), 1)

	// Leaving: no channel id. Disconnect fires immediately and drops the
	// pending half so a later server update pairs with nothing.
	f.correlator.HandleVoiceState(ctx, stateUpdate(nil))

	connects := f.connectEvents()
	require.Len(t, connects, 2)
	require.Nil(t, connects[1].ChannelID)

	f.correlator.HandleVoiceServer(ctx, serverUpdate())
	require.Len(t, f.node.sessions(), 1)
}

func TestCorrelatorNumericIDs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// JSON transports may deliver small ids as float64.
	f.correlator.HandleVoiceState(ctx, map[string]any{
		"user_id":    "190862624127942657",
		"guild_id":   float64(7),
		"channel_id": float64(42),
		"session_id": "sess-1",
	})
	f.correlator.HandleVoiceServer(ctx, map[string]any{"guild_id": float64(7), "token": "tok"})

	require.Equal(t, []string{"sess-1"}, f.node.sessions())
}
