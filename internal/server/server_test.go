package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gieseladev/ari/internal/andesite"
	"github.com/gieseladev/ari/internal/bus"
	"github.com/gieseladev/ari/internal/entry"
	"github.com/gieseladev/ari/internal/event"
	"github.com/gieseladev/ari/internal/meta"
	"github.com/gieseladev/ari/internal/player"
	"github.com/gieseladev/ari/internal/types"
	"github.com/gieseladev/ari/internal/voice"
)

const testGuild = "190862624127942657"

// fakeSession implements bus.Session in memory. Registered procedures can
// be called directly and publishes are recorded.
type fakeSession struct {
	procedures  map[string]bus.InvocationHandler
	topics      map[string]bus.EventHandler
	publishes   []publication
	calls       []remoteCall
	callResult  bus.Result
	callErr     error
	registerErr error
	done        chan struct{}
}

type publication struct {
	topic  string
	args   []any
	kwargs map[string]any
}

type remoteCall struct {
	procedure string
	kwargs    map[string]any
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		procedures: make(map[string]bus.InvocationHandler),
		topics:     make(map[string]bus.EventHandler),
		done:       make(chan struct{}),
	}
}

func (s *fakeSession) Register(procedure string, h bus.InvocationHandler) error {
	if s.registerErr != nil {
		return s.registerErr
	}
	s.procedures[procedure] = h
	return nil
}

func (s *fakeSession) Subscribe(topic string, h bus.EventHandler) error {
	s.topics[topic] = h
	return nil
}

func (s *fakeSession) Publish(topic string, args []any, kwargs map[string]any) error {
	s.publishes = append(s.publishes, publication{topic: topic, args: args, kwargs: kwargs})
	return nil
}

func (s *fakeSession) Call(_ context.Context, procedure string, _ []any, kwargs map[string]any) (bus.Result, error) {
	s.calls = append(s.calls, remoteCall{procedure: procedure, kwargs: kwargs})
	return s.callResult, s.callErr
}

func (s *fakeSession) Close() error { close(s.done); return nil }

func (s *fakeSession) Done() <-chan struct{} { return s.done }

// invoke calls a registered procedure the way the router would.
func (s *fakeSession) invoke(t *testing.T, procedure string, args ...any) (bus.Result, error) {
	t.Helper()
	h, ok := s.procedures[procedure]
	require.True(t, ok, "procedure %s not registered", procedure)
	return h(context.Background(), bus.Invocation{Args: args})
}

type fakeNode struct {
	plays []andesite.PlayOptions
}

func (n *fakeNode) Play(_ context.Context, _ types.GuildID, opts andesite.PlayOptions) error {
	n.plays = append(n.plays, opts)
	return nil
}

func (n *fakeNode) Pause(context.Context, types.GuildID, bool) error { return nil }

func (n *fakeNode) Seek(context.Context, types.GuildID, float64) error { return nil }

func (n *fakeNode) SetVolume(context.Context, types.GuildID, float64) error { return nil }

func (n *fakeNode) Stop(context.Context, types.GuildID) error { return nil }
func (n *fakeNode) VoiceServerUpdate(context.Context, types.GuildID, string, map[string]any) error {
	return nil
}

type nopResolver struct{}

func (nopResolver) AudioSource(_ context.Context, eid string) (meta.AudioSource, error) {
	return meta.AudioSource{Source: "test", Identifier: eid}, nil
}

func (nopResolver) TrackInfo(context.Context, string) (meta.TrackInfo, error) {
	return meta.TrackInfo{}, meta.ErrNotFound
}

type fixture struct {
	session *fakeSession
	manager *player.Manager
	rdb     *redis.Client
}

func setup(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	manager := player.NewManager(player.ManagerOptions{
		Redis:    rdb,
		Prefix:   "ari",
		Node:     &fakeNode{},
		Resolver: nopResolver{},
		Events:   event.NewBus(zerolog.Nop()),
		MaxIdle:  16,
		IdleTTL:  time.Minute,
		Logger:   zerolog.Nop(),
	})

	session := newFakeSession()
	correlator := voice.NewCorrelator(1, manager, zerolog.Nop())
	srv := New(Options{
		Session:    session,
		Manager:    manager,
		Correlator: correlator,
		Prefix:     "io.giesela.ari.",
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, srv.Start(context.Background()))

	return &fixture{session: session, manager: manager, rdb: rdb}
}

func TestStartRegistersSurface(t *testing.T) {
	f := setup(t)

	for _, name := range []string{
		"connect", "disconnect", "queue", "history", "enqueue", "dequeue",
		"move", "pause", "set_volume", "seek", "skip_next", "skip_previous",
		"skip_next_chapter", "skip_previous_chapter",
	} {
		require.Contains(t, f.session.procedures, "io.giesela.ari."+name)
	}
	require.Contains(t, f.session.topics, "com.discord.on_voice_state_update")
	require.Contains(t, f.session.topics, "com.discord.on_voice_server_update")
}

func TestConnectForwardsVoiceStateCall(t *testing.T) {
	f := setup(t)

	_, err := f.session.invoke(t, "io.giesela.ari.connect", testGuild, "4815162342")
	require.NoError(t, err)

	require.Len(t, f.session.calls, 1)
	call := f.session.calls[0]
	require.Equal(t, "com.discord.update_voice_state", call.procedure)
	require.Equal(t, testGuild, call.kwargs["guild_id"])
	require.Equal(t, "4815162342", call.kwargs["channel_id"])
}

func TestDisconnectSendsNilChannel(t *testing.T) {
	f := setup(t)

	_, err := f.session.invoke(t, "io.giesela.ari.disconnect", testGuild)
	require.NoError(t, err)

	require.Len(t, f.session.calls, 1)
	require.Contains(t, f.session.calls[0].kwargs, "channel_id")
	require.Nil(t, f.session.calls[0].kwargs["channel_id"])
}

func TestEnqueueReturnsAid(t *testing.T) {
	f := setup(t)

	res, err := f.session.invoke(t, "io.giesela.ari.enqueue", testGuild, "eid-1")
	require.NoError(t, err)
	require.Len(t, res.Args, 1)
	aid, ok := res.Args[0].(string)
	require.True(t, ok)
	require.NotEmpty(t, aid)

	guildID, err := types.ParseGuildID(testGuild)
	require.NoError(t, err)
	entries, err := f.manager.Get(guildID).Queue().Slice(context.Background(), entry.Bounds(0, 10))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, aid, entries[0].Aid)
}

func TestQueuePagination(t *testing.T) {
	f := setup(t)

	for i := 0; i < 5; i++ {
		_, err := f.session.invoke(t, "io.giesela.ari.enqueue", testGuild, "eid")
		require.NoError(t, err)
	}

	res, err := f.session.invoke(t, "io.giesela.ari.queue", testGuild, float64(1), float64(2))
	require.NoError(t, err)
	require.Len(t, res.Args, 1)
	dicts, ok := res.Args[0].([]any)
	require.True(t, ok)
	require.Len(t, dicts, 2)
	require.Contains(t, dicts[0], "aid")
	require.Contains(t, dicts[0], "eid")
}

func TestDequeueReportsRemoval(t *testing.T) {
	f := setup(t)

	res, err := f.session.invoke(t, "io.giesela.ari.enqueue", testGuild, "eid-1")
	require.NoError(t, err)
	aid := res.Args[0].(string)

	res, err = f.session.invoke(t, "io.giesela.ari.dequeue", testGuild, aid)
	require.NoError(t, err)
	require.Equal(t, true, res.Args[0])

	res, err = f.session.invoke(t, "io.giesela.ari.dequeue", testGuild, aid)
	require.NoError(t, err)
	require.Equal(t, false, res.Args[0])
}

func TestMoveRejectsUnknownWhence(t *testing.T) {
	f := setup(t)

	_, err := f.session.invoke(t, "io.giesela.ari.move", testGuild, "some-aid", float64(0), "sideways")
	var busErr *bus.Error
	require.ErrorAs(t, err, &busErr)
	require.Equal(t, bus.URIInvalidArgument, busErr.URI)
	require.Equal(t, entry.WhenceValues(), busErr.Kwargs["possible_values"])
}

func TestGuildArgValidation(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		arg  any
	}{
		{name: "missing", arg: nil},
		{name: "not numeric", arg: "abc"},
		{name: "wrong type", arg: true},
		{name: "fractional", arg: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args []any
			if tt.arg != nil {
				args = append(args, tt.arg)
			}
			_, err := f.session.invoke(t, "io.giesela.ari.pause", args...)
			var busErr *bus.Error
			require.ErrorAs(t, err, &busErr)
			require.Equal(t, bus.URIInvalidArgument, busErr.URI)
		})
	}
}

func TestEventsRepublishedUnderPrefix(t *testing.T) {
	f := setup(t)

	guildID, err := types.ParseGuildID(testGuild)
	require.NoError(t, err)
	f.manager.Events().Emit(event.Emitted{
		GuildID: guildID,
		Event:   event.Pause{Paused: true},
	})

	require.Len(t, f.session.publishes, 1)
	pub := f.session.publishes[0]
	require.Equal(t, "io.giesela.ari.on_pause", pub.topic)
	require.Equal(t, []any{testGuild, true}, pub.args)
}

func TestVoiceTopicsFeedCorrelator(t *testing.T) {
	f := setup(t)

	state := f.session.topics["com.discord.on_voice_state_update"]
	server := f.session.topics["com.discord.on_voice_server_update"]

	state(context.Background(), bus.Invocation{Kwargs: map[string]any{
		"guild_id":   testGuild,
		"user_id":    "1",
		"channel_id": "4815162342",
		"session_id": "sess",
	}})
	server(context.Background(), bus.Invocation{Args: []any{map[string]any{
		"guild_id": testGuild,
		"endpoint": "eu-west",
	}}})

	connected, err := f.rdb.SIsMember(context.Background(), "ari:connected_players", testGuild).Result()
	require.NoError(t, err)
	require.True(t, connected)
}

func TestRemoteCallFailureSurfacesError(t *testing.T) {
	f := setup(t)
	f.session.callErr = errors.New("no discord client")

	_, err := f.session.invoke(t, "io.giesela.ari.connect", testGuild, "42")
	require.Error(t, err)
}
