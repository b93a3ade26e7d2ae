// Package server is ari's bus façade: it registers the RPC surface,
// republishes player events and feeds the voice topics into the
// correlator.
package server

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gieseladev/ari/internal/bus"
	"github.com/gieseladev/ari/internal/entry"
	"github.com/gieseladev/ari/internal/event"
	"github.com/gieseladev/ari/internal/metrics"
	"github.com/gieseladev/ari/internal/player"
	"github.com/gieseladev/ari/internal/telemetry"
	"github.com/gieseladev/ari/internal/voice"
)

// URIs outside ari's own prefix.
const (
	topicVoiceState  = "com.discord.on_voice_state_update"
	topicVoiceServer = "com.discord.on_voice_server_update"
	procVoiceState   = "com.discord.update_voice_state"
)

const defaultEntriesPerPage = 50

// Options configures a Server.
type Options struct {
	Session    bus.Session
	Manager    *player.Manager
	Correlator *voice.Correlator
	// Prefix is the URI prefix of ari's procedures and topics, e.g.
	// "io.giesela.ari.".
	Prefix string
	Logger zerolog.Logger
}

// Server wires the bus to the players.
type Server struct {
	session    bus.Session
	manager    *player.Manager
	correlator *voice.Correlator
	prefix     string
	log        zerolog.Logger
	tracer     trace.Tracer
}

// New creates a server; call Start to register everything.
func New(opts Options) *Server {
	return &Server{
		session:    opts.Session,
		manager:    opts.Manager,
		correlator: opts.Correlator,
		prefix:     opts.Prefix,
		log:        opts.Logger,
		tracer:     telemetry.Tracer("ari/server"),
	}
}

// Start registers the RPC surface, the event publisher and the voice
// subscriptions. Call after recovery has finished so clients never reach
// half-rehydrated players.
func (s *Server) Start(ctx context.Context) error {
	s.manager.Events().OnAny(s.publishEvent)

	procedures := map[string]bus.InvocationHandler{
		"connect":               s.handleConnect,
		"disconnect":            s.handleDisconnect,
		"queue":                 s.handleQueue,
		"history":               s.handleHistory,
		"enqueue":               s.handleEnqueue,
		"dequeue":               s.handleDequeue,
		"move":                  s.handleMove,
		"pause":                 s.handlePause,
		"set_volume":            s.handleSetVolume,
		"seek":                  s.handleSeek,
		"skip_next":             s.handleSkipNext,
		"skip_next_chapter":     s.handleSkipNextChapter,
		"skip_previous":         s.handleSkipPrevious,
		"skip_previous_chapter": s.handleSkipPreviousChapter,
	}
	for name, h := range procedures {
		if err := s.session.Register(s.prefix+name, s.instrument(name, h)); err != nil {
			return err
		}
	}

	if err := s.session.Subscribe(topicVoiceState, func(ctx context.Context, ev bus.Invocation) {
		s.correlator.HandleVoiceState(ctx, payload(ev))
	}); err != nil {
		return err
	}
	if err := s.session.Subscribe(topicVoiceServer, func(ctx context.Context, ev bus.Invocation) {
		s.correlator.HandleVoiceServer(ctx, payload(ev))
	}); err != nil {
		return err
	}

	s.log.Info().
		Str("event", "server.started").
		Str("prefix", s.prefix).
		Int("procedures", len(procedures)).
		Msg("bus surface registered")
	return nil
}

// instrument wraps a handler with a span and the command counter.
func (s *Server) instrument(name string, h bus.InvocationHandler) bus.InvocationHandler {
	return func(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
		ctx, span := s.tracer.Start(ctx, "ari."+name,
			trace.WithAttributes(attribute.String(telemetry.CommandKey, name)))
		defer span.End()

		res, err := h(ctx, inv)
		switch {
		case err == nil:
			metrics.IncCommand(name, "ok")
		case isInvalidArgument(err):
			metrics.IncCommand(name, "invalid")
		default:
			metrics.IncCommand(name, "error")
			span.RecordError(err)
			s.log.Error().Err(err).
				Str("event", "server.command_failed").
				Str("command", name).
				Msg("command failed")
		}
		return res, err
	}
}

func isInvalidArgument(err error) bool {
	busErr, ok := err.(*bus.Error)
	return ok && busErr.URI == bus.URIInvalidArgument
}

// publishEvent republishes a player event under ari's prefix.
func (s *Server) publishEvent(ev event.Emitted) error {
	suffix := ev.Event.URISuffix()
	args, kwargs := ev.Publication()
	if err := s.session.Publish(s.prefix+suffix, args, kwargs); err != nil {
		return err
	}
	metrics.IncEventPublished(suffix)
	return nil
}

// payload extracts the event payload: kwargs-style publications carry it
// in kwargs, args-style ones as a single dict argument.
func payload(ev bus.Invocation) map[string]any {
	if len(ev.Kwargs) > 0 {
		return ev.Kwargs
	}
	if m, ok := ev.Arg(0).(map[string]any); ok {
		return m
	}
	return nil
}

func (s *Server) handleConnect(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	channelID, err := snowflakeArg(inv, 1, "channel_id")
	if err != nil {
		return bus.Result{}, err
	}

	_, err = s.session.Call(ctx, procVoiceState, nil, map[string]any{
		"guild_id":   guildID.String(),
		"channel_id": strconv.FormatUint(channelID, 10),
	})
	return bus.Result{}, err
}

func (s *Server) handleDisconnect(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}

	_, err = s.session.Call(ctx, procVoiceState, nil, map[string]any{
		"guild_id":   guildID.String(),
		"channel_id": nil,
	})
	return bus.Result{}, err
}

func (s *Server) handleQueue(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	page, perPage, err := pageArgs(inv)
	if err != nil {
		return bus.Result{}, err
	}

	entries, err := s.manager.Get(guildID).Queue().Page(ctx, page, perPage)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{Args: []any{entryDicts(entries)}}, nil
}

func (s *Server) handleHistory(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	page, perPage, err := pageArgs(inv)
	if err != nil {
		return bus.Result{}, err
	}

	entries, err := s.manager.Get(guildID).History().Page(ctx, page, perPage)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{Args: []any{entryDicts(entries)}}, nil
}

func (s *Server) handleEnqueue(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	eid, err := stringArg(inv, 1, "eid")
	if err != nil {
		return bus.Result{}, err
	}

	e := entry.New(eid)
	if err := s.manager.Get(guildID).Enqueue(ctx, e); err != nil {
		return bus.Result{}, err
	}
	return bus.Result{Args: []any{e.Aid}}, nil
}

func (s *Server) handleDequeue(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	aid, err := stringArg(inv, 1, "aid")
	if err != nil {
		return bus.Result{}, err
	}

	removed, err := s.manager.Get(guildID).Dequeue(ctx, aid)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{Args: []any{removed}}, nil
}

func (s *Server) handleMove(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	aid, err := stringArg(inv, 1, "aid")
	if err != nil {
		return bus.Result{}, err
	}
	index, err := intArg(inv, 2, "index")
	if err != nil {
		return bus.Result{}, err
	}
	whenceStr, err := stringArg(inv, 3, "whence")
	if err != nil {
		return bus.Result{}, err
	}
	whence, err := entry.ParseWhence(whenceStr)
	if err != nil {
		return bus.Result{}, &bus.Error{
			URI:     bus.URIInvalidArgument,
			Message: err.Error(),
			Kwargs:  map[string]any{"possible_values": entry.WhenceValues()},
		}
	}

	moved, err := s.manager.Get(guildID).Move(ctx, aid, index, whence)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{Args: []any{moved}}, nil
}

func (s *Server) handlePause(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	paused, err := boolArg(inv, 1, "paused")
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{}, s.manager.Get(guildID).Pause(ctx, paused)
}

func (s *Server) handleSetVolume(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	volume, err := floatArg(inv, 1, "volume")
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{}, s.manager.Get(guildID).SetVolume(ctx, volume)
}

func (s *Server) handleSeek(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	position, err := floatArg(inv, 1, "position")
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{}, s.manager.Get(guildID).Seek(ctx, position)
}

func (s *Server) handleSkipNext(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{}, s.manager.Get(guildID).Next(ctx)
}

func (s *Server) handleSkipNextChapter(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{}, s.manager.Get(guildID).NextChapter(ctx)
}

func (s *Server) handleSkipPrevious(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{}, s.manager.Get(guildID).Previous(ctx)
}

func (s *Server) handleSkipPreviousChapter(ctx context.Context, inv bus.Invocation) (bus.Result, error) {
	guildID, err := guildArg(inv, 0)
	if err != nil {
		return bus.Result{}, err
	}
	return bus.Result{}, s.manager.Get(guildID).PreviousChapter(ctx)
}

func entryDicts(entries []entry.Entry) []any {
	dicts := make([]any, len(entries))
	for i, e := range entries {
		dicts[i] = e.Dict()
	}
	return dicts
}
