package andesite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gieseladev/ari/internal/metrics"
	"github.com/gieseladev/ari/internal/types"
)

const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// ErrNotConnected is returned for ops while the node connection is down.
var ErrNotConnected = errors.New("andesite node not connected")

// Handler receives the node messages the player cares about. The remaining
// frames are logged only.
type Handler interface {
	HandlePlayerUpdate(ctx context.Context, guildID types.GuildID, state PlayerState)
	HandleTrackEnd(ctx context.Context, guildID types.GuildID, evt TrackEndEvent)
}

// Options configures a Client.
type Options struct {
	// URL is the full WebSocket endpoint, e.g. "ws://node:5000/websocket".
	URL      string
	Password string
	// UserID is the bot user the node acts as.
	UserID  uint64
	Handler Handler
	// OnConnected runs after every successful (re)connect, before frames
	// are read. The manager uses it to replay player state.
	OnConnected func(ctx context.Context)
	Logger      zerolog.Logger
}

// Client is a connection to a single andesite node. Run drives the
// connection; ops may be called from any goroutine and fail with
// ErrNotConnected while the link is down.
type Client struct {
	opts Options
	log  zerolog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer
	connMu  sync.RWMutex
	conn    *websocket.Conn

	connected atomic.Bool
}

// NewClient creates a client; call Run to connect.
func NewClient(opts Options) *Client {
	return &Client{opts: opts, log: opts.Logger}
}

// Connected reports whether the node link is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and keeps reconnecting with exponential backoff until ctx
// is cancelled. It returns ctx.Err.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn().Err(err).
				Str("event", "node.dial_failed").
				Str("url", c.opts.URL).
				Dur("retry_in", backoff).
				Msg("node unreachable")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectCap)
			continue
		}
		backoff = reconnectBase

		c.setConn(conn)
		c.log.Info().
			Str("event", "node.connected").
			Str("url", c.opts.URL).
			Msg("node connected")
		if c.opts.OnConnected != nil {
			c.opts.OnConnected(ctx)
		}

		err = c.readPump(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).
			Str("event", "node.disconnected").
			Str("url", c.opts.URL).
			Msg("node connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", c.opts.Password)
	header.Set("User-Id", strconv.FormatUint(c.opts.UserID, 10))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	up := conn != nil
	c.connected.Store(up)
	if up {
		metrics.NodeConnected.Set(1)
	} else {
		metrics.NodeConnected.Set(0)
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadMessage when the context ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		f, err := decodeFrame(raw)
		if err != nil {
			c.log.Warn().Err(err).
				Str("event", "node.bad_frame").
				Msg("dropping undecodable node frame")
			continue
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) dispatch(ctx context.Context, f frame) {
	metrics.NodeEventsTotal.WithLabelValues(f.Op).Inc()

	switch f.Op {
	case "player-update":
		guildID, err := types.ParseGuildID(f.GuildID)
		if err != nil || f.State == nil {
			c.log.Warn().
				Str("event", "node.bad_player_update").
				Str("guild_id", f.GuildID).
				Msg("dropping malformed player update")
			return
		}
		c.opts.Handler.HandlePlayerUpdate(ctx, guildID, *f.State)

	case "event":
		c.dispatchEvent(ctx, f)

	case "connection-id":
		c.log.Debug().
			Str("event", "node.connection_id").
			Str("connection_id", f.ID).
			Msg("node assigned connection id")

	case "metadata":
		c.log.Debug().
			Str("event", "node.metadata").
			RawJSON("metadata", f.Data).
			Msg("node metadata")

	default:
		c.log.Debug().
			Str("event", "node.unknown_op").
			Str("op", f.Op).
			Msg("ignoring unknown node op")
	}
}

func (c *Client) dispatchEvent(ctx context.Context, f frame) {
	guildID, err := types.ParseGuildID(f.GuildID)
	if err != nil {
		c.log.Warn().
			Str("event", "node.bad_event").
			Str("guild_id", f.GuildID).
			Str("type", f.Type).
			Msg("dropping node event without guild")
		return
	}

	switch f.Type {
	case "TrackEndEvent":
		evt := TrackEndEvent{Track: f.Track, Reason: f.Reason}
		if f.MayStartNext != nil {
			evt.MayStartNext = *f.MayStartNext
		} else {
			// Older nodes omit the flag; derive it the way LavaPlayer does.
			evt.MayStartNext = f.Reason == ReasonFinished || f.Reason == ReasonLoadFailed
		}
		c.opts.Handler.HandleTrackEnd(ctx, guildID, evt)

	case "TrackStartEvent":
		c.log.Debug().
			Str("event", "node.track_start").
			Stringer("guild_id", guildID).
			Msg("track started")

	case "TrackExceptionEvent":
		c.log.Error().
			Str("event", "node.track_exception").
			Stringer("guild_id", guildID).
			Str("error", f.Error).
			Msg("track errored")

	case "TrackStuckEvent":
		c.log.Warn().
			Str("event", "node.track_stuck").
			Stringer("guild_id", guildID).
			Int64("threshold_ms", f.ThresholdMs).
			Msg("track stuck")

	case "WebSocketClosedEvent":
		c.log.Warn().
			Str("event", "node.voice_closed").
			Stringer("guild_id", guildID).
			Int("code", f.Code).
			Bool("by_remote", f.ByRemote).
			Msg("voice websocket closed")

	default:
		c.log.Debug().
			Str("event", "node.unknown_event").
			Str("type", f.Type).
			Msg("ignoring unknown node event")
	}
}

// send writes one op frame. JSON marshalling happens under the write lock;
// frames are small.
func (c *Client) send(payload map[string]any) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("send %v op: %w", payload["op"], err)
	}
	return nil
}

// PlayOptions carries the optional parameters of a play op. Times are in
// seconds.
type PlayOptions struct {
	Track string
	Start float64
	End   float64
	// Pause starts the track paused when set.
	Pause *bool
	// Volume sets the initial volume (1.0 = 100%) when set.
	Volume *float64
	// NoReplace makes the op a no-op when something is already playing.
	NoReplace bool
}

// Play starts a track.
func (c *Client) Play(ctx context.Context, guildID types.GuildID, opts PlayOptions) error {
	payload := map[string]any{
		"op":      "play",
		"guildId": guildID.String(),
		"track":   opts.Track,
	}
	if opts.Start > 0 {
		payload["start"] = secondsToMs(opts.Start)
	}
	if opts.End > 0 {
		payload["end"] = secondsToMs(opts.End)
	}
	if opts.Pause != nil {
		payload["pause"] = *opts.Pause
	}
	if opts.Volume != nil {
		payload["volume"] = percent(*opts.Volume)
	}
	if opts.NoReplace {
		payload["noReplace"] = true
	}
	return c.send(payload)
}

// Pause sets the pause state.
func (c *Client) Pause(ctx context.Context, guildID types.GuildID, paused bool) error {
	return c.send(map[string]any{
		"op":      "pause",
		"guildId": guildID.String(),
		"pause":   paused,
	})
}

// Seek jumps to a position in seconds.
func (c *Client) Seek(ctx context.Context, guildID types.GuildID, position float64) error {
	return c.send(map[string]any{
		"op":       "seek",
		"guildId":  guildID.String(),
		"position": secondsToMs(position),
	})
}

// SetVolume sets the volume (1.0 = 100%).
func (c *Client) SetVolume(ctx context.Context, guildID types.GuildID, volume float64) error {
	return c.send(map[string]any{
		"op":      "volume",
		"guildId": guildID.String(),
		"volume":  percent(volume),
	})
}

// Stop stops playback.
func (c *Client) Stop(ctx context.Context, guildID types.GuildID) error {
	return c.send(map[string]any{
		"op":      "stop",
		"guildId": guildID.String(),
	})
}

// VoiceServerUpdate forwards the paired voice session to the node so it can
// join the voice channel.
func (c *Client) VoiceServerUpdate(ctx context.Context, guildID types.GuildID, sessionID string, event map[string]any) error {
	return c.send(map[string]any{
		"op":        "voice-server-update",
		"guildId":   guildID.String(),
		"sessionId": sessionID,
		"event":     event,
	})
}

// RequestPlayerUpdate asks the node to emit a fresh player-update frame.
func (c *Client) RequestPlayerUpdate(ctx context.Context, guildID types.GuildID) error {
	return c.send(map[string]any{
		"op":      "get-player",
		"guildId": guildID.String(),
	})
}
