package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gieseladev/ari/internal/andesite"
	"github.com/gieseladev/ari/internal/entry"
	"github.com/gieseladev/ari/internal/event"
	"github.com/gieseladev/ari/internal/meta"
	"github.com/gieseladev/ari/internal/track"
	"github.com/gieseladev/ari/internal/types"
)

// Node is the audio node surface the player drives. *andesite.Client
// implements it; tests use fakes.
type Node interface {
	Play(ctx context.Context, guildID types.GuildID, opts andesite.PlayOptions) error
	Pause(ctx context.Context, guildID types.GuildID, paused bool) error
	Seek(ctx context.Context, guildID types.GuildID, position float64) error
	SetVolume(ctx context.Context, guildID types.GuildID, volume float64) error
	Stop(ctx context.Context, guildID types.GuildID) error
	VoiceServerUpdate(ctx context.Context, guildID types.GuildID, sessionID string, event map[string]any) error
}

// Player is the per-guild state machine. Commands serialize on the
// player's mutex, so the events of one command are contiguous and a track
// end is always handled before the next play.
//
// Everything durable lives in Redis: queue, history, current entry,
// connected flag and the cached node view. The in-memory object is
// disposable; the manager rebuilds it on demand.
type Player struct {
	guildID types.GuildID

	// mu serializes commands. The bus dispatcher, the voice correlator
	// and the node pump all call in concurrently.
	mu sync.Mutex

	queue    *entry.Store
	history  *entry.Store
	state    *State
	node     Node
	resolver meta.Resolver
	events   *event.Bus
	log      zerolog.Logger
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() types.GuildID { return p.guildID }

// Queue returns the queue store.
func (p *Player) Queue() *entry.Store { return p.queue }

// History returns the history store.
func (p *Player) History() *entry.Store { return p.history }

func (p *Player) emit(ev event.Event) {
	p.events.Emit(event.Emitted{GuildID: p.guildID, Event: ev})
}

// OnConnect marks the player connected to a voice channel and resumes or
// starts playback.
func (p *Player) OnConnect(ctx context.Context, channelID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.state.SetConnected(ctx, true); err != nil {
		return err
	}
	p.emit(event.Connect{ChannelID: &channelID})
	return p.update(ctx, true)
}

// OnDisconnect marks the player disconnected and pauses playback.
func (p *Player) OnDisconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.state.SetConnected(ctx, false); err != nil {
		return err
	}
	if err := p.state.SetVoiceUpdate(ctx, nil); err != nil {
		return err
	}
	// The node link may already be gone; pausing is best effort here.
	if err := p.pause(ctx, true); err != nil {
		p.log.Warn().Err(err).
			Str("event", "player.disconnect_pause_failed").
			Msg("could not pause on disconnect")
	}
	p.emit(event.Connect{})
	return nil
}

// HandleVoiceServerUpdate caches the paired voice session and forwards it
// to the node so it can join the voice channel.
func (p *Player) HandleVoiceServerUpdate(ctx context.Context, v VoiceUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.state.SetVoiceUpdate(ctx, &v); err != nil {
		return err
	}
	return p.node.VoiceServerUpdate(ctx, p.guildID, v.SessionID, v.Event)
}

// OnTrackEnd moves the finished entry to the history and advances when the
// end reason allows it.
func (p *Player) OnTrackEnd(ctx context.Context, evt andesite.TrackEndEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok, err := p.state.Current(ctx)
	if err != nil {
		return err
	}
	if ok {
		if _, err := p.history.AddStart(ctx, cur); err != nil {
			return err
		}
		if err := p.state.SetCurrent(ctx, nil); err != nil {
			return err
		}
		p.emit(event.HistoryAdd{Entry: cur})
	}

	if evt.MayStartNext {
		return p.next(ctx)
	}
	return nil
}

// Pause sets the pause state.
func (p *Player) Pause(ctx context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pause(ctx, paused)
}

func (p *Player) pause(ctx context.Context, paused bool) error {
	if err := p.node.Pause(ctx, p.guildID, paused); err != nil {
		return err
	}
	p.emit(event.Pause{Paused: paused})
	return p.emitPlayUpdate(ctx, func(u *event.PlayUpdate) {
		u.Paused = paused
	})
}

// Seek jumps to a position in seconds.
func (p *Player) Seek(ctx context.Context, position float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seek(ctx, position)
}

func (p *Player) seek(ctx context.Context, position float64) error {
	if err := p.node.Seek(ctx, p.guildID, position); err != nil {
		return err
	}
	p.emit(event.Seek{Position: position})
	return p.emitPlayUpdate(ctx, func(u *event.PlayUpdate) {
		u.Position = &position
	})
}

// SetVolume sets the volume (1.0 = 100%).
func (p *Player) SetVolume(ctx context.Context, volume float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, err := p.state.Volume(ctx)
	if err != nil {
		return err
	}
	if err := p.node.SetVolume(ctx, p.guildID, volume); err != nil {
		return err
	}
	p.emit(event.VolumeChange{Old: old, New: volume})
	return nil
}

// Stop stops playback and clears the queue.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.node.Stop(gctx, p.guildID); err != nil {
			return err
		}
		if err := p.state.SetCurrent(gctx, nil); err != nil {
			return err
		}
		return p.state.SetTrackBlob(gctx, nil)
	})
	g.Go(func() error {
		return p.queue.Clear(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	p.emit(event.Stop{})
	return nil
}

// Enqueue appends the entry to the queue and starts playing when nothing
// is.
func (p *Player) Enqueue(ctx context.Context, e entry.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.queue.AddEnd(ctx, e)
	if err != nil {
		return err
	}
	p.emit(event.QueueAdd{Entry: e, Position: n - 1})
	return p.update(ctx, false)
}

// Dequeue removes the entry with the given aid from the queue.
func (p *Player) Dequeue(ctx context.Context, aid string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.queue.GetByID(ctx, aid)
	if errors.Is(err, entry.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	removed, err := p.queue.Remove(ctx, aid)
	if err != nil || !removed {
		return false, err
	}
	p.emit(event.QueueRemove{Entry: e})
	return true, nil
}

// Move repositions a queue entry; see entry.Store.Move for the index and
// whence semantics.
func (p *Player) Move(ctx context.Context, aid string, index int64, whence entry.Whence) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	moved, err := p.queue.Move(ctx, aid, index, whence)
	if err != nil || !moved {
		return false, err
	}

	e, err := p.queue.GetByID(ctx, aid)
	if err != nil {
		return false, err
	}
	pos, err := p.queue.ToAbsoluteIndex(ctx, index, whence)
	if err != nil {
		return false, err
	}
	p.emit(event.QueueMove{Entry: e, Position: pos})
	return true, nil
}

// Next plays the next queued entry, or stops when the queue is empty.
func (p *Player) Next(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next(ctx)
}

func (p *Player) next(ctx context.Context) error {
	e, ok, err := p.queue.PopStart(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return p.play(ctx, nil)
	}
	p.emit(event.QueueRemove{Entry: e})
	return p.play(ctx, &e)
}

// Previous plays the most recent history entry, pushing the current one
// back onto the queue.
func (p *Player) Previous(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previous(ctx)
}

func (p *Player) previous(ctx context.Context) error {
	prev, ok, err := p.history.PopStart(ctx)
	if err != nil {
		return err
	}
	if ok {
		p.emit(event.HistoryRemove{Entry: prev})
	}

	cur, curOk, err := p.state.Current(ctx)
	if err != nil {
		return err
	}
	if curOk {
		if _, err := p.queue.AddStart(ctx, cur); err != nil {
			return err
		}
		p.emit(event.QueueAdd{Entry: cur, Position: 0})
	}

	if !ok {
		return p.play(ctx, nil)
	}
	return p.play(ctx, &prev)
}

// NextChapter seeks to the next chapter of the playing entry, falling back
// to Next when there is none.
func (p *Player) NextChapter(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stepChapter(ctx, 1)
}

// PreviousChapter seeks to the previous chapter of the playing entry,
// falling back to Previous when there is none.
func (p *Player) PreviousChapter(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stepChapter(ctx, -1)
}

func (p *Player) stepChapter(ctx context.Context, dir int) error {
	fallback := p.next
	if dir < 0 {
		fallback = p.previous
	}

	cur, ok, err := p.state.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fallback(ctx)
	}

	info, err := p.resolver.TrackInfo(ctx, cur.Eid)
	if err != nil {
		if !errors.Is(err, meta.ErrNotFound) {
			p.log.Warn().Err(err).
				Str("event", "player.chapter_lookup_failed").
				Str("eid", cur.Eid).
				Msg("falling back to plain skip")
		}
		return fallback(ctx)
	}
	if len(info.Chapters) == 0 {
		return fallback(ctx)
	}

	pos, posOk, err := p.state.Position(ctx)
	if err != nil {
		return err
	}
	if !posOk {
		return fallback(ctx)
	}

	i := info.ChapterAt(pos)
	if i < 0 {
		return fallback(ctx)
	}
	target := i + dir
	if target < 0 || target >= len(info.Chapters) {
		return fallback(ctx)
	}
	return p.seek(ctx, info.Chapters[target].Start)
}

// RecoverState replays the player's node-side state from the state store,
// then runs the usual update. Called by the manager after a process or
// node restart.
func (p *Player) RecoverState(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	voice, ok, err := p.state.VoiceUpdate(ctx)
	if err != nil {
		return err
	}
	if ok {
		if err := p.node.VoiceServerUpdate(ctx, p.guildID, voice.SessionID, voice.Event); err != nil {
			return fmt.Errorf("replay voice update: %w", err)
		}
	}

	blob, ok, err := p.state.TrackBlob(ctx)
	if err != nil {
		return err
	}
	if ok {
		pos, _, err := p.state.Position(ctx)
		if err != nil {
			return err
		}
		paused, err := p.state.Paused(ctx)
		if err != nil {
			return err
		}
		volume, err := p.state.Volume(ctx)
		if err != nil {
			return err
		}
		err = p.node.Play(ctx, p.guildID, andesite.PlayOptions{
			Track:  blob,
			Start:  pos,
			Pause:  &paused,
			Volume: &volume,
		})
		if err != nil {
			return fmt.Errorf("replay track: %w", err)
		}
	}

	return p.update(ctx, false)
}

// play starts the given entry, or stops playback when e is nil. Emits Play
// then PlayUpdate.
func (p *Player) play(ctx context.Context, e *entry.Entry) error {
	if e == nil {
		if err := p.node.Stop(ctx, p.guildID); err != nil {
			return err
		}
		if err := p.state.SetCurrent(ctx, nil); err != nil {
			return err
		}
		if err := p.state.SetTrackBlob(ctx, nil); err != nil {
			return err
		}
		p.emit(event.Play{})
		return p.emitPlayUpdate(ctx, func(u *event.PlayUpdate) {
			u.Entry = nil
		})
	}

	src, err := p.resolver.AudioSource(ctx, e.Eid)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", e.Eid, err)
	}
	blob, err := track.Encode(track.FromAudioSource(src))
	if err != nil {
		return err
	}

	err = p.node.Play(ctx, p.guildID, andesite.PlayOptions{
		Track: blob,
		Start: src.StartOffset,
		End:   src.EndOffset,
	})
	if err != nil {
		return err
	}

	if err := p.state.SetCurrent(ctx, e); err != nil {
		return err
	}
	if err := p.state.SetTrackBlob(ctx, &blob); err != nil {
		return err
	}

	p.log.Info().
		Str("event", "player.play").
		Str("aid", e.Aid).
		Str("eid", e.Eid).
		Msg("playing entry")

	p.emit(event.Play{Entry: e})
	return p.emitPlayUpdate(ctx, func(u *event.PlayUpdate) {
		u.Entry = e
	})
}

// update reconciles playback with the connection state: resume unpauses a
// paused player, and a connected, idle, unpaused player advances to the
// next entry.
func (p *Player) update(ctx context.Context, resume bool) error {
	var (
		connected bool
		curOk     bool
		nodeState andesite.PlayerState
		nodeOk    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		connected, err = p.state.Connected(gctx)
		return err
	})
	g.Go(func() (err error) {
		_, curOk, err = p.state.Current(gctx)
		return err
	})
	g.Go(func() (err error) {
		nodeState, nodeOk, err = p.state.NodeState(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// A snapshot without a position means the node is not actually
	// playing, whatever the current key claims.
	playing := curOk && nodeOk && nodeState.Position != nil
	paused := nodeOk && nodeState.Paused

	switch {
	case resume && connected && paused:
		return p.pause(ctx, false)
	case connected && !playing && !paused:
		return p.next(ctx)
	}
	return nil
}

// emitPlayUpdate gathers the playing view, applies the command's override
// and emits PlayUpdate.
func (p *Player) emitPlayUpdate(ctx context.Context, override func(*event.PlayUpdate)) error {
	var (
		cur       entry.Entry
		curOk     bool
		nodeState andesite.PlayerState
		nodeOk    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cur, curOk, err = p.state.Current(gctx)
		return err
	})
	g.Go(func() (err error) {
		nodeState, nodeOk, err = p.state.NodeState(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	var u event.PlayUpdate
	if curOk {
		u.Entry = &cur
	}
	if nodeOk {
		u.Paused = nodeState.Paused
		u.Position = livePosition(nodeState)
	}
	if override != nil {
		override(&u)
	}

	p.emit(u)
	return nil
}
