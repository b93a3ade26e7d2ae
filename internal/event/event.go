// Package event defines the player event taxonomy and the in-process
// observable that fans events out to the bus publisher.
//
// Every event is published on the WAMP bus under a URI suffix (e.g.
// "on_play"); the payload splits into positional args and a kwargs mapping.
// The emitting player's guild id is not part of the event value, it is
// stamped at emission (see Emitted).
package event

import (
	"strconv"

	"github.com/gieseladev/ari/internal/entry"
	"github.com/gieseladev/ari/internal/types"
)

// Event is one member of the closed player event taxonomy.
type Event interface {
	// URISuffix returns the publication topic suffix.
	URISuffix() string
	// Payload returns the publication payload without the guild id, which
	// the publisher prepends to args.
	Payload() (args []any, kwargs map[string]any)
}

// Emitted pairs an event with the guild whose player produced it.
type Emitted struct {
	GuildID types.GuildID
	Event   Event
}

// Publication returns the full args/kwargs for bus publication. The guild
// id leads args in its decimal string form.
func (e Emitted) Publication() (args []any, kwargs map[string]any) {
	evArgs, kwargs := e.Event.Payload()
	args = make([]any, 0, len(evArgs)+1)
	args = append(args, e.GuildID.String())
	args = append(args, evArgs...)
	return args, kwargs
}

// entryArg renders an optional entry for publication.
func entryArg(e *entry.Entry) any {
	if e == nil {
		return nil
	}
	return e.Dict()
}

// channelArg renders an optional channel id for publication.
func channelArg(id *uint64) any {
	if id == nil {
		return nil
	}
	return strconv.FormatUint(*id, 10)
}

// Connect reports that the player joined a voice channel, or left when
// ChannelID is nil.
type Connect struct {
	ChannelID *uint64
}

func (Connect) URISuffix() string { return "on_connect" }

func (c Connect) Payload() ([]any, map[string]any) {
	return []any{channelArg(c.ChannelID)}, nil
}

// PlayUpdate carries the full playing view after any state change that
// alters it.
type PlayUpdate struct {
	Entry    *entry.Entry
	Paused   bool
	Position *float64 // seconds
}

func (PlayUpdate) URISuffix() string { return "on_play_update" }

func (p PlayUpdate) Payload() ([]any, map[string]any) {
	var position any
	if p.Position != nil {
		position = *p.Position
	}
	return nil, map[string]any{
		"entry":    entryArg(p.Entry),
		"paused":   p.Paused,
		"position": position,
	}
}

// Play reports that a new entry began playing, or that playback ended when
// Entry is nil.
type Play struct {
	Entry *entry.Entry
}

func (Play) URISuffix() string { return "on_play" }

func (p Play) Payload() ([]any, map[string]any) {
	return []any{entryArg(p.Entry)}, nil
}

// Pause reports a pause toggle.
type Pause struct {
	Paused bool
}

func (Pause) URISuffix() string { return "on_pause" }

func (p Pause) Payload() ([]any, map[string]any) {
	return []any{p.Paused}, nil
}

// Seek reports a seek to an absolute position in seconds.
type Seek struct {
	Position float64
}

func (Seek) URISuffix() string { return "on_seek" }

func (s Seek) Payload() ([]any, map[string]any) {
	return []any{s.Position}, nil
}

// VolumeChange reports a volume change. Volumes are floats with 1.0 being
// 100%.
type VolumeChange struct {
	Old float64
	New float64
}

func (VolumeChange) URISuffix() string { return "on_volume_change" }

func (v VolumeChange) Payload() ([]any, map[string]any) {
	return []any{v.Old, v.New}, nil
}

// Stop reports that playback was stopped and the queue cleared.
type Stop struct{}

func (Stop) URISuffix() string { return "on_stop" }

func (Stop) Payload() ([]any, map[string]any) {
	return nil, nil
}

// QueueAdd reports an entry added to the queue at the given position.
type QueueAdd struct {
	Entry    entry.Entry
	Position int64
}

func (QueueAdd) URISuffix() string { return "on_queue_add" }

func (q QueueAdd) Payload() ([]any, map[string]any) {
	return []any{q.Entry.Dict()}, map[string]any{"position": q.Position}
}

// QueueRemove reports an entry leaving the queue, by removal or because it
// was popped for playing.
type QueueRemove struct {
	Entry entry.Entry
}

func (QueueRemove) URISuffix() string { return "on_queue_remove" }

func (q QueueRemove) Payload() ([]any, map[string]any) {
	return []any{q.Entry.Dict()}, nil
}

// QueueMove reports an entry settling at a new queue position.
type QueueMove struct {
	Entry    entry.Entry
	Position int64
}

func (QueueMove) URISuffix() string { return "on_queue_move" }

func (q QueueMove) Payload() ([]any, map[string]any) {
	return []any{q.Entry.Dict()}, map[string]any{"position": q.Position}
}

// HistoryAdd reports an entry pushed onto the history after its track
// ended.
type HistoryAdd struct {
	Entry entry.Entry
}

func (HistoryAdd) URISuffix() string { return "on_history_add" }

func (h HistoryAdd) Payload() ([]any, map[string]any) {
	return []any{h.Entry.Dict()}, nil
}

// HistoryRemove reports an entry popped off the history by previous.
type HistoryRemove struct {
	Entry entry.Entry
}

func (HistoryRemove) URISuffix() string { return "on_history_remove" }

func (h HistoryRemove) Payload() ([]any, map[string]any) {
	return []any{h.Entry.Dict()}, nil
}
