// Package andesite talks to an andesite audio node over its WebSocket
// protocol.
//
// The rest of ari speaks float seconds and float volumes (1.0 = 100%); the
// wire speaks milliseconds and integer percent. Both conversions are
// confined to this package.
package andesite

import (
	"encoding/json"
	"fmt"
)

// PlayerState is the node-side player snapshot carried by player-update
// frames and cached in Redis. Position is absent when the node is not
// actually playing anything.
type PlayerState struct {
	// Time is the node's wall clock at snapshot time, unix ms.
	Time int64 `json:"time"`
	// Position is the playback position in ms.
	Position *float64 `json:"position,omitempty"`
	Paused   bool     `json:"paused"`
	// Volume is in percent, 100 meaning full.
	Volume float64 `json:"volume"`
}

// TrackEndReason classifies why a track stopped.
type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "FINISHED"
	ReasonLoadFailed TrackEndReason = "LOAD_FAILED"
	ReasonStopped    TrackEndReason = "STOPPED"
	ReasonReplaced   TrackEndReason = "REPLACED"
	ReasonCleanup    TrackEndReason = "CLEANUP"
)

// TrackEndEvent is the node's notification that a track stopped playing.
type TrackEndEvent struct {
	Track  string
	Reason TrackEndReason
	// MayStartNext reports whether the player is allowed to auto-advance.
	MayStartNext bool
}

// frame is the union of all inbound node messages.
type frame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`

	// op == "player-update"
	State *PlayerState `json:"state,omitempty"`

	// op == "event"
	Type         string          `json:"type,omitempty"`
	Track        string          `json:"track,omitempty"`
	Reason       TrackEndReason  `json:"reason,omitempty"`
	MayStartNext *bool           `json:"mayStartNext,omitempty"`
	Error        string          `json:"error,omitempty"`
	Code         int             `json:"code,omitempty"`
	ByRemote     bool            `json:"byRemote,omitempty"`
	ThresholdMs  int64           `json:"thresholdMs,omitempty"`
	Exception    json.RawMessage `json:"exception,omitempty"`

	// op == "connection-id"
	ID string `json:"id,omitempty"`

	// op == "metadata"
	Data json.RawMessage `json:"data,omitempty"`
}

func decodeFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("decode node frame: %w", err)
	}
	if f.Op == "" {
		return frame{}, fmt.Errorf("decode node frame: missing op")
	}
	return f, nil
}

func secondsToMs(s float64) int64 { return int64(s * 1000) }

// percent converts ari's float volume (1.0 = 100%) to the node's integer
// percent.
func percent(v float64) int { return int(v * 100) }
