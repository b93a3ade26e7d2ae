// Package meta resolves eids against the elakshi metadata service.
//
// ari never synthesizes track metadata itself; everything playable comes
// from here. The bus-backed resolver can be wrapped with a badger-backed
// cache (see Cached) since audio sources rarely change.
package meta

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the metadata service does not know an eid.
var ErrNotFound = errors.New("eid not found")

// AudioSource tells the audio node what to play for an eid.
type AudioSource struct {
	// Source is the audio node source manager, e.g. "youtube" or "http".
	Source     string
	Identifier string
	URI        string
	// StartOffset and EndOffset bound the playable window, in seconds.
	// EndOffset 0 means play to the end.
	StartOffset float64
	EndOffset   float64
	IsLive      bool
}

// Chapter is a named span within a track, in seconds.
type Chapter struct {
	Title string
	Start float64
	End   float64
}

// TrackInfo is the display metadata of an eid.
type TrackInfo struct {
	Title    string
	Artist   string
	Duration float64 // seconds
	Chapters []Chapter
}

// ChapterAt returns the index of the chapter containing the given position,
// or -1 when the position falls outside all chapters.
func (t TrackInfo) ChapterAt(position float64) int {
	for i, c := range t.Chapters {
		if position >= c.Start && position < c.End {
			return i
		}
	}
	return -1
}

// Resolver resolves eids to playback and display metadata.
type Resolver interface {
	AudioSource(ctx context.Context, eid string) (AudioSource, error)
	TrackInfo(ctx context.Context, eid string) (TrackInfo, error)
}
