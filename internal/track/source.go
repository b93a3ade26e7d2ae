package track

import "github.com/gieseladev/ari/internal/meta"

// FromAudioSource synthesizes a descriptor track for an audio source. The
// node re-resolves real metadata from the identifier, so title and author
// only need to be stable placeholders.
func FromAudioSource(src meta.AudioSource) Track {
	var length int64
	if !src.IsLive && src.EndOffset > src.StartOffset {
		length = int64((src.EndOffset - src.StartOffset) * 1000)
	}
	return Track{
		Title:      src.Identifier,
		Author:     src.Source,
		Length:     length,
		Identifier: src.Identifier,
		IsStream:   src.IsLive,
		URI:        src.URI,
		Source:     src.Source,
	}
}
