package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gieseladev/ari/internal/bus"
)

// BusResolver resolves eids by calling the elakshi procedures on the bus.
type BusResolver struct {
	session bus.Session
	prefix  string
}

var _ Resolver = (*BusResolver)(nil)

// NewBusResolver creates a resolver calling procedures under the given URI
// prefix (e.g. "io.giesela.elakshi.").
func NewBusResolver(session bus.Session, prefix string) *BusResolver {
	return &BusResolver{session: session, prefix: prefix}
}

// AudioSource calls get_audio_source.
func (r *BusResolver) AudioSource(ctx context.Context, eid string) (AudioSource, error) {
	res, err := r.call(ctx, "get_audio_source", eid)
	if err != nil {
		return AudioSource{}, err
	}
	return AudioSource{
		Source:      asString(res.Kwargs["source"]),
		Identifier:  asString(res.Kwargs["identifier"]),
		URI:         asString(res.Kwargs["uri"]),
		StartOffset: asFloat(res.Kwargs["start_offset"]),
		EndOffset:   asFloat(res.Kwargs["end_offset"]),
		IsLive:      asBool(res.Kwargs["is_live"]),
	}, nil
}

// TrackInfo calls get_track_info.
func (r *BusResolver) TrackInfo(ctx context.Context, eid string) (TrackInfo, error) {
	res, err := r.call(ctx, "get_track_info", eid)
	if err != nil {
		return TrackInfo{}, err
	}

	info := TrackInfo{
		Title:    asString(res.Kwargs["title"]),
		Artist:   asString(res.Kwargs["artist"]),
		Duration: asFloat(res.Kwargs["duration"]),
	}
	chapters, _ := res.Kwargs["chapters"].([]any)
	for _, raw := range chapters {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		info.Chapters = append(info.Chapters, Chapter{
			Title: asString(c["title"]),
			Start: asFloat(c["start"]),
			End:   asFloat(c["end"]),
		})
	}
	return info, nil
}

func (r *BusResolver) call(ctx context.Context, procedure, eid string) (bus.Result, error) {
	res, err := r.session.Call(ctx, r.prefix+procedure, []any{eid}, nil)
	if err != nil {
		var busErr *bus.Error
		if errors.As(err, &busErr) && strings.HasSuffix(busErr.URI, "not_found") {
			return bus.Result{}, fmt.Errorf("%s %s: %w", procedure, eid, ErrNotFound)
		}
		return bus.Result{}, fmt.Errorf("%s %s: %w", procedure, eid, err)
	}
	return res, nil
}

// JSON transports deliver numbers as float64, but other serializers may
// keep integer types; accept them all.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
