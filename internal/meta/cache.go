package meta

import (
	"context"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tinylib/msgp/msgp"
)

// Cache wraps a Resolver with a badger-backed TTL cache. Audio sources and
// track info change rarely; caching them keeps repeated plays of the same
// eid off the bus.
type Cache struct {
	inner Resolver
	db    *badger.DB
	ttl   time.Duration
	log   zerolog.Logger
}

var _ Resolver = (*Cache)(nil)

// NewCache opens the cache at dir; an empty dir means in-memory.
func NewCache(inner Resolver, dir string, ttl time.Duration, logger zerolog.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open meta cache: %w", err)
	}
	return &Cache{inner: inner, db: db, ttl: ttl, log: logger}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// AudioSource resolves through the cache.
func (c *Cache) AudioSource(ctx context.Context, eid string) (AudioSource, error) {
	key := []byte("as:" + eid)
	if raw, ok := c.lookup(key); ok {
		src, err := decodeAudioSource(raw)
		if err == nil {
			return src, nil
		}
		c.log.Warn().Err(err).
			Str("event", "meta.cache_decode_failed").
			Str("eid", eid).
			Msg("undecodable cached audio source, refetching")
	}

	src, err := c.inner.AudioSource(ctx, eid)
	if err != nil {
		return AudioSource{}, err
	}
	c.store(key, encodeAudioSource(src), eid)
	return src, nil
}

// TrackInfo resolves through the cache.
func (c *Cache) TrackInfo(ctx context.Context, eid string) (TrackInfo, error) {
	key := []byte("ti:" + eid)
	if raw, ok := c.lookup(key); ok {
		info, err := decodeTrackInfo(raw)
		if err == nil {
			return info, nil
		}
		c.log.Warn().Err(err).
			Str("event", "meta.cache_decode_failed").
			Str("eid", eid).
			Msg("undecodable cached track info, refetching")
	}

	info, err := c.inner.TrackInfo(ctx, eid)
	if err != nil {
		return TrackInfo{}, err
	}
	c.store(key, encodeTrackInfo(info), eid)
	return info, nil
}

func (c *Cache) lookup(key []byte) ([]byte, bool) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *Cache) store(key, val []byte, eid string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, val).WithTTL(c.ttl))
	})
	if err != nil {
		// Cache writes are best effort; the next lookup just misses.
		c.log.Warn().Err(err).
			Str("event", "meta.cache_write_failed").
			Str("eid", eid).
			Msg("failed to cache metadata")
	}
}

func encodeAudioSource(s AudioSource) []byte {
	b := make([]byte, 0, 96)
	b = msgp.AppendArrayHeader(b, 6)
	b = msgp.AppendString(b, s.Source)
	b = msgp.AppendString(b, s.Identifier)
	b = msgp.AppendString(b, s.URI)
	b = msgp.AppendFloat64(b, s.StartOffset)
	b = msgp.AppendFloat64(b, s.EndOffset)
	b = msgp.AppendBool(b, s.IsLive)
	return b
}

func decodeAudioSource(data []byte) (AudioSource, error) {
	sz, rest, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil || sz != 6 {
		return AudioSource{}, fmt.Errorf("decode audio source: bad tuple (%v)", err)
	}
	var s AudioSource
	if s.Source, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return AudioSource{}, fmt.Errorf("decode audio source: %w", err)
	}
	if s.Identifier, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return AudioSource{}, fmt.Errorf("decode audio source: %w", err)
	}
	if s.URI, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return AudioSource{}, fmt.Errorf("decode audio source: %w", err)
	}
	if s.StartOffset, rest, err = msgp.ReadFloat64Bytes(rest); err != nil {
		return AudioSource{}, fmt.Errorf("decode audio source: %w", err)
	}
	if s.EndOffset, rest, err = msgp.ReadFloat64Bytes(rest); err != nil {
		return AudioSource{}, fmt.Errorf("decode audio source: %w", err)
	}
	if s.IsLive, _, err = msgp.ReadBoolBytes(rest); err != nil {
		return AudioSource{}, fmt.Errorf("decode audio source: %w", err)
	}
	return s, nil
}

func encodeTrackInfo(t TrackInfo) []byte {
	b := make([]byte, 0, 128)
	b = msgp.AppendArrayHeader(b, 4)
	b = msgp.AppendString(b, t.Title)
	b = msgp.AppendString(b, t.Artist)
	b = msgp.AppendFloat64(b, t.Duration)
	b = msgp.AppendArrayHeader(b, uint32(len(t.Chapters)))
	for _, c := range t.Chapters {
		b = msgp.AppendArrayHeader(b, 3)
		b = msgp.AppendString(b, c.Title)
		b = msgp.AppendFloat64(b, c.Start)
		b = msgp.AppendFloat64(b, c.End)
	}
	return b
}

func decodeTrackInfo(data []byte) (TrackInfo, error) {
	sz, rest, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil || sz != 4 {
		return TrackInfo{}, fmt.Errorf("decode track info: bad tuple (%v)", err)
	}
	var t TrackInfo
	if t.Title, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return TrackInfo{}, fmt.Errorf("decode track info: %w", err)
	}
	if t.Artist, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return TrackInfo{}, fmt.Errorf("decode track info: %w", err)
	}
	if t.Duration, rest, err = msgp.ReadFloat64Bytes(rest); err != nil {
		return TrackInfo{}, fmt.Errorf("decode track info: %w", err)
	}
	var n uint32
	if n, rest, err = msgp.ReadArrayHeaderBytes(rest); err != nil {
		return TrackInfo{}, fmt.Errorf("decode track info chapters: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		var csz uint32
		if csz, rest, err = msgp.ReadArrayHeaderBytes(rest); err != nil || csz != 3 {
			return TrackInfo{}, fmt.Errorf("decode track info chapter: bad tuple (%v)", err)
		}
		var c Chapter
		if c.Title, rest, err = msgp.ReadStringBytes(rest); err != nil {
			return TrackInfo{}, fmt.Errorf("decode track info chapter: %w", err)
		}
		if c.Start, rest, err = msgp.ReadFloat64Bytes(rest); err != nil {
			return TrackInfo{}, fmt.Errorf("decode track info chapter: %w", err)
		}
		if c.End, rest, err = msgp.ReadFloat64Bytes(rest); err != nil {
			return TrackInfo{}, fmt.Errorf("decode track info chapter: %w", err)
		}
		t.Chapters = append(t.Chapters, c)
	}
	return t, nil
}
