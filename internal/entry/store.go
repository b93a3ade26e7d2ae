package entry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gieseladev/ari/internal/metrics"
)

// Store is an ordered entry collection in Redis.
//
// Layout: <key>:order is a list of aids, <key>:info is a hash aid -> msgpack
// payload. The aid set of the list always equals the field set of the hash;
// mutations touching both keys run as a script or transaction.
type Store struct {
	rdb *redis.Client
	key string
	log zerolog.Logger
}

// NewStore creates a store rooted at the given base key (e.g.
// "ari:205544905709125632:queue").
func NewStore(rdb *redis.Client, key string, logger zerolog.Logger) *Store {
	return &Store{rdb: rdb, key: key, log: logger}
}

func (s *Store) orderKey() string { return s.key + ":order" }
func (s *Store) infoKey() string  { return s.key + ":info" }

// Key returns the base key of the store.
func (s *Store) Key() string { return s.key }

// Length returns the number of entries.
func (s *Store) Length(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, s.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("length of %s: %w", s.key, err)
	}
	return n, nil
}

// Get returns the entry at the given position. Negative positions count
// from the end.
func (s *Store) Get(ctx context.Context, index int64) (Entry, error) {
	aid, err := s.rdb.LIndex(ctx, s.orderKey(), index).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s[%d]: %w", s.key, index, err)
	}
	return s.GetByID(ctx, aid)
}

// GetByID returns the entry with the given aid.
func (s *Store) GetByID(ctx context.Context, aid string) (Entry, error) {
	raw, err := s.rdb.HGet(ctx, s.infoKey(), aid).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s entry %s: %w", s.key, aid, err)
	}
	e, err := decodePayload(aid, []byte(raw))
	if err != nil {
		s.log.Error().Err(err).
			Str("event", "store.decode_failed").
			Str("aid", aid).
			Msg("undecodable entry payload, treating as absent")
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Index returns the position of the given aid.
func (s *Store) Index(ctx context.Context, aid string) (int64, error) {
	aids, err := s.rdb.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("index of %s in %s: %w", aid, s.key, err)
	}
	for i, a := range aids {
		if a == aid {
			return int64(i), nil
		}
	}
	return 0, ErrNotFound
}

// Slice returns the entries the slice selects, in iteration order. Entries
// whose payload is missing or undecodable are skipped.
func (s *Store) Slice(ctx context.Context, sl Slice) ([]Entry, error) {
	n, err := s.Length(ctx)
	if err != nil {
		return nil, err
	}

	start, stop, step := sl.indices(n)
	var idxs []int64
	if step > 0 {
		for i := start; i < stop; i += step {
			idxs = append(idxs, i)
		}
	} else {
		for i := start; i > stop; i += step {
			idxs = append(idxs, i)
		}
	}
	if len(idxs) == 0 {
		return nil, nil
	}

	lo, hi := idxs[0], idxs[len(idxs)-1]
	if step < 0 {
		lo, hi = hi, lo
	}
	aids, err := s.rdb.LRange(ctx, s.orderKey(), lo, hi).Result()
	if err != nil {
		return nil, fmt.Errorf("slice %s%s: %w", s.key, sl, err)
	}

	selected := make([]string, 0, len(idxs))
	for _, i := range idxs {
		off := i - lo
		if off >= 0 && off < int64(len(aids)) {
			selected = append(selected, aids[off])
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}

	payloads, err := s.rdb.HMGet(ctx, s.infoKey(), selected...).Result()
	if err != nil {
		return nil, fmt.Errorf("slice %s%s payloads: %w", s.key, sl, err)
	}

	entries := make([]Entry, 0, len(selected))
	for i, raw := range payloads {
		str, ok := raw.(string)
		if !ok {
			s.log.Warn().
				Str("event", "store.payload_missing").
				Str("aid", selected[i]).
				Msg("entry in order list has no payload")
			continue
		}
		e, err := decodePayload(selected[i], []byte(str))
		if err != nil {
			s.log.Error().Err(err).
				Str("event", "store.decode_failed").
				Str("aid", selected[i]).
				Msg("undecodable entry payload, skipping")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Page returns the page-th chunk of perPage entries from the front.
func (s *Store) Page(ctx context.Context, page, perPage int64) ([]Entry, error) {
	start := page * perPage
	return s.Slice(ctx, Bounds(start, start+perPage))
}

// AddStart prepends the entry and returns the new length.
func (s *Store) AddStart(ctx context.Context, e Entry) (int64, error) {
	return s.add(ctx, e, "start")
}

// AddEnd appends the entry and returns the new length.
func (s *Store) AddEnd(ctx context.Context, e Entry) (int64, error) {
	return s.add(ctx, e, "end")
}

func (s *Store) add(ctx context.Context, e Entry, where string) (int64, error) {
	payload, err := encodePayload(e)
	if err != nil {
		return 0, err
	}
	metrics.IncStoreScript("add")
	n, err := addScript.Run(ctx, s.rdb,
		[]string{s.orderKey(), s.infoKey()},
		e.Aid, payload, where,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("add to %s: %w", s.key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("add %s to %s: %w", e.Aid, s.key, ErrDuplicate)
	}
	return n, nil
}

// Remove deletes the entry with the given aid and reports whether it was
// present.
func (s *Store) Remove(ctx context.Context, aid string) (bool, error) {
	var lrem *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrem = pipe.LRem(ctx, s.orderKey(), 1, aid)
		pipe.HDel(ctx, s.infoKey(), aid)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove %s from %s: %w", aid, s.key, err)
	}
	return lrem.Val() == 1, nil
}

// PopStart removes and returns the first entry; ok is false when empty.
func (s *Store) PopStart(ctx context.Context) (Entry, bool, error) {
	return s.pop(ctx, "start")
}

// PopEnd removes and returns the last entry; ok is false when empty.
func (s *Store) PopEnd(ctx context.Context) (Entry, bool, error) {
	return s.pop(ctx, "end")
}

func (s *Store) pop(ctx context.Context, where string) (Entry, bool, error) {
	metrics.IncStoreScript("pop")
	res, err := popScript.Run(ctx, s.rdb,
		[]string{s.orderKey(), s.infoKey()},
		where,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("pop from %s: %w", s.key, err)
	}

	aid, _ := res[0].(string)
	if len(res) < 2 {
		s.log.Warn().
			Str("event", "store.payload_missing").
			Str("aid", aid).
			Msg("popped entry has no payload")
		return Entry{}, false, nil
	}
	payload, _ := res[1].(string)
	e, err := decodePayload(aid, []byte(payload))
	if err != nil {
		s.log.Error().Err(err).
			Str("event", "store.decode_failed").
			Str("aid", aid).
			Msg("undecodable popped payload, treating as absent")
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Clear removes all entries.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.orderKey(), s.infoKey()).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", s.key, err)
	}
	return nil
}

// Move repositions the entry with the given aid relative to the entry at
// position index and reports whether anything moved. Negative indices count
// from the end.
func (s *Store) Move(ctx context.Context, aid string, index int64, whence Whence) (bool, error) {
	metrics.IncStoreScript("move")
	moved, err := moveScript.Run(ctx, s.rdb,
		[]string{s.orderKey()},
		aid, index, whence.String(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("move %s in %s: %w", aid, s.key, err)
	}
	return moved == 1, nil
}

// ToAbsoluteIndex returns the position a move with the given index and
// whence settles at, clamped to the valid range.
func (s *Store) ToAbsoluteIndex(ctx context.Context, index int64, whence Whence) (int64, error) {
	n, err := s.Length(ctx)
	if err != nil {
		return 0, err
	}
	if index < 0 {
		index += n
	}

	var v int64
	switch whence {
	case WhenceAbsolute:
		v = index
	case WhenceBefore:
		v = index - 1
	case WhenceAfter:
		v = index + 1
	default:
		panic(fmt.Sprintf("unknown whence %d", int(whence)))
	}

	if v > n-1 {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v, nil
}

// Shuffle permutes the entries randomly.
func (s *Store) Shuffle(ctx context.Context) error {
	return s.ShuffleSeeded(ctx, rand.Int63())
}

// ShuffleSeeded permutes the entries with a deterministic seed. Equal seeds
// yield equal permutations.
func (s *Store) ShuffleSeeded(ctx context.Context, seed int64) error {
	metrics.IncStoreScript("shuffle")
	// Two's complement truncation, matching how Redis seeds its generator.
	norm := uint64(uint32(seed))
	if err := shuffleScript.Run(ctx, s.rdb, []string{s.orderKey()}, norm).Err(); err != nil {
		return fmt.Errorf("shuffle %s: %w", s.key, err)
	}
	return nil
}
