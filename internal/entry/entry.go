// Package entry implements ari's ordered entry collections on Redis.
//
// An entry pairs an ari-assigned id (aid) with a track id owned by the
// metadata service (eid). Collections keep two keys per store: a list of
// aids for ordering and a hash aid -> payload for lookup; every mutation
// touching both keys is atomic (script or transaction).
package entry

import (
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors of the store.
var (
	// ErrNotFound is returned when an aid or index does not resolve.
	ErrNotFound = errors.New("entry not found")
	// ErrDuplicate is returned when an aid is added twice. aids are
	// generated, so hitting this means a caller reused an entry.
	ErrDuplicate = errors.New("duplicate aid")
)

// Entry is a single queued or played item.
type Entry struct {
	Aid  string         `json:"aid"`
	Eid  string         `json:"eid"`
	Meta map[string]any `json:"meta,omitempty"`
}

// New creates an entry with a fresh aid for the given eid.
func New(eid string) Entry {
	return Entry{Aid: NewAID(), Eid: eid}
}

// NewAID generates an aid: 32 lowercase hex chars (a UUID4 without dashes).
func NewAID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Dict returns the bus wire form. meta is omitted when empty.
func (e Entry) Dict() map[string]any {
	d := map[string]any{
		"aid": e.Aid,
		"eid": e.Eid,
	}
	if len(e.Meta) > 0 {
		d["meta"] = e.Meta
	}
	return d
}

// Equal reports identity. Entries are compared by aid alone.
func (e Entry) Equal(other Entry) bool {
	return e.Aid == other.Aid
}
