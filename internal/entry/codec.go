package entry

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// encodePayload packs the hash payload: a msgpack array [eid, meta] with
// meta nil when empty. The aid is not part of the payload; it is the hash
// field the payload is stored under.
func encodePayload(e Entry) ([]byte, error) {
	b := make([]byte, 0, 64)
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendString(b, e.Eid)
	if len(e.Meta) == 0 {
		b = msgp.AppendNil(b)
		return b, nil
	}
	b, err := msgp.AppendMapStrIntf(b, e.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode entry meta: %w", err)
	}
	return b, nil
}

// decodePayload unpacks a hash payload read for the given aid.
func decodePayload(aid string, data []byte) (Entry, error) {
	sz, rest, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry payload: %w", err)
	}
	if sz < 1 {
		return Entry{}, fmt.Errorf("decode entry payload: empty tuple")
	}

	eid, rest, err := msgp.ReadStringBytes(rest)
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry eid: %w", err)
	}
	e := Entry{Aid: aid, Eid: eid}

	if sz >= 2 && !msgp.IsNil(rest) {
		meta, _, err := msgp.ReadMapStrIntfBytes(rest, nil)
		if err != nil {
			return Entry{}, fmt.Errorf("decode entry meta: %w", err)
		}
		if len(meta) > 0 {
			e.Meta = meta
		}
	}
	return e, nil
}
