// Package track encodes and decodes the LavaPlayer track descriptors the
// audio node consumes.
//
// A descriptor is a base64 blob: a 4-byte big-endian header whose low 30
// bits are the body size and whose flag bit 30 marks a versioned body,
// followed by the body itself. The version 2 body is: version byte, title,
// author, length in ms, identifier, stream flag, optional uri, source name,
// position in ms. Strings use the Java DataOutput writeUTF layout (uint16
// byte-length prefix + UTF-8 bytes).
package track

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// trackInfoVersioned marks a body that starts with a version byte.
	trackInfoVersioned = 1
	trackInfoVersion   = 2

	flagShift = 30
	sizeMask  = (1 << flagShift) - 1
)

// ErrMalformed is returned when a descriptor cannot be decoded.
var ErrMalformed = errors.New("malformed track descriptor")

// Track is the decoded form of a descriptor.
type Track struct {
	Title      string
	Author     string
	Length     int64 // ms; 0 for streams
	Identifier string
	IsStream   bool
	URI        string // empty when the source has none
	Source     string
	Position   int64 // ms
}

// Encode renders the track as a base64 descriptor.
func Encode(t Track) (string, error) {
	var body bytes.Buffer
	body.WriteByte(trackInfoVersion)
	if err := writeUTF(&body, t.Title); err != nil {
		return "", fmt.Errorf("encode track title: %w", err)
	}
	if err := writeUTF(&body, t.Author); err != nil {
		return "", fmt.Errorf("encode track author: %w", err)
	}
	writeInt64(&body, t.Length)
	if err := writeUTF(&body, t.Identifier); err != nil {
		return "", fmt.Errorf("encode track identifier: %w", err)
	}
	writeBool(&body, t.IsStream)
	writeBool(&body, t.URI != "")
	if t.URI != "" {
		if err := writeUTF(&body, t.URI); err != nil {
			return "", fmt.Errorf("encode track uri: %w", err)
		}
	}
	if err := writeUTF(&body, t.Source); err != nil {
		return "", fmt.Errorf("encode track source: %w", err)
	}
	writeInt64(&body, t.Position)

	if body.Len() > sizeMask {
		return "", fmt.Errorf("encode track: body too large (%d bytes)", body.Len())
	}

	out := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(out, uint32(body.Len())|(trackInfoVersioned<<flagShift))
	copy(out[4:], body.Bytes())
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decode parses a base64 descriptor.
func Decode(blob string) (Track, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < 4 {
		return Track{}, fmt.Errorf("%w: short header", ErrMalformed)
	}

	header := binary.BigEndian.Uint32(raw)
	size := int(header & sizeMask)
	body := raw[4:]
	if size != len(body) {
		return Track{}, fmt.Errorf("%w: size %d does not match body length %d", ErrMalformed, size, len(body))
	}

	r := bytes.NewReader(body)
	version := byte(1)
	if header>>flagShift&trackInfoVersioned != 0 {
		if version, err = r.ReadByte(); err != nil {
			return Track{}, fmt.Errorf("%w: missing version", ErrMalformed)
		}
	}
	if version != trackInfoVersion {
		return Track{}, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version)
	}

	var t Track
	if t.Title, err = readUTF(r); err != nil {
		return Track{}, fmt.Errorf("%w: title: %v", ErrMalformed, err)
	}
	if t.Author, err = readUTF(r); err != nil {
		return Track{}, fmt.Errorf("%w: author: %v", ErrMalformed, err)
	}
	if t.Length, err = readInt64(r); err != nil {
		return Track{}, fmt.Errorf("%w: length: %v", ErrMalformed, err)
	}
	if t.Identifier, err = readUTF(r); err != nil {
		return Track{}, fmt.Errorf("%w: identifier: %v", ErrMalformed, err)
	}
	if t.IsStream, err = readBool(r); err != nil {
		return Track{}, fmt.Errorf("%w: stream flag: %v", ErrMalformed, err)
	}
	hasURI, err := readBool(r)
	if err != nil {
		return Track{}, fmt.Errorf("%w: uri flag: %v", ErrMalformed, err)
	}
	if hasURI {
		if t.URI, err = readUTF(r); err != nil {
			return Track{}, fmt.Errorf("%w: uri: %v", ErrMalformed, err)
		}
	}
	if t.Source, err = readUTF(r); err != nil {
		return Track{}, fmt.Errorf("%w: source: %v", ErrMalformed, err)
	}
	if t.Position, err = readInt64(r); err != nil {
		return Track{}, fmt.Errorf("%w: position: %v", ErrMalformed, err)
	}
	return t, nil
}

func writeUTF(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string too long (%d bytes)", len(s))
	}
	var pre [2]byte
	binary.BigEndian.PutUint16(pre[:], uint16(len(s)))
	buf.Write(pre[:])
	buf.WriteString(s)
	return nil
}

func readUTF(r *bytes.Reader) (string, error) {
	var pre [2]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return "", err
	}
	b := make([]byte, binary.BigEndian.Uint16(pre[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
