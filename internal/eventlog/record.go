package eventlog

import (
	"encoding/binary"
	"io"
)

// metaWidth is the fixed size, in bytes, of a record's metadata prefix:
// offset (8) + timestamp_ns (8) + payload_size (4). Spec section 4.2.
const metaWidth = 20

var enc = binary.LittleEndian

// record is the on-disk unit the store appends: 20 bytes of metadata
// followed by an opaque payload. It is the internal counterpart of the
// public Event type returned by the event source.
type record struct {
	Offset      uint64
	TimestampNs uint64
	Payload     []byte
}

// encode serializes the record's metadata and payload into a single
// contiguous buffer, ready to be written at the current end of a
// segment's log file.
func (r record) encode() []byte {
	buf := make([]byte, metaWidth+len(r.Payload))
	enc.PutUint64(buf[0:8], r.Offset)
	enc.PutUint64(buf[8:16], r.TimestampNs)
	enc.PutUint32(buf[16:20], uint32(len(r.Payload)))
	copy(buf[metaWidth:], r.Payload)
	return buf
}

// decodeMeta reads a record's 20-byte metadata prefix from r, returning
// io.EOF both for a clean end-of-stream and for a truncated metadata
// prefix (fewer than metaWidth bytes available) — both collapse to the
// same io.EOF here, so this alone can't tell a caller which happened.
// Truncation detection proper happens one layer up, where a file's
// actual size is available to check against: segment.get's ReadFull on
// the payload, and segment.lastOffset's explicit size comparison
// (spec section 9).
func decodeMeta(r io.Reader) (offset, timestampNs uint64, payloadSize uint32, err error) {
	buf := make([]byte, metaWidth)
	_, err = io.ReadFull(r, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, 0, 0, io.EOF
		}
		return 0, 0, 0, err
	}
	offset = enc.Uint64(buf[0:8])
	timestampNs = enc.Uint64(buf[8:16])
	payloadSize = enc.Uint32(buf[16:20])
	return offset, timestampNs, payloadSize, nil
}

// Event is the value returned to callers of EventSource.Get /
// GetBatch: a fully materialized, decoded record. Mirrors the
// original's Event dataclass (offset, timestamp, message_size, data).
type Event struct {
	Offset      uint64
	TimestampNs uint64
	Size        uint32
	Data        []byte
}
