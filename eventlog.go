// Package eventlog is an append-only, offset-indexed event log: a
// single-writer, many-reader durable stream of opaque binary payloads,
// each assigned a monotonically increasing 64-bit offset, with
// efficient random access by offset and efficient range scans.
//
// The storage engine itself lives in internal/eventlog; this package is
// a thin facade over its public surface, the way the teacher exposes
// its internal/log.Log through a top-level cmd/ rather than importing
// internal/log from outside the module.
package eventlog

import "github.com/ttaaoo/eventlog/internal/eventlog"

// Config holds the tunables accepted by Open: MaxLogSize, IndexInterval,
// and an optional structured Logger. Zero values fall back to the
// defaults in spec section 6 (4 GiB segments, 4 KiB index stride).
type Config = eventlog.Config

// Event is a single decoded record returned by Get/GetBatch: its
// absolute offset, append-time timestamp in nanoseconds, payload size,
// and payload bytes.
type Event = eventlog.Event

// Default tunables, spec section 6.
const (
	DefaultMaxLogSize    = eventlog.DefaultMaxLogSize
	DefaultIndexInterval = eventlog.DefaultIndexInterval
	DefaultLogStorePath  = eventlog.DefaultLogStorePath
	MaxPayloadSize       = eventlog.MaxPayloadSize
)

// Typed errors surfaced to callers, spec section 7.
type (
	ErrOffsetMissingInIndex = eventlog.ErrOffsetMissingInIndex
	ErrPayloadTooLarge      = eventlog.ErrPayloadTooLarge
	ErrCouldNotFindOffset   = eventlog.ErrCouldNotFindOffset
)

// EventSource is a segmented, offset-indexed append log rooted at one
// directory on disk. The zero value is not usable; construct one with
// Open.
type EventSource struct {
	src *eventlog.Source
}

// Open discovers the segments already present under dir (or
// bootstraps a fresh log store if dir is empty) and recovers the last
// written offset, ready to accept the next Write. Spec section 4.3
// Bootstrap.
func Open(dir string, cfg Config) (*EventSource, error) {
	src, err := eventlog.Open(dir, cfg)
	if err != nil {
		return nil, err
	}
	return &EventSource{src: src}, nil
}

// Write appends payload to the log, assigning it the next offset
// (one plus the previous write's offset, or zero for the first write
// ever). The active segment rolls over to a new one transparently when
// full; callers never observe that internal signal.
func (es *EventSource) Write(payload []byte) (offset uint64, err error) {
	return es.src.Write(payload)
}

// Get returns the single record written at offset.
func (es *EventSource) Get(offset uint64) (Event, error) {
	return es.src.Get(offset)
}

// GetBatch returns the count records starting at offset, contiguous in
// absolute-offset space, possibly spanning more than one segment.
func (es *EventSource) GetBatch(offset uint64, count int) ([]Event, error) {
	return es.src.GetBatch(offset, count)
}

// Dir returns the directory this event source stores its segments in.
func (es *EventSource) Dir() string { return es.src.Dir() }
