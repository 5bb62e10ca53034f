package eventlog

import "github.com/rs/zerolog"

// MaxPayloadSize is the hard ceiling on a single record's payload, per
// spec section 3.
const MaxPayloadSize = 1 << 16

const (
	// DefaultMaxLogSize is the default segment size limit (4 GiB).
	DefaultMaxLogSize uint64 = 1 << 32
	// DefaultIndexInterval is the default sparse-index stride (4 KiB).
	DefaultIndexInterval uint64 = 1 << 12
	// DefaultLogStorePath is the default directory the event source
	// stores its segments in.
	DefaultLogStorePath = "logs"
)

// Config holds the tunables for a Segment/EventSource, following the
// teacher's bare-struct Config (internal/log/config.go) rather than a
// flag/env parsing library: nothing else in the pack reaches for one at
// this layer either.
type Config struct {
	// MaxLogSize bounds the on-disk size of a single segment's log
	// file. A zero value is replaced by DefaultMaxLogSize.
	MaxLogSize uint64
	// IndexInterval is the minimum log growth, in bytes, between two
	// sparse index entries. A zero value is replaced by
	// DefaultIndexInterval.
	IndexInterval uint64
	// Logger receives structured diagnostics. A nil Logger behaves like
	// zerolog.Nop(): silent by default, matching the optional logger
	// the original Python LogFile/EventSource accept.
	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxLogSize == 0 {
		c.MaxLogSize = DefaultMaxLogSize
	}
	if c.IndexInterval == 0 {
		c.IndexInterval = DefaultIndexInterval
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
