package eventlog

import (
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCouldNotFindOffset is returned when no known segment covers the
// start of a requested range, or when the covering segments do not hold
// all of the requested records starting exactly at that offset.
type ErrCouldNotFindOffset struct {
	Offset uint64
}

func (e ErrCouldNotFindOffset) Error() string {
	return "could not find offset " + strconv.FormatUint(e.Offset, 10)
}

// Source is the top-level coordinator: it presents many segments as one
// continuous offset space, routes writes to the active (tail) segment,
// rolls over to a new segment on a full signal, and routes reads across
// one or more segments. Spec section 4.3.
//
// Scheduling model: single-threaded with respect to one Source (spec
// section 5) — the mutex below serializes calls made concurrently
// within one process, but the engine performs no cross-process locking;
// callers coordinating multiple Source instances over the same
// log_store_path must serialize themselves.
type Source struct {
	mu sync.Mutex

	dir    string
	config Config
	logger zerolog.Logger

	segments      []uint64 // ascending base offsets
	activeSegment *segment
	lastOffset    *uint64
}

// Open discovers existing segments under dir (bootstrapping a fresh
// base-offset-0 segment if dir is empty) and recovers the last written
// offset. An empty dir means DefaultLogStorePath. Spec section 4.3
// Bootstrap.
func Open(dir string, cfg Config) (*Source, error) {
	if dir == "" {
		dir = DefaultLogStorePath
	}
	cfg = cfg.withDefaults()
	src := &Source{
		dir:    dir,
		config: cfg,
		logger: *cfg.Logger,
	}
	if err := src.setup(); err != nil {
		return nil, err
	}
	return src, nil
}

func (src *Source) setup() error {
	bases, err := discoverSegmentBases(src.dir)
	if err != nil {
		return err
	}

	if len(bases) == 0 {
		src.segments = []uint64{0}
		active, err := newSegment(src.dir, 0, src.config)
		if err != nil {
			return err
		}
		src.activeSegment = active
		src.lastOffset = nil
		src.logger.Info().Msg("bootstrapped new log store with base segment 0")
		return nil
	}

	src.segments = bases
	last := bases[len(bases)-1]
	active, err := newSegment(src.dir, last, src.config)
	if err != nil {
		return err
	}
	src.activeSegment = active

	off, err := active.lastOffset()
	switch {
	case err == nil:
		src.lastOffset = &off
		src.logger.Info().Uint64("lastOffset", off).Int("segments", len(bases)).Msg("recovered log store")
	case errors.Is(err, io.EOF):
		// the segment's files exist (newSegment touches them into
		// being) but nothing was ever written to them: an active
		// segment created by a prior run that crashed, or was closed,
		// before its first write. Spec section 4.3 Bootstrap step 2
		// treats this the same as a brand-new store.
		src.lastOffset = nil
		src.logger.Info().Int("segments", len(bases)).Msg("recovered log store with no records written yet")
	default:
		return err
	}
	return nil
}

// discoverSegmentBases lists dir for *.log files and returns their base
// offsets, ascending. Spec section 4.3 Bootstrap step 1.
func discoverSegmentBases(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var bases []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, logFileSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, logFileSuffix)
		n, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		bases = append(bases, n)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// Write appends payload and assigns it the next offset, rolling over to
// a new segment transparently if the active segment is full. Spec
// section 4.3 write.
func (src *Source) Write(payload []byte) (uint64, error) {
	src.mu.Lock()
	defer src.mu.Unlock()

	next := uint64(0)
	if src.lastOffset != nil {
		next = *src.lastOffset + 1
	}

	for {
		_, err := src.activeSegment.append(next, payload, uint64(time.Now().UnixNano()))
		if err == nil {
			src.lastOffset = &next
			return next, nil
		}

		var full errLogSizeExceeded
		if !errors.As(err, &full) {
			return 0, err
		}

		src.logger.Info().Uint64("offset", next).Msg("log file size exceeded, rolling over")
		src.segments = append(src.segments, next)
		newSeg, err := newSegment(src.dir, next, src.config)
		if err != nil {
			return 0, err
		}
		src.activeSegment = newSeg
	}
}

// Get returns the single record at offset.
func (src *Source) Get(offset uint64) (Event, error) {
	recs, err := src.get(offset, 1)
	if err != nil {
		return Event{}, err
	}
	return eventFromRecord(recs[0]), nil
}

// GetBatch returns the n records starting at offset, contiguous in
// absolute-offset space.
func (src *Source) GetBatch(offset uint64, n int) ([]Event, error) {
	recs, err := src.get(offset, n)
	if err != nil {
		return nil, err
	}
	events := make([]Event, len(recs))
	for i, r := range recs {
		events[i] = eventFromRecord(r)
	}
	return events, nil
}

func eventFromRecord(r record) Event {
	return Event{
		Offset:      r.Offset,
		TimestampNs: r.TimestampNs,
		Size:        uint32(len(r.Payload)),
		Data:        r.Payload,
	}
}

// get implements the range-read routing of spec section 4.3: select
// the segments whose coverage intersects [offset, offset+n-1], then
// read from each in order, stitching the results together.
//
// selectSegments only establishes that some segment's coverage *could*
// hold offset; the tail segment in particular claims [base, infinity)
// since it has no successor to bound it. A segment's own scan
// (segment.go get) returns whatever it actually finds with a nil
// error even when that's nothing — hitting EOF with zero records is
// not a fault at that layer. So a request for an offset nobody ever
// wrote can sail through segment selection and the scan both, and only
// the combined result here reveals that no record satisfies it.
func (src *Source) get(offset uint64, n int) ([]record, error) {
	// selectSegments can repopulate src.segments from disk when the
	// in-memory list is empty, so this needs the exclusive lock rather
	// than a read lock: RLock would let that assignment race against a
	// concurrent Write's segment rollover.
	src.mu.Lock()
	defer src.mu.Unlock()

	final := offset + uint64(n) - 1
	selected, err := src.selectSegments(offset, final)
	if err != nil {
		return nil, err
	}

	var results []record
	if len(selected) == 1 {
		seg, err := src.openSegment(selected[0])
		if err != nil {
			return nil, err
		}
		results, err = seg.get(offset, readThrough(final))
		if err != nil {
			return nil, err
		}
	} else {
		for i, base := range selected {
			seg, err := src.openSegment(base)
			if err != nil {
				return nil, err
			}
			start := offset
			if base > start {
				start = base
			}
			var end readTo
			if i < len(selected)-1 {
				end = readToEndOfSegment()
			} else {
				end = readThrough(final)
			}
			recs, err := seg.get(start, end)
			if err != nil {
				return nil, err
			}
			results = append(results, recs...)
		}
	}

	if len(results) == 0 || len(results) != n || results[0].Offset != offset {
		return nil, ErrCouldNotFindOffset{Offset: offset}
	}
	return results, nil
}

// openSegment returns the active segment handle if base matches it, or
// opens a transient handle for an older, immutable segment (spec
// section 3 Ownership: the source owns exactly one active segment;
// every other segment is opened on demand for reads).
func (src *Source) openSegment(base uint64) (*segment, error) {
	if src.activeSegment != nil && src.activeSegment.baseOffset == base {
		return src.activeSegment, nil
	}
	return newSegment(src.dir, base, src.config)
}

// selectSegments produces the ordered list of segment base offsets
// whose coverage intersects [offset, final]: the unique segment S with
// S.base <= offset < next_segment.base, plus every subsequent segment
// up to final. Spec section 4.3 and the open question in section 9.
//
// Unlike the original's _scan_log_files (which conditionally inserts
// "the previous segment" only when it notices file_index >= offset,
// missing the case where offset lands past every known segment base),
// this walks the ascending base list once and keeps the tightest
// containing segment plus every later one through final, which is the
// unique correct answer for every offset and every segment count.
func (src *Source) selectSegments(offset, final uint64) ([]uint64, error) {
	bases := src.segments
	if len(bases) == 0 {
		var err error
		bases, err = discoverSegmentBases(src.dir)
		if err != nil {
			return nil, err
		}
		src.segments = bases
	}

	var selected []uint64
	for i, base := range bases {
		next := uint64(0)
		hasNext := i+1 < len(bases)
		if hasNext {
			next = bases[i+1]
		}
		covers := base <= offset && (!hasNext || offset < next)
		if covers {
			selected = append(selected, base)
			continue
		}
		if len(selected) > 0 && base <= final {
			selected = append(selected, base)
		}
	}

	if len(selected) == 0 {
		return nil, ErrCouldNotFindOffset{Offset: offset}
	}
	return selected, nil
}

// Dir returns the directory this source stores its segments in.
func (src *Source) Dir() string { return src.dir }
