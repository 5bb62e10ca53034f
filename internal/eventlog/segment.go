package eventlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const (
	logFileSuffix   = ".log"
	indexFileSuffix = ".index"
)

// filenameFor renders a base offset as the 20-character zero-padded
// decimal string spec section 3 mandates for segment filenames.
func filenameFor(baseOffset uint64) string {
	return fmt.Sprintf("%020d", baseOffset)
}

// segment persists variable-length records keyed by absolute offset in
// one pair of files: <base>.log and <base>.index. It never holds a
// handle open between calls (spec section 5); every operation opens,
// acts, and closes.
type segment struct {
	dir           string
	baseOffset    uint64
	maxLogSize    uint64
	indexInterval uint64
	logger        zerolog.Logger

	logFileName   string
	indexFileName string
	index         *indexFile

	// lastIndexedSize is the log file size as of the most recently
	// written index entry, or -1 (meaning "none yet"). It is kept in
	// memory only for the lifetime of this segment value, exactly
	// like the original's LogFile.__last_index_size: reopening a
	// segment after a restart resets it to -1, so the first write
	// after recovery always produces an index entry regardless of
	// indexInterval. This trades one possibly-redundant index entry
	// per process restart for not having to reconstruct the exact
	// post-write size that produced the prior entry from the index
	// file alone (it stores the entry's physical *position*, a
	// different number from the log's size right after that write).
	lastIndexedSize int64
}

func newSegment(dir string, baseOffset uint64, cfg Config) (*segment, error) {
	cfg = cfg.withDefaults()
	s := &segment{
		dir:             dir,
		baseOffset:      baseOffset,
		maxLogSize:      cfg.MaxLogSize,
		indexInterval:   cfg.IndexInterval,
		logger:          *cfg.Logger,
		lastIndexedSize: -1,
	}
	s.logFileName = filepath.Join(dir, filenameFor(baseOffset)+logFileSuffix)
	s.indexFileName = filepath.Join(dir, filenameFor(baseOffset)+indexFileSuffix)
	s.index = newIndexFile(s.indexFileName, s.logger)

	// touch both files into existence so later opens never fail with
	// ENOENT even before the first append.
	for _, name := range []string{s.logFileName, s.indexFileName} {
		f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	return s, nil
}

// append writes one record's metadata+payload to the log file and,
// when due, a sparse index entry. It returns the new log file size.
//
// Behavior follows spec section 4.2 exactly: a payload over
// MaxPayloadSize is an input fault (ErrPayloadTooLarge); a record that
// would push the log past maxLogSize is refused without modifying
// either file (errLogSizeExceeded), leaving the caller free to roll
// over and retry the exact same write.
func (s *segment) append(absoluteOffset uint64, payload []byte, timestampNs uint64) (newSize int64, err error) {
	if len(payload) > MaxPayloadSize {
		return 0, ErrPayloadTooLarge{Size: len(payload)}
	}

	f, err := os.OpenFile(s.logFileName, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	preSize, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	buf := record{Offset: absoluteOffset, TimestampNs: timestampNs, Payload: payload}.encode()
	if preSize+int64(len(buf)) > int64(s.maxLogSize) {
		return 0, errLogSizeExceeded{}
	}

	if _, err := f.Write(buf); err != nil {
		return 0, err
	}
	newSize = preSize + int64(len(buf))

	if s.lastIndexedSize < 0 || newSize > s.lastIndexedSize+int64(s.indexInterval) {
		if _, err := s.index.append(uint32(absoluteOffset-s.baseOffset), uint32(preSize)); err != nil {
			return 0, err
		}
		s.lastIndexedSize = newSize
	}

	return newSize, nil
}

// readTo is the end bound of a segment read: either an exact absolute
// offset (readThrough) or "read through end of segment"
// (readToEndOfSegment), the latter standing in for the original's
// offset_end == -1 sentinel (spec section 4.2). Per design note section
// 9, this sum-type replaces the sentinel in this Go port.
type readTo struct {
	exact uint64
	toEnd bool
}

// readThrough requests every record through the given absolute offset,
// inclusive.
func readThrough(offset uint64) readTo { return readTo{exact: offset} }

// readToEndOfSegment requests every remaining record in the segment;
// the scan stops only at EOF. The Go counterpart of the original's
// offset_end == -1 sentinel (spec section 9).
func readToEndOfSegment() readTo { return readTo{toEnd: true} }

// get returns every record in this segment whose absolute offset falls
// in [offset, end]; end may instead request "every record from offset
// through end of segment". Spec section 4.2's get operation.
func (s *segment) get(offset uint64, end readTo) ([]record, error) {
	startEntry, err := s.index.search(uint32(offset - s.baseOffset))
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Uint64("offset", offset).
		Uint32("indexRelativeOffset", startEntry.RelativeOffset).
		Uint32("physicalPosition", startEntry.PhysicalPosition).
		Msg("resolved closest index match")

	f, err := os.Open(s.logFileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(int64(startEntry.PhysicalPosition), io.SeekStart); err != nil {
		return nil, err
	}

	var results []record
	scanIterations := 0
	for {
		recOffset, ts, size, err := decodeMeta(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		scanIterations++

		if recOffset >= offset {
			payload := make([]byte, size)
			if _, err := io.ReadFull(f, payload); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					s.logger.Warn().Uint64("offset", recOffset).Msg("truncated tail record during scan")
					break
				}
				return nil, err
			}
			results = append(results, record{Offset: recOffset, TimestampNs: ts, Payload: payload})
		} else {
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, err
			}
		}

		if !end.toEnd && recOffset == end.exact {
			break
		}
	}
	s.logger.Debug().Int("iterations", scanIterations).Msg("segment scan complete")
	return results, nil
}

// lastOffset recovers this segment's most recently written absolute
// offset by walking forward from the last index entry's physical
// position until EOF, remembering the offset of the last complete
// record it decoded. This works even though the index is sparse,
// because at most index_interval bytes of log growth follow the end of
// the last indexed record. Spec section 4.2.
func (s *segment) lastOffset() (uint64, error) {
	last, err := s.index.last()
	if err != nil {
		return 0, err
	}

	f, err := os.Open(s.logFileName)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	pos := int64(last.PhysicalPosition)
	var lastGoodOffset uint64
	haveGood := false
	scanIterations := 0

	for {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return 0, err
		}
		recOffset, _, size, err := decodeMeta(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		nextPos := pos + metaWidth + int64(size)
		if nextPos > fi.Size() {
			// payload readable length-wise, but the file ends
			// before it's fully present: a truncated tail
			// record (spec section 9). Discard it and trust the
			// previous record as the true tail.
			s.logger.Warn().Uint64("offset", recOffset).Msg("truncated tail record, discarding")
			break
		}
		lastGoodOffset = recOffset
		haveGood = true
		pos = nextPos
		scanIterations++
	}

	if !haveGood {
		return 0, io.ErrUnexpectedEOF
	}
	s.logger.Debug().Int("iterations", scanIterations).Msg("last offset recovered")
	return lastGoodOffset, nil
}
