package eventlog

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodePayload mirrors the scenario encoder in spec section 8: a
// little-endian 256-byte representation of the record's index.
func encodePayload(i uint64) []byte {
	buf := make([]byte, 256)
	binary.LittleEndian.PutUint64(buf, i)
	return buf
}

func decodePayload(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data[:8])
}

func newTestSource(t *testing.T, maxLogSize, indexInterval uint64) *Source {
	t.Helper()
	dir := t.TempDir()
	src, err := Open(dir, Config{MaxLogSize: maxLogSize, IndexInterval: indexInterval})
	require.NoError(t, err)
	return src
}

func TestSourceWriteOffsetsAreMonotonic(t *testing.T) {
	src := newTestSource(t, 1<<20, 4096)
	for i := uint64(0); i < 10; i++ {
		off, err := src.Write(encodePayload(i))
		require.NoError(t, err)
		require.Equal(t, i, off)
	}
}

func TestSourceRoundTrip(t *testing.T) {
	src := newTestSource(t, 1<<20, 4096)
	for i := uint64(0); i < 100; i++ {
		_, err := src.Write(encodePayload(i))
		require.NoError(t, err)
	}

	for _, offset := range []uint64{0, 1, 50, 99} {
		ev, err := src.Get(offset)
		require.NoError(t, err)
		require.Equal(t, offset, ev.Offset)
		require.Equal(t, offset, decodePayload(ev.Data))
	}
}

func TestSourceGetBatchContiguity(t *testing.T) {
	src := newTestSource(t, 1<<20, 4096)
	for i := uint64(0); i < 100; i++ {
		_, err := src.Write(encodePayload(i))
		require.NoError(t, err)
	}

	events, err := src.GetBatch(10, 20)
	require.NoError(t, err)
	require.Len(t, events, 20)
	for i, ev := range events {
		require.Equal(t, uint64(10+i), ev.Offset)
		require.Equal(t, uint64(10+i), decodePayload(ev.Data))
	}
}

func TestSourceRollsOverAndReadsAcrossSegments(t *testing.T) {
	// 256-byte payloads; pick a small segment size so a handful of
	// writes force a rollover.
	const payloadSize = 256
	maxLogSize := uint64((metaWidth + payloadSize) * 5)
	src := newTestSource(t, maxLogSize, 64)

	for i := uint64(0); i < 20; i++ {
		off, err := src.Write(encodePayload(i))
		require.NoError(t, err)
		require.Equal(t, i, off)
	}
	require.Greater(t, len(src.segments), 1, "writes should have rolled over at least once")

	B := src.segments[1]
	evBefore, err := src.Get(B - 1)
	require.NoError(t, err)
	require.Equal(t, B-1, evBefore.Offset)
	require.Equal(t, B-1, decodePayload(evBefore.Data))

	evAt, err := src.Get(B)
	require.NoError(t, err)
	require.Equal(t, B, evAt.Offset)
	require.Equal(t, B, decodePayload(evAt.Data))

	events, err := src.GetBatch(B-2, 4)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, ev := range events {
		require.Equal(t, B-2+uint64(i), ev.Offset)
		require.Equal(t, B-2+uint64(i), decodePayload(ev.Data))
	}
}

func TestSourceRecoversLastOffsetAfterReopen(t *testing.T) {
	dir := t.TempDir()
	src, err := Open(dir, Config{MaxLogSize: 1 << 20, IndexInterval: 4096})
	require.NoError(t, err)

	for i := uint64(0); i < 30; i++ {
		_, err := src.Write(encodePayload(i))
		require.NoError(t, err)
	}

	reopened, err := Open(dir, Config{MaxLogSize: 1 << 20, IndexInterval: 4096})
	require.NoError(t, err)

	off, err := reopened.Write(encodePayload(30))
	require.NoError(t, err)
	require.Equal(t, uint64(30), off)

	ev, err := reopened.Get(30)
	require.NoError(t, err)
	require.Equal(t, uint64(30), decodePayload(ev.Data))
}

func TestSourceReopensCleanlyWithNoRecordsWritten(t *testing.T) {
	dir := t.TempDir()
	src, err := Open(dir, Config{MaxLogSize: 1 << 20, IndexInterval: 4096})
	require.NoError(t, err)
	_ = src

	reopened, err := Open(dir, Config{MaxLogSize: 1 << 20, IndexInterval: 4096})
	require.NoError(t, err)

	off, err := reopened.Write(encodePayload(0))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
}

func TestSourceGetUnknownOffsetFails(t *testing.T) {
	src := newTestSource(t, 1<<20, 4096)
	_, err := src.Write(encodePayload(0))
	require.NoError(t, err)

	_, err = src.Get(5)
	require.Error(t, err)
	var notFound ErrCouldNotFindOffset
	require.ErrorAs(t, err, &notFound)
}

func TestSourceGetBatchShortOfCountFails(t *testing.T) {
	src := newTestSource(t, 1<<20, 4096)
	for i := uint64(0); i < 10; i++ {
		_, err := src.Write(encodePayload(i))
		require.NoError(t, err)
	}

	// only 10 records exist; asking for 20 starting at 5 runs past the
	// tail, so this must fail rather than silently return 5.
	_, err := src.GetBatch(5, 20)
	require.Error(t, err)
	var notFound ErrCouldNotFindOffset
	require.ErrorAs(t, err, &notFound)
}

func TestSourceWriteRejectsOversizedPayload(t *testing.T) {
	src := newTestSource(t, 1<<20, 4096)
	off0, err := src.Write(encodePayload(0))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off0)

	_, err = src.Write(make([]byte, MaxPayloadSize+1))
	require.Error(t, err)
	var tooLarge ErrPayloadTooLarge
	require.ErrorAs(t, err, &tooLarge)

	// the failed write must not have consumed an offset.
	off1, err := src.Write(encodePayload(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), off1)
}
