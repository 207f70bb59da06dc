package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// maxWALPayload caps a single WAL payload so a corrupt length header cannot
// drive an unbounded allocation during replay.
const maxWALPayload = 256 * 1024 * 1024

// WAL is an append-only log of length-prefixed, checksummed records.
// Every entry is written as [length u32][crc32(payload) u32][payload] and
// fsynced before the owning operation is considered durable.
type WAL struct {
	path string
	file *os.File
}

// OpenWAL opens or creates the log at the given path.
func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}
	return &WAL{path: path, file: file}, nil
}

// Append frames, writes, and fsyncs one payload.
func (w *WAL) Append(payload []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.file.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write WAL header: %w", err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("failed to write WAL payload: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// ReplayResult reports the outcome of a replay pass.
type ReplayResult struct {
	// Records is the number of valid records handed to the callback.
	Records int
	// ValidOffset is the byte offset just past the last valid record.
	ValidOffset int64
	// Truncated is true when a torn or corrupt tail was detected.
	Truncated bool
}

// Replay reads records sequentially from the given record offset, invoking
// fn for each valid payload. A short header, short payload, or checksum
// mismatch terminates the scan: preceding records stand, the tail is
// reported for truncation.
func (w *WAL) Replay(skipRecords int, fn func(payload []byte) error) (ReplayResult, error) {
	file, err := os.Open(w.path)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to open WAL for replay: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	res := ReplayResult{}
	seen := 0

	for {
		var header [8]byte
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			// Partial header: torn tail.
			res.Truncated = true
			return res, nil
		}

		length := binary.LittleEndian.Uint32(header[0:4])
		expectedCRC := binary.LittleEndian.Uint32(header[4:8])

		if length > maxWALPayload {
			res.Truncated = true
			return res, nil
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			res.Truncated = true
			return res, nil
		}

		if crc32.ChecksumIEEE(payload) != expectedCRC {
			res.Truncated = true
			return res, nil
		}

		seen++
		if seen <= skipRecords {
			res.ValidOffset += int64(8 + length)
			continue
		}

		if err := fn(payload); err != nil {
			return res, err
		}
		res.Records++
		res.ValidOffset += int64(8 + length)
	}
}

// TruncateTo cuts the log back to the given byte offset, discarding a torn
// tail after a crash.
func (w *WAL) TruncateTo(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	return w.file.Sync()
}

// Reset empties the log after a successful checkpoint.
func (w *WAL) Reset() error {
	return w.TruncateTo(0)
}

// Size returns the current length of the log in bytes.
func (w *WAL) Size() (int64, error) {
	stat, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	return w.file.Close()
}
