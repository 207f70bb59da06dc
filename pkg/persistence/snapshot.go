package persistence

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/fletchdb/fletch/pkg/vectortypes"
)

const (
	snapshotMagic = "FLSNAP01"

	// maxSnapshotRecords bounds the decoded record count against corrupt
	// headers.
	maxSnapshotRecords = 1 << 28

	// SnapshotFile is the canonical checkpoint file name.
	SnapshotFile = "snapshot.bin"
	// SnapshotTmpFile is the transient file used for atomic replacement.
	SnapshotTmpFile = "snapshot.tmp"
)

// Snapshot is a full serialization of store state plus the WAL record
// position it was taken at.
type Snapshot struct {
	Metric    vectortypes.DistanceType
	Dimension int
	WALPos    uint64
	Records   []Record
}

// WriteSnapshot serializes the snapshot to <dir>/snapshot.tmp and atomically
// renames it over <dir>/snapshot.bin. The file and then the directory are
// fsynced so the rename itself is durable.
//
// Layout: magic, metric, dimension, WAL position, record count, then each
// record framed [length u32][crc32 u32][payload] with the WAL codec.
func WriteSnapshot(dir string, snap *Snapshot) error {
	tmpPath := filepath.Join(dir, SnapshotTmpFile)
	finalPath := filepath.Join(dir, SnapshotFile)

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}

	if err := writeSnapshotBody(file, snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return syncDir(dir)
}

func writeSnapshotBody(file *os.File, snap *Snapshot) error {
	header := make([]byte, 0, 64)
	header = append(header, snapshotMagic...)
	header = appendString(header, string(snap.Metric))
	header = binary.LittleEndian.AppendUint32(header, uint32(snap.Dimension))
	header = binary.LittleEndian.AppendUint64(header, snap.WALPos)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(snap.Records)))

	if _, err := file.Write(header); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	var frame [8]byte
	for i := range snap.Records {
		payload := EncodeRecord(snap.Records[i])
		binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
		if _, err := file.Write(frame[:]); err != nil {
			return fmt.Errorf("failed to write snapshot record: %w", err)
		}
		if _, err := file.Write(payload); err != nil {
			return fmt.Errorf("failed to write snapshot record: %w", err)
		}
	}

	return nil
}

// LoadSnapshot reads <dir>/snapshot.bin, or returns nil if no snapshot
// exists. Unlike WAL replay, a snapshot is written atomically, so any
// decode failure is genuine corruption and surfaces as an error.
func LoadSnapshot(dir string) (*Snapshot, error) {
	path := filepath.Join(dir, SnapshotFile)

	data, release, err := readFileMapped(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer release()

	d := decoder{buf: data}
	magic := make([]byte, len(snapshotMagic))
	for i := range magic {
		magic[i] = d.byte()
	}
	if d.err != nil || string(magic) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad snapshot magic", ErrCorruptPayload)
	}

	snap := &Snapshot{
		Metric:    vectortypes.DistanceType(d.string(maxIDLen)),
		Dimension: int(d.uint32(maxDimension)),
		WALPos:    d.uint64(),
	}
	count := d.uint32(maxSnapshotRecords)
	if d.err != nil {
		return nil, fmt.Errorf("%w: bad snapshot header", ErrCorruptPayload)
	}

	// Cap the pre-allocation: the count is attacker-controlled until the
	// per-record checksums have been verified.
	prealloc := count
	if prealloc > 4096 {
		prealloc = 4096
	}
	snap.Records = make([]Record, 0, prealloc)
	for i := uint32(0); i < count; i++ {
		length := d.uint32(maxWALPayload)
		expectedCRC := d.uint32(^uint32(0))
		if d.err != nil || d.off+int(length) > len(data) {
			return nil, fmt.Errorf("%w: snapshot record %d overruns file", ErrCorruptPayload, i)
		}
		payload := data[d.off : d.off+int(length)]
		d.off += int(length)

		if crc32.ChecksumIEEE(payload) != expectedCRC {
			return nil, fmt.Errorf("%w: snapshot record %d checksum mismatch", ErrCorruptPayload, i)
		}

		rec, err := DecodeRecord(payload)
		if err != nil {
			return nil, err
		}
		snap.Records = append(snap.Records, rec)
	}

	return snap, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync data directory: %w", err)
	}
	return nil
}
