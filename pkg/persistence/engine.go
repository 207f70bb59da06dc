package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// WALFile is the write-ahead log file name inside a data directory.
const WALFile = "wal.log"

// DefaultCheckpointEvery is the number of WAL records after which a
// snapshot is written and the log truncated.
const DefaultCheckpointEvery = 1000

// Options configures the storage engine.
type Options struct {
	// CheckpointEvery triggers a snapshot after this many WAL records.
	// Zero means the default; negative disables automatic checkpoints.
	CheckpointEvery int
	// Logger receives recovery and checkpoint events. Nil means no-op.
	Logger *zap.Logger
}

// Engine orchestrates the WAL and snapshots for one data directory. It is
// single-writer: the owning store serializes all calls.
type Engine struct {
	dir        string
	wal        *WAL
	lock       *dirLock
	log        *zap.Logger
	every      int
	walRecords int
}

// RecoveryInfo summarizes what Recover restored.
type RecoveryInfo struct {
	// Metric and Dimension come from the snapshot header; empty/zero when
	// no snapshot existed.
	Metric    string
	Dimension int
	// SnapshotRecords and Replayed count records applied from each source.
	SnapshotRecords int
	Replayed        int
	// TailTruncated is true when a torn WAL tail was cut off.
	TailTruncated bool
}

// Open acquires the data directory and opens its WAL. The directory is
// created if needed; a second opener fails fast with ErrDirLocked.
func Open(dir string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock, err := acquireDirLock(dir)
	if err != nil {
		return nil, err
	}

	wal, err := OpenWAL(filepath.Join(dir, WALFile))
	if err != nil {
		lock.release()
		return nil, err
	}

	every := opts.CheckpointEvery
	if every == 0 {
		every = DefaultCheckpointEvery
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		dir:   dir,
		wal:   wal,
		lock:  lock,
		log:   log,
		every: every,
	}, nil
}

// Recover loads the snapshot (if any) and replays the WAL from the
// snapshot's recorded position, feeding every restored mutation to apply.
// A torn WAL tail is truncated back to the last complete record.
func (e *Engine) Recover(apply func(Record) error) (RecoveryInfo, error) {
	info := RecoveryInfo{}

	snap, err := LoadSnapshot(e.dir)
	if err != nil {
		return info, err
	}

	skip := 0
	if snap != nil {
		info.Metric = string(snap.Metric)
		info.Dimension = snap.Dimension
		skip = int(snap.WALPos)

		for _, rec := range snap.Records {
			if err := apply(rec); err != nil {
				return info, fmt.Errorf("failed to apply snapshot record: %w", err)
			}
		}
		info.SnapshotRecords = len(snap.Records)
	}

	res, err := e.wal.Replay(skip, func(payload []byte) error {
		rec, err := DecodeRecord(payload)
		if err != nil {
			return err
		}
		return apply(rec)
	})
	if err != nil {
		return info, err
	}

	if res.Truncated {
		if err := e.wal.TruncateTo(res.ValidOffset); err != nil {
			return info, err
		}
		e.log.Warn("truncated torn WAL tail",
			zap.String("dir", e.dir),
			zap.Int64("valid_offset", res.ValidOffset),
		)
	}

	e.walRecords = skip + res.Records
	info.Replayed = res.Records
	info.TailTruncated = res.Truncated

	e.log.Info("recovery complete",
		zap.Int("snapshot_records", info.SnapshotRecords),
		zap.Int("wal_replayed", info.Replayed),
	)

	return info, nil
}

// LogRecord makes one mutation durable: append, fsync, then count it
// toward the checkpoint threshold. It must be called before the mutation
// is applied in memory.
func (e *Engine) LogRecord(rec Record) error {
	if err := e.wal.Append(EncodeRecord(rec)); err != nil {
		return err
	}
	e.walRecords++
	return nil
}

// ShouldCheckpoint reports whether enough WAL records have accumulated to
// warrant a snapshot.
func (e *Engine) ShouldCheckpoint() bool {
	return e.every > 0 && e.walRecords >= e.every
}

// Checkpoint writes a full snapshot and truncates the WAL. The snapshot is
// durable before the log is cut, so a crash between the two steps replays
// harmlessly over the snapshot's contents.
func (e *Engine) Checkpoint(snap *Snapshot) error {
	snap.WALPos = 0
	if err := WriteSnapshot(e.dir, snap); err != nil {
		return err
	}
	if err := e.wal.Reset(); err != nil {
		return err
	}
	e.walRecords = 0

	e.log.Info("checkpoint written",
		zap.Int("records", len(snap.Records)),
		zap.String("dir", e.dir),
	)
	return nil
}

// WALRecords returns the number of records currently in the log.
func (e *Engine) WALRecords() int {
	return e.walRecords
}

// Close releases the WAL and the directory lock.
func (e *Engine) Close() error {
	walErr := e.wal.Close()
	lockErr := e.lock.release()
	if walErr != nil {
		return walErr
	}
	return lockErr
}
