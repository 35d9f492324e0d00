package corpusconv

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Default configuration values.
const (
	DefaultMaxChunkBytes        = 16 << 20 // 16 MiB
	DefaultMaxObjectsPerChunk   = 10_000
	DefaultMemoryCeilingBytes   = 512 << 20 // 512 MiB
	DefaultFailureRateThreshold = 0.01
	DefaultCheckpointInterval   = 1 // commit after every chunk
	DefaultMinIntegrityScore    = 0.95
	DefaultWallClockTimeout     = 30 * time.Minute
	DefaultDrainTimeout         = 30 * time.Second
	DefaultSampleInterval       = 250 * time.Millisecond
	DefaultGraceWindow          = 10 * time.Second
)

// Config holds the run-level knobs of the conversion pipeline. The zero
// value is usable: normalize fills every unset field with its default.
type Config struct {
	// MaxChunkBytes caps the payload bytes accumulated into one chunk file.
	// A chunk may exceed it by at most one object, since object boundaries
	// are never split.
	MaxChunkBytes int64

	// MaxObjectsPerChunk caps the object count per chunk.
	MaxObjectsPerChunk int

	// MemoryCeilingBytes is the hard memory budget for the whole run.
	MemoryCeilingBytes int64

	// WorkerCount is the requested chunk-processor parallelism. It is
	// clamped so that WorkerCount x 2 x MaxChunkBytes stays within the
	// memory ceiling: one chunk buffer plus its decoded records per worker.
	WorkerCount int

	// FailureRateThreshold is the fraction of records in a chunk that may
	// fail to transform before the chunk (and the run) fails.
	FailureRateThreshold float64

	// CheckpointInterval is the number of completed chunks between fsynced
	// checkpoint appends. 1 checkpoints every chunk. Whatever the interval,
	// commits happen in strictly increasing chunk order and the final chunk
	// is always checkpointed.
	CheckpointInterval int

	// WallClockTimeout bounds the whole run. On expiry the run drains
	// in-flight chunks, commits what completed in order, and exits with
	// ErrTimeoutExceeded while remaining resumable.
	WallClockTimeout time.Duration

	// DrainTimeout bounds how long in-flight chunks may keep running after
	// cancellation or timeout before being abandoned.
	DrainTimeout time.Duration

	// MinIntegrityScore is the minimum aggregate success fraction required
	// to finalize the dataset.
	MinIntegrityScore float64

	// WorkDir holds chunk files, the intermediate result store and the
	// checkpoint log. Empty means "<output path>.work".
	WorkDir string

	// SampleInterval is the memory monitor's sampling period.
	SampleInterval time.Duration

	// GraceWindow is how long memory pressure may stay critical before the
	// run fails with ErrResourceExhausted.
	GraceWindow time.Duration
}

// normalize fills defaults and clamps the worker count against the memory
// ceiling. It returns a copy; the caller's Config is not modified.
func (c Config) normalize() (Config, error) {
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.MaxObjectsPerChunk <= 0 {
		c.MaxObjectsPerChunk = DefaultMaxObjectsPerChunk
	}
	if c.MemoryCeilingBytes <= 0 {
		c.MemoryCeilingBytes = DefaultMemoryCeilingBytes
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = DefaultFailureRateThreshold
	}
	if c.FailureRateThreshold > 1 {
		return c, errors.New("corpusconv: failure rate threshold must be <= 1")
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.WallClockTimeout <= 0 {
		c.WallClockTimeout = DefaultWallClockTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.MinIntegrityScore <= 0 {
		c.MinIntegrityScore = DefaultMinIntegrityScore
	}
	if c.MinIntegrityScore > 1 {
		return c, errors.New("corpusconv: min integrity score must be <= 1")
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
	}

	// Per-worker budget: the chunk buffer plus its decoded records. The
	// clamp keeps worker_count x per_worker_budget within the ceiling; a
	// ceiling that cannot cover even one worker is a configuration error,
	// not something to paper over at runtime.
	perWorker := 2 * c.MaxChunkBytes
	maxWorkers := int(c.MemoryCeilingBytes / perWorker)
	if maxWorkers < 1 {
		return c, fmt.Errorf("corpusconv: memory ceiling %d below one worker's budget %d (2 x max chunk bytes)",
			c.MemoryCeilingBytes, perWorker)
	}
	if c.WorkerCount > maxWorkers {
		c.WorkerCount = maxWorkers
	}

	return c, nil
}
