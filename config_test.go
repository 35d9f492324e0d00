package corpusconv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigNormalizeDefaults(t *testing.T) {
	cfg, err := Config{}.normalize()
	require.NoError(t, err)

	require.Equal(t, int64(DefaultMaxChunkBytes), cfg.MaxChunkBytes)
	require.Equal(t, DefaultMaxObjectsPerChunk, cfg.MaxObjectsPerChunk)
	require.Equal(t, int64(DefaultMemoryCeilingBytes), cfg.MemoryCeilingBytes)
	require.Equal(t, DefaultFailureRateThreshold, cfg.FailureRateThreshold)
	require.Equal(t, DefaultMinIntegrityScore, cfg.MinIntegrityScore)
	require.Equal(t, DefaultWallClockTimeout, cfg.WallClockTimeout)
	require.Equal(t, DefaultCheckpointInterval, cfg.CheckpointInterval)
	require.GreaterOrEqual(t, cfg.WorkerCount, 1)
}

func TestConfigNormalizeWorkerClamp(t *testing.T) {
	cfg, err := Config{
		MemoryCeilingBytes: 200 << 20,
		MaxChunkBytes:      15 << 20,
		WorkerCount:        64,
	}.normalize()
	require.NoError(t, err)

	// 200 MiB ceiling over a 30 MiB per-worker budget admits 6 workers.
	require.Equal(t, 6, cfg.WorkerCount)
	require.LessOrEqual(t, int64(cfg.WorkerCount)*2*cfg.MaxChunkBytes, cfg.MemoryCeilingBytes)
}

func TestConfigNormalizeWorkerCountWithinBudget(t *testing.T) {
	cfg, err := Config{
		MemoryCeilingBytes: 200 << 20,
		MaxChunkBytes:      15 << 20,
		WorkerCount:        4,
	}.normalize()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkerCount)
}

func TestConfigNormalizeCeilingTooSmall(t *testing.T) {
	// 10 MiB ceiling cannot cover a single worker's 32 MiB budget.
	_, err := Config{
		MemoryCeilingBytes: 10 << 20,
		MaxChunkBytes:      16 << 20,
	}.normalize()
	require.ErrorContains(t, err, "memory ceiling")
}

func TestConfigNormalizeBounds(t *testing.T) {
	_, err := Config{FailureRateThreshold: 1.5}.normalize()
	require.ErrorContains(t, err, "failure rate threshold")

	_, err = Config{MinIntegrityScore: 1.5}.normalize()
	require.ErrorContains(t, err, "min integrity score")
}

func TestConfigNormalizeDoesNotMutateReceiver(t *testing.T) {
	orig := Config{WallClockTimeout: time.Minute}
	cfg, err := orig.normalize()
	require.NoError(t, err)
	require.NotZero(t, cfg.MaxChunkBytes)
	require.Zero(t, orig.MaxChunkBytes)
}
