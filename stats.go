package corpusconv

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
)

// Stats is the run's shared counter set. Fields are atomics so chunk
// workers and the committer update them concurrently without locking.
type Stats struct {
	split     atomic.Int64 // source records covered by emitted chunks
	processed atomic.Int64 // records fed through the transformer
	succeeded atomic.Int64 // records converted without error
	failed    atomic.Int64 // records whose transform failed (skipped)
	committed atomic.Int64 // chunks committed to the checkpoint log
}

// NewStats seeds the counters, so a resumed run reports cumulative totals
// that include chunks committed by the interrupted run.
func NewStats(split, processed, succeeded, failed, committed int64) *Stats {
	s := &Stats{}
	s.split.Store(split)
	s.processed.Store(processed)
	s.succeeded.Store(succeeded)
	s.failed.Store(failed)
	s.committed.Store(committed)
	return s
}

// Split returns the number of source records covered by emitted chunks.
func (s *Stats) Split() int64 { return s.split.Load() }

// Processed returns the number of records fed through the transformer.
func (s *Stats) Processed() int64 { return s.processed.Load() }

// Succeeded returns the number of records converted without error.
func (s *Stats) Succeeded() int64 { return s.succeeded.Load() }

// Failed returns the number of records whose transform failed.
func (s *Stats) Failed() int64 { return s.failed.Load() }

// Committed returns the number of chunks committed to the checkpoint log.
func (s *Stats) Committed() int64 { return s.committed.Load() }

// LogValue renders the counters as a single slog group.
func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("split", s.Split()),
		slog.Int64("processed", s.Processed()),
		slog.Int64("succeeded", s.Succeeded()),
		slog.Int64("failed", s.Failed()),
		slog.Int64("committed", s.Committed()),
	)
}

// statsJSON mirrors Stats with plain fields for serialization.
type statsJSON struct {
	Split     int64 `json:"split"`
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Committed int64 `json:"committed"`
}

// MarshalJSON snapshots the counters.
func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{
		Split:     s.split.Load(),
		Processed: s.processed.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Committed: s.committed.Load(),
	})
}

// UnmarshalJSON restores the counters from a snapshot.
func (s *Stats) UnmarshalJSON(data []byte) error {
	var v statsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.split.Store(v.Split)
	s.processed.Store(v.Processed)
	s.succeeded.Store(v.Succeeded)
	s.failed.Store(v.Failed)
	s.committed.Store(v.Committed)
	return nil
}

// The increment methods return the post-add value, so progress-interval
// checks read one consistent number instead of racing a separate Load.
func (s *Stats) incSplit(n int64) int64     { return s.split.Add(n) }
func (s *Stats) incProcessed(n int64) int64 { return s.processed.Add(n) }
func (s *Stats) incSucceeded(n int64) int64 { return s.succeeded.Add(n) }
func (s *Stats) incFailed(n int64) int64    { return s.failed.Add(n) }
func (s *Stats) incCommitted(n int64) int64 { return s.committed.Add(n) }
