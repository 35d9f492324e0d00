package corpusconv

import "time"

// QualityReport summarizes how much of the source survived conversion.
type QualityReport struct {
	TotalRecords int64 `json:"total_records"`
	SuccessCount int64 `json:"success_count"`
	FailureCount int64 `json:"failure_count"`
	// Skipped lists the source ordinals of records whose transform failed,
	// in ascending order. Populated even on successful runs.
	Skipped []int64 `json:"skipped,omitempty"`
}

// IntegrityScore returns the fraction of source records successfully
// converted. An empty source is trivially complete and scores 1.
func (r QualityReport) IntegrityScore() float64 {
	if r.TotalRecords == 0 {
		return 1
	}
	return float64(r.SuccessCount) / float64(r.TotalRecords)
}

// merge folds a chunk-local report into the aggregate.
func (r *QualityReport) merge(other QualityReport) {
	r.TotalRecords += other.TotalRecords
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.Skipped = append(r.Skipped, other.Skipped...)
}

// Summary is the processing summary returned by Run, on success and on
// failure alike. On failure it carries enough for an operator to decide
// whether to resume: the last committed chunk and a remediation hint.
type Summary struct {
	PipelineID         string        `json:"pipeline_id"`
	RecordsProcessed   int64         `json:"records_processed"`
	ChunkCount         int           `json:"chunk_count"`
	Duration           time.Duration `json:"duration"`
	PeakMemoryObserved uint64        `json:"peak_memory_observed"`
	IntegrityScore     float64       `json:"integrity_score"`
	Quality            QualityReport `json:"quality"`
	// LastCommittedChunk is the highest chunk id in the checkpoint log, or
	// -1 when nothing committed.
	LastCommittedChunk int64  `json:"last_committed_chunk"`
	Remediation        string `json:"remediation,omitempty"`
}
