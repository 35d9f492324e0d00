package corpusconv

import "context"

// ReportInterval controls how often progress is reported, measured in
// records processed. Implement it on the transformer to set the interval
// from the collaborator rather than the pipeline builder.
//
// This interface is embedded in ProgressReporter, so implementing
// ProgressReporter automatically satisfies ReportInterval.
type ReportInterval interface {
	// ReportInterval returns how often to call OnProgress (in records
	// processed).
	ReportInterval() int
}

// ProgressReporter receives periodic progress updates during the processing
// phase. Implement it on the transformer to log throughput, emit metrics,
// or feed an external dashboard while the run is in flight.
//
// OnProgress is called each time the cumulative processed count crosses a
// ReportInterval boundary. It runs on a worker goroutine; avoid blocking
// I/O inside it. The Stats snapshot is safe to read concurrently.
//
// Example:
//
//	func (t *myTransformer) ReportInterval() int { return 10000 }
//
//	func (t *myTransformer) OnProgress(ctx context.Context, stats *corpusconv.Stats) {
//	    slog.InfoContext(ctx, "progress", "stats", stats)
//	}
type ProgressReporter interface {
	ReportInterval

	// OnProgress is called periodically during execution.
	OnProgress(ctx context.Context, stats *Stats)
}

// Starter is called once before splitting begins. Use it to enrich the
// context (trace spans, logger fields) or record the start of a run. The
// returned context is used for the entire pipeline.
type Starter interface {
	Start(ctx context.Context) context.Context
}

// Stopper is called exactly once after the run finishes, whether it
// completed, failed, or timed out. err is the error Run will return; the
// summary carries the final counters and report.
//
// The context passed to Stop remains valid during graceful shutdown, so
// cleanup work (flushing metrics, notifications) can still run after the
// parent context was cancelled.
type Stopper interface {
	Stop(ctx context.Context, summary *Summary, err error)
}

// DefaultReportInterval is used when the transformer implements
// ProgressReporter but returns a non-positive interval.
const DefaultReportInterval = 10_000
