package corpusconv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Pipeline orchestrates the conversion run: split, bounded parallel chunk
// processing, strictly ordered checkpoint commits, and final assembly. One
// Pipeline value runs once.
type Pipeline struct {
	transformer RecordTransformer
	cfg         Config
	logger      *slog.Logger

	// Configuration overrides (nil means use the Config value or default)
	workerCount  *int
	drainTimeout *time.Duration

	// Optional capabilities (detected from the transformer)
	progress ProgressReporter
	starter  Starter
	stopper  Stopper

	stats *Stats

	mu    sync.Mutex
	state State
}

// New creates a Pipeline for the given transformer and configuration.
// Optional capability interfaces (ProgressReporter, Starter, Stopper) are
// auto-detected from the transformer value.
func New(transformer RecordTransformer, cfg Config) *Pipeline {
	p := &Pipeline{
		transformer: transformer,
		cfg:         cfg,
		logger:      slog.New(slog.DiscardHandler),
		stats:       &Stats{},
		state:       StateInitialized,
	}
	if r, ok := transformer.(ProgressReporter); ok {
		p.progress = r
	}
	if s, ok := transformer.(Starter); ok {
		p.starter = s
	}
	if s, ok := transformer.(Stopper); ok {
		p.stopper = s
	}
	return p
}

// WithLogger sets the structured logger. nil restores the discard logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p.logger = logger
	return p
}

// WithWorkers overrides the chunk worker count. The memory-ceiling clamp
// still applies. Values less than 1 are ignored.
func (p *Pipeline) WithWorkers(n int) *Pipeline {
	if n >= 1 {
		p.workerCount = &n
	}
	return p
}

// WithDrainTimeout overrides how long in-flight chunks may keep running
// after cancellation or timeout. Non-positive values are ignored.
func (p *Pipeline) WithDrainTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.drainTimeout = &d
	}
	return p
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns the live counters for this run.
func (p *Pipeline) Stats() *Stats { return p.stats }

// setState performs a validated transition.
func (p *Pipeline) setState(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := transition(p.state, to)
	p.state = next
	return err
}

// Run executes the full pipeline against sourcePath, writing the finalized
// dataset to outputPath. The returned Summary is non-nil on failure too: it
// carries the last committed chunk and a remediation hint so the operator
// can decide whether to resume. Re-running with the same source, output and
// configuration resumes from the checkpoint log automatically.
func (p *Pipeline) Run(ctx context.Context, sourcePath, outputPath string) (*Summary, error) {
	if p.State() != StateInitialized {
		return nil, errors.New("corpusconv: pipeline already run")
	}

	cfg, err := p.cfg.normalize()
	if err != nil {
		_ = p.setState(StateFailed)
		return nil, err
	}
	if p.workerCount != nil {
		cfg.WorkerCount = *p.workerCount
		if clamped, cerr := cfg.normalize(); cerr == nil {
			cfg = clamped
		}
	}
	if p.drainTimeout != nil {
		cfg.DrainTimeout = *p.drainTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = outputPath + ".work"
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		_ = p.setState(StateFailed)
		return nil, fmt.Errorf("corpusconv: %w", err)
	}

	if p.starter != nil {
		ctx = p.starter.Start(ctx)
	}

	start := time.Now()
	summary := &Summary{LastCommittedChunk: -1}

	runErr := p.run(ctx, cfg, sourcePath, outputPath, summary)
	summary.Duration = time.Since(start)

	if runErr != nil {
		_ = p.setState(StateFailed)
		if summary.Remediation == "" {
			summary.Remediation = "re-run with the same source, output and configuration to resume from the last committed chunk"
		}
		p.logger.ErrorContext(ctx, "run failed",
			"pipeline_id", summary.PipelineID,
			"error", runErr,
			"last_committed_chunk", summary.LastCommittedChunk,
			"stats", p.stats)
	} else {
		p.logger.InfoContext(ctx, "run completed",
			"pipeline_id", summary.PipelineID,
			"records", summary.RecordsProcessed,
			"chunks", summary.ChunkCount,
			"integrity_score", summary.IntegrityScore,
			"peak_memory_bytes", summary.PeakMemoryObserved,
			"duration", summary.Duration)
	}

	if p.stopper != nil {
		p.stopper.Stop(context.WithoutCancel(ctx), summary, runErr)
	}
	return summary, runErr
}

// run drives the state machine. It fills summary as it goes so that the
// caller can report meaningfully on any failure path.
func (p *Pipeline) run(ctx context.Context, cfg Config, sourcePath, outputPath string, summary *Summary) error {
	ckptLog, err := OpenCheckpointLog(filepath.Join(cfg.WorkDir, "checkpoints.log"))
	if err != nil {
		return err
	}
	defer ckptLog.Close()

	store, err := OpenResultStore(filepath.Join(cfg.WorkDir, "results.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	// Resume is an entry state: it only exists when a prior log is found.
	resuming := ckptLog.Len() > 0
	if resuming {
		last, _ := ckptLog.Last()
		summary.PipelineID = last.PipelineID
		summary.LastCommittedChunk = int64(last.ChunkID)
		if err := p.setState(StateResuming); err != nil {
			return err
		}
		p.logger.InfoContext(ctx, "resuming from checkpoint log",
			"pipeline_id", summary.PipelineID,
			"last_committed_chunk", last.ChunkID,
			"committed_records", last.CumulativeRecordCount)
	} else {
		summary.PipelineID = uuid.NewString()
	}

	runCtx, cancel := context.WithTimeoutCause(ctx, cfg.WallClockTimeout, ErrTimeoutExceeded)
	defer cancel()

	monitor := NewMemoryMonitor(cfg.MemoryCeilingBytes, cfg.SampleInterval, cfg.GraceWindow, p.logger)
	monitor.Start(runCtx)
	defer func() {
		monitor.Stop()
		summary.PeakMemoryObserved = monitor.Peak()
	}()

	// Splitting. On resume the deterministic plan is re-derived from the
	// source and validated against the committed log; it is never persisted
	// separately.
	if err := p.setState(StateSplitting); err != nil {
		return err
	}
	splitter := NewSplitter(cfg.MaxChunkBytes, cfg.MaxObjectsPerChunk, filepath.Join(cfg.WorkDir, "chunks"))
	plan, err := splitter.Split(runCtx, sourcePath)
	if err != nil {
		return p.mapRunError(runCtx, err)
	}
	summary.ChunkCount = len(plan)
	if len(plan) > 0 {
		p.stats.incSplit(plan[len(plan)-1].RecordEnd)
	}
	p.logger.InfoContext(ctx, "split complete",
		"pipeline_id", summary.PipelineID,
		"chunks", len(plan),
		"records", p.stats.Split())

	next := uint32(0)
	if resuming {
		if err := ckptLog.validateResume(plan); err != nil {
			return err
		}
		last, _ := ckptLog.Last()
		next = last.ChunkID + 1
		// Counters for committed work: record-level success/failure detail
		// lives in the stored chunk results and resurfaces in the final
		// report during assembly.
		p.stats.incProcessed(last.CumulativeRecordCount)
		p.stats.incCommitted(int64(ckptLog.Len()))
	}

	// Processing.
	if err := p.setState(StateProcessing); err != nil {
		return err
	}
	if int(next) < len(plan) {
		if err := p.processChunks(runCtx, cfg, plan, next, monitor, store, ckptLog, summary); err != nil {
			return p.mapRunError(runCtx, err)
		}
	}
	// A timeout that drained cleanly still ends the run: the log is intact
	// and the next invocation resumes (possibly straight to assembly).
	if err := context.Cause(runCtx); err != nil && errors.Is(err, ErrTimeoutExceeded) {
		return ErrTimeoutExceeded
	}
	if err := runCtx.Err(); err != nil {
		return context.Cause(runCtx)
	}

	// Assembling.
	if err := p.setState(StateAssembling); err != nil {
		return err
	}
	report, err := NewAssembler(store).Assemble(runCtx, plan, outputPath, cfg.MinIntegrityScore)
	summary.Quality = report
	summary.RecordsProcessed = report.TotalRecords
	summary.IntegrityScore = report.IntegrityScore()
	if err != nil {
		return p.mapRunError(runCtx, err)
	}

	if err := p.setState(StateCompleted); err != nil {
		return err
	}

	// Intermediate chunk files, the result store and the checkpoint log are
	// only deleted after successful final assembly; every failure path
	// above retains them for inspection and resume.
	store.Close()
	ckptLog.Close()
	if err := os.RemoveAll(cfg.WorkDir); err != nil {
		p.logger.WarnContext(ctx, "failed to remove work dir", "dir", cfg.WorkDir, "error", err)
	}
	return nil
}

// processChunks runs the bounded worker pool with ordered commits.
//
// Topology: one dispatcher admitting chunks (gated by the memory monitor
// and a commit window), cfg.WorkerCount processors, and a single committer
// that holds out-of-order completions until every predecessor has
// committed. The committer is the only writer of the result store and the
// checkpoint log.
//
// Shutdown follows the drain pattern: runCtx cancellation stops admission
// immediately, while workers keep the drain context until in-flight chunks
// finish or DrainTimeout expires. No checkpoint is ever written for an
// incomplete chunk.
func (p *Pipeline) processChunks(
	runCtx context.Context,
	cfg Config,
	plan []Chunk,
	next uint32,
	monitor *MemoryMonitor,
	store *ResultStore,
	ckptLog *CheckpointLog,
	summary *Summary,
) error {
	drainCtx, drainCancel := context.WithCancelCause(context.WithoutCancel(runCtx))
	processingDone := make(chan struct{})
	defer close(processingDone)

	go func() {
		select {
		case <-runCtx.Done():
			timer := time.NewTimer(cfg.DrainTimeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				drainCancel(fmt.Errorf("drain timeout expired after %v: %w", cfg.DrainTimeout, context.Cause(runCtx)))
			case <-processingDone:
				drainCancel(nil)
			}
		case <-processingDone:
			drainCancel(nil)
		}
	}()

	group, groupCtx := errgroup.WithContext(drainCtx)

	processor := NewChunkProcessor(p.transformer, cfg.FailureRateThreshold, p.stats)
	if p.progress != nil {
		every := int64(p.progress.ReportInterval())
		if every <= 0 {
			every = DefaultReportInterval
		}
		processor.setProgress(p.progress, every)
	}

	chunkCh := make(chan Chunk, cfg.WorkerCount)
	resultCh := make(chan *ChunkResult, cfg.WorkerCount)
	// window bounds how far completions may run ahead of the commit
	// cursor, keeping the ordering buffer's memory fixed. Slots are
	// released by the committer.
	window := make(chan struct{}, cfg.WorkerCount*2)

	// Dispatcher: admission is gated by memory pressure and stops the
	// moment runCtx is cancelled, leaving in-flight chunks to drain.
	group.Go(func() error {
		defer close(chunkCh)
		// A worker failure cancels groupCtx; the gate must observe that
		// too, or a failed run could sit out critical pressure waiting on
		// a runCtx that never cancels.
		admitCtx, admitCancel := context.WithCancelCause(runCtx)
		defer admitCancel(nil)
		stop := context.AfterFunc(groupCtx, func() {
			admitCancel(context.Cause(groupCtx))
		})
		defer stop()
		for _, chunk := range plan[next:] {
			if err := monitor.AwaitAdmission(admitCtx); err != nil {
				if errors.Is(err, ErrResourceExhausted) {
					return err
				}
				return nil
			}
			select {
			case window <- struct{}{}:
			case <-runCtx.Done():
				return nil
			case <-groupCtx.Done():
				return nil
			}
			select {
			case chunkCh <- chunk:
			case <-runCtx.Done():
				return nil
			case <-groupCtx.Done():
				return nil
			}
		}
		return nil
	})

	// Workers: completion order across chunks is unconstrained.
	group.Go(func() error {
		defer close(resultCh)
		var workers errgroup.Group
		for range cfg.WorkerCount {
			workers.Go(func() error {
				for chunk := range chunkCh {
					result, err := processor.Process(groupCtx, chunk)
					if err != nil {
						return err
					}
					select {
					case resultCh <- result:
					case <-groupCtx.Done():
						return context.Cause(groupCtx)
					}
				}
				return nil
			})
		}
		return workers.Wait()
	})

	// Committer: the ordering latch. Out-of-order completions wait in
	// pending until all predecessors have committed; the checkpoint log
	// only ever advances in strictly increasing chunk order.
	group.Go(func() error {
		expect := next
		lastChunk := uint32(len(plan) - 1)
		pending := make(map[uint32]*ChunkResult)
		sinceCheckpoint := 0

		commit := func(result *ChunkResult) error {
			if err := store.Put(result); err != nil {
				return err
			}
			sinceCheckpoint++
			if sinceCheckpoint >= cfg.CheckpointInterval || result.ChunkID == lastChunk {
				if err := p.appendCheckpoint(groupCtx, ckptLog, plan[result.ChunkID], summary); err != nil {
					return err
				}
				sinceCheckpoint = 0
			}
			p.stats.incCommitted(1)
			<-window
			return nil
		}

		for result := range resultCh {
			pending[result.ChunkID] = result
			for {
				ready, ok := pending[expect]
				if !ok {
					break
				}
				if err := commit(ready); err != nil {
					return err
				}
				delete(pending, expect)
				expect++
			}
		}

		// Drained early (cancel/timeout): checkpoint the commit frontier so
		// the next run resumes exactly here. Results past a gap are
		// discarded, never committed.
		if sinceCheckpoint > 0 && expect > next {
			return p.appendCheckpoint(groupCtx, ckptLog, plan[expect-1], summary)
		}
		return nil
	})

	return group.Wait()
}

// appendCheckpoint writes one checkpoint record and updates the summary's
// commit frontier.
func (p *Pipeline) appendCheckpoint(ctx context.Context, ckptLog *CheckpointLog, chunk Chunk, summary *Summary) error {
	cp := ProcessingCheckpoint{
		PipelineID:            summary.PipelineID,
		ChunkID:               chunk.ID,
		CumulativeRecordCount: chunk.RecordEnd,
		ContentHash:           chunk.Checksum,
		Timestamp:             time.Now().UTC(),
		Status:                CheckpointStatusCommitted,
	}
	if err := ckptLog.Append(cp); err != nil {
		return err
	}
	summary.LastCommittedChunk = int64(chunk.ID)
	p.logger.DebugContext(ctx, "chunk committed",
		"pipeline_id", cp.PipelineID,
		"chunk_id", cp.ChunkID,
		"cumulative_records", cp.CumulativeRecordCount)
	return nil
}

// mapRunError folds context causes into the error taxonomy: a failure that
// raced with the wall-clock timeout is reported as the timeout.
func (p *Pipeline) mapRunError(runCtx context.Context, err error) error {
	if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, ErrTimeoutExceeded) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeoutExceeded) {
			return ErrTimeoutExceeded
		}
	}
	return err
}
