// Package corpusconv converts very large raw corpora (JSON arrays or
// JSON-lines, hundreds of MB, 10^5-10^6 records) into a standardized
// dataset while keeping peak memory under a fixed ceiling and surviving
// crashes without reprocessing committed work.
//
// The pipeline streams the source through a boundary-preserving splitter,
// processes the resulting chunk files with a bounded worker pool, commits
// each finished chunk to an append-only checkpoint log in strict chunk
// order, and assembles committed results into the final dataset plus a
// quality report. A memory monitor runs alongside and pauses chunk
// admission under pressure.
//
// # Quick Start
//
// Supply a RecordTransformer, the domain-specific collaborator that turns
// one raw object into one ConversionRecord, and run:
//
//	type myTransformer struct{}
//
//	func (myTransformer) Transform(ctx context.Context, raw json.RawMessage) (corpusconv.ConversionRecord, error) {
//	    var in struct{ Prompt, Answer string }
//	    if err := json.Unmarshal(raw, &in); err != nil {
//	        return corpusconv.ConversionRecord{}, err
//	    }
//	    return corpusconv.ConversionRecord{Question: in.Prompt, AnswerType: "freeform", CorrectAnswer: in.Answer}, nil
//	}
//
//	summary, err := corpusconv.New(myTransformer{}, corpusconv.Config{
//	    MaxChunkBytes:      15 << 20,
//	    MemoryCeilingBytes: 200 << 20,
//	}).Run(ctx, "corpus.json", "dataset.json")
//
// # Resumability
//
// Every committed chunk is recorded in a crash-consistent checkpoint log
// (payload, fsync, commit marker, fsync). On startup, a non-empty log puts
// the run into the Resuming state: the deterministic chunk plan is
// re-derived from the source, validated against the committed checksums,
// and processing continues after the last committed chunk. A resumed run
// produces a dataset byte-for-byte identical to an uninterrupted one.
//
// Chunk results are durably stored (bbolt) before their checkpoint is
// written, so resume never needs to reprocess a committed chunk, and a
// checkpoint is never written for an incomplete chunk.
//
// # Memory Policy
//
// The worker count is clamped so that workers x per-worker budget stays
// within MemoryCeilingBytes. The memory monitor samples the heap at a
// fixed interval: at warning level (80% of the ceiling) it forces a GC and
// returns freed pages to the OS; at critical level (90%) it pauses
// admission of new chunks; if critical pressure outlasts the grace window
// the run fails with ErrResourceExhausted. A transient spike never kills
// the run.
//
// # Error Taxonomy
//
// Per-object transform failures are contained: they count against the
// chunk's failure-rate threshold and surface as skipped ordinals in the
// quality report. Fatal classes map to exit codes via ExitCode:
// IntegrityError and DataIntegrityError (1), ErrResourceExhausted (2),
// ErrTimeoutExceeded (3). Every fatal path leaves the checkpoint log
// intact for resume.
//
// # Optional Interfaces
//
// The pipeline auto-detects capabilities on the transformer value:
//
//	// Periodic progress (records processed)
//	func (t *T) ReportInterval() int { return 10000 }
//	func (t *T) OnProgress(ctx context.Context, stats *corpusconv.Stats) { ... }
//
//	// Lifecycle hooks
//	func (t *T) Start(ctx context.Context) context.Context { ... }
//	func (t *T) Stop(ctx context.Context, summary *corpusconv.Summary, err error) { ... }
//
// For sources mixing record shapes, Dispatcher routes each object to one
// of a fixed set of registered transformers by a discriminant field.
package corpusconv
