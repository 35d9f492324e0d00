package corpusconv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ChunkResult is the output of processing one chunk: the converted records
// in source order plus the chunk-local quality tally.
type ChunkResult struct {
	ChunkID uint32             `json:"chunk_id"`
	Records []ConversionRecord `json:"records"`
	Quality QualityReport      `json:"quality"`
}

// ChunkProcessor consumes one chunk at a time, streaming its objects
// through the record transformer. Objects are decoded one by one so that
// per-object memory is released before the next object is read; the chunk
// file itself is never loaded whole.
//
// A ChunkProcessor is stateless between chunks and safe to share across the
// worker pool.
type ChunkProcessor struct {
	transformer RecordTransformer
	threshold   float64
	stats       *Stats
	progress    ProgressReporter
	reportEvery int64
}

// NewChunkProcessor creates a processor. stats may be nil, in which case
// the processor keeps private counters.
func NewChunkProcessor(transformer RecordTransformer, failureRateThreshold float64, stats *Stats) *ChunkProcessor {
	if stats == nil {
		stats = &Stats{}
	}
	return &ChunkProcessor{
		transformer: transformer,
		threshold:   failureRateThreshold,
		stats:       stats,
	}
}

// setProgress wires the optional progress hook. Called by the pipeline when
// the transformer implements ProgressReporter.
func (p *ChunkProcessor) setProgress(reporter ProgressReporter, every int64) {
	p.progress = reporter
	p.reportEvery = every
}

// Process streams the chunk's objects through the transformer and returns
// the chunk result. Per-object transform failures are recorded into the
// local quality tally; once the chunk's failure rate exceeds the threshold
// the chunk fails with a *DataIntegrityError. Cancellation is checked
// between objects, never mid-object.
func (p *ChunkProcessor) Process(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
	f, err := os.Open(chunk.Path)
	if err != nil {
		return nil, fmt.Errorf("process chunk %d: %w", chunk.ID, err)
	}
	defer f.Close()

	// Hash everything read from the file so the content checksum can be
	// verified against the plan once the stream is drained.
	h := sha256.New()
	dec := json.NewDecoder(io.TeeReader(f, h))

	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return nil, &IntegrityError{Offset: -1, Reason: fmt.Sprintf("chunk %d is not a JSON array", chunk.ID)}
	}

	total := chunk.Records()
	result := &ChunkResult{
		ChunkID: chunk.ID,
		Records: make([]ConversionRecord, 0, total),
		Quality: QualityReport{TotalRecords: total},
	}

	ordinal := chunk.RecordStart
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &IntegrityError{Offset: -1, Reason: fmt.Sprintf("chunk %d: malformed object at ordinal %d: %v", chunk.ID, ordinal, err)}
		}

		rec, terr := p.transformer.Transform(ctx, raw)
		p.trackProcessed(ctx)
		if terr != nil {
			p.stats.incFailed(1)
			result.Quality.FailureCount++
			result.Quality.Skipped = append(result.Quality.Skipped, ordinal)
			if rate := float64(result.Quality.FailureCount) / float64(total); rate > p.threshold {
				return nil, &DataIntegrityError{
					ChunkID:     chunk.ID,
					FailureRate: rate,
					Threshold:   p.threshold,
					Failed:      result.Quality.Skipped,
				}
			}
		} else {
			p.stats.incSucceeded(1)
			result.Quality.SuccessCount++
			result.Records = append(result.Records, rec)
		}
		ordinal++
	}

	if _, err := dec.Token(); err != nil {
		return nil, &IntegrityError{Offset: -1, Reason: fmt.Sprintf("chunk %d: unterminated array: %v", chunk.ID, err)}
	}

	// Drain the remainder so the hash covers the whole file.
	if _, err := io.Copy(io.Discard, io.TeeReader(f, h)); err != nil {
		return nil, fmt.Errorf("process chunk %d: %w", chunk.ID, err)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != chunk.Checksum {
		return nil, &IntegrityError{Offset: -1, Reason: fmt.Sprintf("chunk %d content checksum mismatch", chunk.ID)}
	}

	if got := ordinal - chunk.RecordStart; got != total {
		return nil, &IntegrityError{Offset: -1, Reason: fmt.Sprintf("chunk %d holds %d objects, plan says %d", chunk.ID, got, total)}
	}

	return result, nil
}

// trackProcessed bumps the processed counter and fires the progress hook on
// interval boundaries. The atomic add returns the new total, so previous
// and current values come from one operation and the crossing check is
// race-free across workers.
func (p *ChunkProcessor) trackProcessed(ctx context.Context) {
	n := p.stats.incProcessed(1)
	if p.progress != nil && p.reportEvery > 0 && n%p.reportEvery == 0 {
		p.progress.OnProgress(ctx, p.stats)
	}
}
