package corpusconv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Assembler merges committed chunk results in index order into the final
// dataset and the aggregate quality report. It loads one chunk result at a
// time, so the assembly pass stays within the same memory envelope as
// processing.
type Assembler struct {
	store *ResultStore
}

// NewAssembler creates an Assembler reading from the given store.
func NewAssembler(store *ResultStore) *Assembler {
	return &Assembler{store: store}
}

// Assemble streams every chunk's records, in chunk order, into a single
// JSON array at outputPath and returns the aggregate report. The output is
// written to a temp file and only renamed into place after the integrity
// gate passes: a run that fails the minimum score leaves no dataset behind,
// only the report.
func (a *Assembler) Assemble(ctx context.Context, plan []Chunk, outputPath string, minIntegrityScore float64) (QualityReport, error) {
	var report QualityReport

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, fmt.Errorf("assemble: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".dataset-*")
	if err != nil {
		return report, fmt.Errorf("assemble: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	w := bufio.NewWriterSize(tmp, 256<<10)
	if err := w.WriteByte('['); err != nil {
		tmp.Close()
		return report, fmt.Errorf("assemble: %w", err)
	}

	wroteAny := false
	for _, chunk := range plan {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return report, err
		}

		result, ok, err := a.store.Get(chunk.ID)
		if err != nil {
			tmp.Close()
			return report, fmt.Errorf("assemble: %w", err)
		}
		if !ok {
			tmp.Close()
			return report, fmt.Errorf("assemble: chunk %d committed but missing from result store", chunk.ID)
		}

		report.merge(result.Quality)

		for i := range result.Records {
			if wroteAny {
				if err := w.WriteByte(','); err != nil {
					tmp.Close()
					return report, fmt.Errorf("assemble: %w", err)
				}
			}
			data, err := json.Marshal(&result.Records[i])
			if err != nil {
				tmp.Close()
				return report, fmt.Errorf("assemble: chunk %d: %w", chunk.ID, err)
			}
			if _, err := w.Write(data); err != nil {
				tmp.Close()
				return report, fmt.Errorf("assemble: %w", err)
			}
			wroteAny = true
		}
	}

	if err := w.WriteByte(']'); err != nil {
		tmp.Close()
		return report, fmt.Errorf("assemble: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return report, fmt.Errorf("assemble: %w", err)
	}

	// Integrity gate: below the minimum score the dataset is not finalized.
	if score := report.IntegrityScore(); score < minIntegrityScore {
		tmp.Close()
		return report, fmt.Errorf("assemble: integrity score %.4f below minimum %.4f: %w",
			score, minIntegrityScore, &DataIntegrityError{
				FailureRate: 1 - score,
				Threshold:   1 - minIntegrityScore,
				Failed:      report.Skipped,
			})
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return report, fmt.Errorf("assemble: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return report, fmt.Errorf("assemble: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return report, fmt.Errorf("assemble: %w", err)
	}
	syncDir(dir)

	return report, nil
}
