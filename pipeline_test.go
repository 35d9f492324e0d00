package corpusconv_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bjaus/corpusconv"
)

// makeCorpus writes a source file of n records shaped {"id":i,"q":"question i"}.
func makeCorpus(t *testing.T, n int) string {
	t.Helper()
	src := "["
	for i := range n {
		if i > 0 {
			src += ","
		}
		src += fmt.Sprintf(`{"id":%d,"q":"question %d"}`, i, i)
	}
	return writeSource(t, src+"]")
}

// idTransformer converts test records deterministically, so two runs over the
// same source produce byte-identical datasets.
func idTransformer() corpusconv.RecordTransformer {
	return corpusconv.TransformerFunc(func(_ context.Context, raw json.RawMessage) (corpusconv.ConversionRecord, error) {
		var in struct {
			ID int    `json:"id"`
			Q  string `json:"q"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return corpusconv.ConversionRecord{}, err
		}
		return corpusconv.ConversionRecord{
			Question:      in.Q,
			AnswerType:    "freeform",
			CorrectAnswer: strconv.Itoa(in.ID),
		}, nil
	})
}

func readDataset(t *testing.T, path string) []corpusconv.ConversionRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []corpusconv.ConversionRecord
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestPipeline_Run(t *testing.T) {
	source := makeCorpus(t, 10)
	out := filepath.Join(t.TempDir(), "dataset.json")

	p := corpusconv.New(idTransformer(), corpusconv.Config{
		MaxObjectsPerChunk: 3,
		WallClockTimeout:   time.Minute,
	})
	summary, err := p.Run(context.Background(), source, out)
	require.NoError(t, err)

	require.Equal(t, corpusconv.StateCompleted, p.State())
	require.NotEmpty(t, summary.PipelineID)
	require.Equal(t, 4, summary.ChunkCount)
	require.Equal(t, int64(10), summary.RecordsProcessed)
	require.Equal(t, int64(3), summary.LastCommittedChunk)
	require.Equal(t, 1.0, summary.IntegrityScore)
	require.Positive(t, summary.Duration)

	require.Equal(t, int64(10), p.Stats().Split())
	require.Equal(t, int64(10), p.Stats().Processed())
	require.Equal(t, int64(10), p.Stats().Succeeded())
	require.Zero(t, p.Stats().Failed())
	require.Equal(t, int64(4), p.Stats().Committed())

	records := readDataset(t, out)
	require.Len(t, records, 10)
	for i, rec := range records {
		require.Equal(t, strconv.Itoa(i), rec.CorrectAnswer)
	}

	// Successful completion removes the work directory.
	require.NoDirExists(t, out+".work")
}

func TestPipeline_FailuresUnderThreshold(t *testing.T) {
	source := makeCorpus(t, 1000)
	out := filepath.Join(t.TempDir(), "dataset.json")

	p := corpusconv.New(&failOn{ids: map[int]bool{7: true}}, corpusconv.Config{
		MaxObjectsPerChunk:   100,
		FailureRateThreshold: 0.01,
		WallClockTimeout:     time.Minute,
	})
	summary, err := p.Run(context.Background(), source, out)
	require.NoError(t, err)

	require.Equal(t, int64(999), summary.RecordsProcessed)
	require.InDelta(t, 0.999, summary.IntegrityScore, 1e-9)
	require.Equal(t, []int64{7}, summary.Quality.Skipped)

	records := readDataset(t, out)
	require.Len(t, records, 999)
	require.Equal(t, "6", records[6].CorrectAnswer)
	require.Equal(t, "8", records[7].CorrectAnswer) // record 7 skipped
}

func TestPipeline_ResumeAfterFailure(t *testing.T) {
	source := makeCorpus(t, 100)
	dir := t.TempDir()
	out := filepath.Join(dir, "dataset.json")

	cfg := corpusconv.Config{
		MaxObjectsPerChunk: 10,
		WallClockTimeout:   time.Minute,
	}

	// Chunk 5 (records 50-59) fails outright; chunks 0-4 commit first.
	bad := map[int]bool{}
	for id := 50; id < 60; id++ {
		bad[id] = true
	}
	p := corpusconv.New(&failOn{ids: bad}, cfg).WithWorkers(1)
	summary, err := p.Run(context.Background(), source, out)

	var de *corpusconv.DataIntegrityError
	require.ErrorAs(t, err, &de)
	require.Equal(t, uint32(5), de.ChunkID)
	require.Equal(t, corpusconv.ExitDataIntegrity, corpusconv.ExitCode(err))
	require.Equal(t, corpusconv.StateFailed, p.State())
	require.Equal(t, int64(4), summary.LastCommittedChunk)
	require.NotEmpty(t, summary.Remediation)
	require.NoFileExists(t, out)
	require.DirExists(t, out+".work")

	// Second invocation with fixed data: only uncommitted chunks run again.
	var calls atomic.Int64
	counting := corpusconv.TransformerFunc(func(ctx context.Context, raw json.RawMessage) (corpusconv.ConversionRecord, error) {
		calls.Add(1)
		return idTransformer().Transform(ctx, raw)
	})
	p2 := corpusconv.New(counting, cfg).WithWorkers(1)
	summary2, err := p2.Run(context.Background(), source, out)
	require.NoError(t, err)

	require.Equal(t, int64(50), calls.Load(), "committed chunks must not be reprocessed")
	require.Equal(t, summary.PipelineID, summary2.PipelineID, "resumed run keeps the original pipeline id")
	require.Equal(t, int64(100), summary2.RecordsProcessed)
	require.Equal(t, int64(10), p2.Stats().Committed())
	require.NoDirExists(t, out+".work")

	// The resumed dataset is byte-identical to an uninterrupted run.
	refOut := filepath.Join(dir, "reference.json")
	_, err = corpusconv.New(idTransformer(), cfg).Run(context.Background(), source, refOut)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	want, err := os.ReadFile(refOut)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestPipeline_Timeout(t *testing.T) {
	source := makeCorpus(t, 6)
	out := filepath.Join(t.TempDir(), "dataset.json")

	slow := corpusconv.TransformerFunc(func(ctx context.Context, raw json.RawMessage) (corpusconv.ConversionRecord, error) {
		time.Sleep(30 * time.Millisecond)
		return idTransformer().Transform(ctx, raw)
	})

	cfg := corpusconv.Config{
		MaxObjectsPerChunk: 2,
		WallClockTimeout:   20 * time.Millisecond,
		DrainTimeout:       5 * time.Second,
	}
	p := corpusconv.New(slow, cfg).WithWorkers(1)
	_, err := p.Run(context.Background(), source, out)
	require.ErrorIs(t, err, corpusconv.ErrTimeoutExceeded)
	require.Equal(t, corpusconv.ExitTimeout, corpusconv.ExitCode(err))

	// The checkpoint log survives for the next invocation.
	require.DirExists(t, out+".work")
	require.FileExists(t, filepath.Join(out+".work", "checkpoints.log"))

	// A retry with time to spare finishes the job.
	cfg.WallClockTimeout = time.Minute
	summary, err := corpusconv.New(idTransformer(), cfg).Run(context.Background(), source, out)
	require.NoError(t, err)
	require.Equal(t, int64(6), summary.RecordsProcessed)
	require.Len(t, readDataset(t, out), 6)
}

func TestPipeline_EmptySource(t *testing.T) {
	source := writeSource(t, "[]")
	out := filepath.Join(t.TempDir(), "dataset.json")

	p := corpusconv.New(idTransformer(), corpusconv.Config{WallClockTimeout: time.Minute})
	summary, err := p.Run(context.Background(), source, out)
	require.NoError(t, err)

	require.Equal(t, corpusconv.StateCompleted, p.State())
	require.Zero(t, summary.ChunkCount)
	require.Zero(t, summary.RecordsProcessed)
	require.Equal(t, 1.0, summary.IntegrityScore)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestPipeline_MissingSource(t *testing.T) {
	dir := t.TempDir()
	p := corpusconv.New(idTransformer(), corpusconv.Config{WallClockTimeout: time.Minute})
	_, err := p.Run(context.Background(), filepath.Join(dir, "nope.json"), filepath.Join(dir, "out.json"))
	require.Error(t, err)
	require.Equal(t, corpusconv.ExitFailure, corpusconv.ExitCode(err))
	require.Equal(t, corpusconv.StateFailed, p.State())
}

func TestPipeline_InvalidConfig(t *testing.T) {
	p := corpusconv.New(idTransformer(), corpusconv.Config{FailureRateThreshold: 1.5})
	_, err := p.Run(context.Background(), "unused", "unused")
	require.ErrorContains(t, err, "failure rate threshold")
	require.Equal(t, corpusconv.StateFailed, p.State())
}

func TestPipeline_AlreadyRun(t *testing.T) {
	source := makeCorpus(t, 2)
	out := filepath.Join(t.TempDir(), "dataset.json")

	p := corpusconv.New(idTransformer(), corpusconv.Config{WallClockTimeout: time.Minute})
	_, err := p.Run(context.Background(), source, out)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), source, out)
	require.ErrorContains(t, err, "already run")
}

type ctxKey struct{}

// hookTransformer exercises every optional capability interface.
type hookTransformer struct {
	startCalled  atomic.Bool
	progressHits atomic.Int64
	stopSummary  *corpusconv.Summary
	stopErr      error
}

var (
	_ corpusconv.RecordTransformer = (*hookTransformer)(nil)
	_ corpusconv.ProgressReporter  = (*hookTransformer)(nil)
	_ corpusconv.Starter           = (*hookTransformer)(nil)
	_ corpusconv.Stopper           = (*hookTransformer)(nil)
)

func (h *hookTransformer) Transform(ctx context.Context, raw json.RawMessage) (corpusconv.ConversionRecord, error) {
	if ctx.Value(ctxKey{}) == nil {
		return corpusconv.ConversionRecord{}, fmt.Errorf("context from Start not propagated")
	}
	return idTransformer().Transform(ctx, raw)
}

func (h *hookTransformer) ReportInterval() int { return 1 }

func (h *hookTransformer) OnProgress(_ context.Context, _ *corpusconv.Stats) {
	h.progressHits.Add(1)
}

func (h *hookTransformer) Start(ctx context.Context) context.Context {
	h.startCalled.Store(true)
	return context.WithValue(ctx, ctxKey{}, true)
}

func (h *hookTransformer) Stop(_ context.Context, summary *corpusconv.Summary, err error) {
	h.stopSummary = summary
	h.stopErr = err
}

func TestPipeline_OptionalHooks(t *testing.T) {
	source := makeCorpus(t, 5)
	out := filepath.Join(t.TempDir(), "dataset.json")

	h := &hookTransformer{}
	p := corpusconv.New(h, corpusconv.Config{WallClockTimeout: time.Minute})
	_, err := p.Run(context.Background(), source, out)
	require.NoError(t, err)

	require.True(t, h.startCalled.Load())
	require.Equal(t, int64(5), h.progressHits.Load())
	require.NotNil(t, h.stopSummary)
	require.NoError(t, h.stopErr)
	require.Equal(t, int64(5), h.stopSummary.RecordsProcessed)
}
