package corpusconv

import (
	"errors"
	"fmt"
)

// Sentinel errors for the resource and timeout failure classes. Both leave a
// valid checkpoint log behind, so a subsequent run resumes instead of
// restarting from scratch.
var (
	// ErrResourceExhausted is returned when memory pressure stays at the
	// critical level past the configured grace window.
	ErrResourceExhausted = errors.New("corpusconv: memory ceiling exceeded past grace window")

	// ErrTimeoutExceeded is returned when the wall-clock budget for the run
	// expires. In-flight chunks are drained to a safe boundary first.
	ErrTimeoutExceeded = errors.New("corpusconv: wall-clock timeout exceeded")
)

// IntegrityError reports malformed or truncated input detected while
// splitting, or a chunk whose on-disk content no longer matches the
// checksum recorded at commit time. It is fatal and pre-processing: nothing
// downstream ever sees a chunk from a run that failed this way.
type IntegrityError struct {
	// Offset is the byte offset in the source file where the problem was
	// detected, or -1 when the error is not positional (e.g. a checksum
	// mismatch on resume).
	Offset int64
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("integrity: %s", e.Reason)
	}
	return fmt.Sprintf("integrity: %s at byte offset %d", e.Reason, e.Offset)
}

// DataIntegrityError reports a chunk whose per-record failure rate exceeded
// the configured threshold. The run fails, but the checkpoint log remains
// valid: after the data is fixed, a resumed run picks up at the failed
// chunk.
type DataIntegrityError struct {
	ChunkID     uint32
	FailureRate float64
	Threshold   float64
	// Failed holds the source ordinals of the records that failed to
	// transform within the chunk, in order.
	Failed []int64
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: chunk %d failure rate %.4f exceeds threshold %.4f (%d records)",
		e.ChunkID, e.FailureRate, e.Threshold, len(e.Failed))
}

// Exit codes for the invocation contract. Every non-zero exit leaves the
// checkpoint log intact for retry.
const (
	ExitOK                = 0
	ExitDataIntegrity     = 1
	ExitResourceExhausted = 2
	ExitTimeout           = 3
	ExitFailure           = 4 // any other error (I/O, configuration, ...)
)

// ExitCode maps a Run error to the process exit code contract.
func ExitCode(err error) int {
	var ie *IntegrityError
	var de *DataIntegrityError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ie), errors.As(err, &de):
		return ExitDataIntegrity
	case errors.Is(err, ErrResourceExhausted):
		return ExitResourceExhausted
	case errors.Is(err, ErrTimeoutExceeded):
		return ExitTimeout
	default:
		return ExitFailure
	}
}
