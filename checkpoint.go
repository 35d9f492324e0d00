package corpusconv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ProcessingCheckpoint marks one chunk as fully processed and durably
// committed. Checkpoints are append-only and immutable; the committed
// sequence is strictly increasing by chunk id, and a checkpoint is only
// ever written after the chunk's results reached intermediate storage.
type ProcessingCheckpoint struct {
	PipelineID            string    `json:"pipeline_id"`
	ChunkID               uint32    `json:"chunk_id"`
	CumulativeRecordCount int64     `json:"cumulative_record_count"`
	ContentHash           string    `json:"content_hash"`
	Timestamp             time.Time `json:"timestamp"`
	Status                string    `json:"status"`
}

// CheckpointStatusCommitted is the only status ever written; the field
// exists so the log format can grow without breaking forward readers.
const CheckpointStatusCommitted = "committed"

// commitMarker terminates a durable checkpoint record. A payload line
// without its marker is an interrupted write and is truncated on open.
const commitMarker = "+"

// CheckpointLog is a crash-consistent, append-only log of committed
// chunks. Each record is a JSON payload line followed by a commit-marker
// line, each fsynced in turn: a crash between the two leaves a tail that
// OpenCheckpointLog trims before resuming. The log is read forward and
// never loaded whole.
//
// The log has exactly one writer (the pipeline's committer); no locking is
// needed by construction.
type CheckpointLog struct {
	path      string
	f         *os.File
	committed []ProcessingCheckpoint
}

// OpenCheckpointLog opens (creating if absent) the log at path, scans it
// forward, truncates an incomplete tail record, and positions the file for
// appends.
func OpenCheckpointLog(path string) (*CheckpointLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open log: %w", err)
	}

	l := &CheckpointLog{path: path, f: f}
	validEnd, err := l.scan()
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("checkpoint: stat log: %w", err)
	}
	if info.Size() > validEnd {
		if err := f.Truncate(validEnd); err != nil {
			f.Close()
			return nil, fmt.Errorf("checkpoint: truncate torn tail: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("checkpoint: seek: %w", err)
	}
	return l, nil
}

// scan reads the log forward, collecting committed records and returning
// the byte offset past the last fully committed record.
func (l *CheckpointLog) scan() (int64, error) {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("checkpoint: seek: %w", err)
	}

	r := bufio.NewReader(l.f)
	var validEnd int64

	for {
		payload, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return validEnd, nil // torn payload line, truncate here
			}
			return 0, fmt.Errorf("checkpoint: read log: %w", err)
		}

		var cp ProcessingCheckpoint
		if err := json.Unmarshal([]byte(payload), &cp); err != nil {
			return validEnd, nil // corrupt tail, truncate here
		}

		marker, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return validEnd, nil // payload written, commit marker lost
			}
			return 0, fmt.Errorf("checkpoint: read log: %w", err)
		}
		if strings.TrimSpace(marker) != commitMarker {
			return validEnd, nil
		}

		if n := len(l.committed); n > 0 && cp.ChunkID <= l.committed[n-1].ChunkID {
			return 0, &IntegrityError{Offset: -1, Reason: fmt.Sprintf(
				"checkpoint log not strictly increasing: chunk %d after %d", cp.ChunkID, l.committed[n-1].ChunkID)}
		}
		l.committed = append(l.committed, cp)
		validEnd += int64(len(payload) + len(marker))
	}
}

// Append durably writes one checkpoint: payload, fsync, commit marker,
// fsync. The chunk id must be strictly greater than the last committed id.
func (l *CheckpointLog) Append(cp ProcessingCheckpoint) error {
	if last, ok := l.Last(); ok && cp.ChunkID <= last.ChunkID {
		return fmt.Errorf("checkpoint: chunk %d not after committed chunk %d", cp.ChunkID, last.ChunkID)
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if _, err := l.f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("checkpoint: append payload: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("checkpoint: sync payload: %w", err)
	}
	if _, err := l.f.WriteString(commitMarker + "\n"); err != nil {
		return fmt.Errorf("checkpoint: append marker: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("checkpoint: sync marker: %w", err)
	}

	l.committed = append(l.committed, cp)
	return nil
}

// Last returns the most recent committed checkpoint.
func (l *CheckpointLog) Last() (ProcessingCheckpoint, bool) {
	if len(l.committed) == 0 {
		return ProcessingCheckpoint{}, false
	}
	return l.committed[len(l.committed)-1], true
}

// Committed returns the committed sequence in log order.
func (l *CheckpointLog) Committed() []ProcessingCheckpoint {
	out := make([]ProcessingCheckpoint, len(l.committed))
	copy(out, l.committed)
	return out
}

// Len returns the number of committed checkpoints.
func (l *CheckpointLog) Len() int { return len(l.committed) }

// Close closes the underlying file.
func (l *CheckpointLog) Close() error { return l.f.Close() }

// validateResume checks a re-derived chunk plan against the committed log:
// every committed checkpoint must match its chunk's content checksum and
// cumulative record count, otherwise the source or configuration changed
// underneath the log and resuming would silently corrupt the dataset.
func (l *CheckpointLog) validateResume(plan []Chunk) error {
	for _, cp := range l.committed {
		if int(cp.ChunkID) >= len(plan) {
			return &IntegrityError{Offset: -1, Reason: fmt.Sprintf(
				"checkpoint for chunk %d but re-derived plan has only %d chunks", cp.ChunkID, len(plan))}
		}
		chunk := plan[cp.ChunkID]
		if chunk.Checksum != cp.ContentHash {
			return &IntegrityError{Offset: -1, Reason: fmt.Sprintf(
				"chunk %d checksum mismatch on resume: source or limits changed since commit", cp.ChunkID)}
		}
		if chunk.RecordEnd != cp.CumulativeRecordCount {
			return &IntegrityError{Offset: -1, Reason: fmt.Sprintf(
				"chunk %d cumulative record count mismatch on resume: log says %d, plan says %d",
				cp.ChunkID, cp.CumulativeRecordCount, chunk.RecordEnd)}
		}
	}
	return nil
}
