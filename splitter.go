package corpusconv

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Chunk describes one contiguous, boundary-respecting slice of the source
// file, persisted as its own self-contained JSON array file. Record ranges
// across a plan are contiguous, non-overlapping, and exactly cover
// [0, total records).
type Chunk struct {
	ID          uint32 `json:"chunk_id"`
	RecordStart int64  `json:"record_start"` // inclusive source ordinal
	RecordEnd   int64  `json:"record_end"`   // exclusive source ordinal
	ByteStart   int64  `json:"byte_start"`   // source offset of the first object
	ByteEnd     int64  `json:"byte_end"`     // source offset past the last object
	Path        string `json:"file_path"`
	Checksum    string `json:"content_checksum"` // sha256 of the chunk file, hex
}

// Records returns the number of source records the chunk covers.
func (c Chunk) Records() int64 { return c.RecordEnd - c.RecordStart }

// Splitter streams a JSON array or JSON-lines source file and emits an
// ordered chunk plan. It never materializes the document: a structural
// tokenizer (nesting depth plus string/escape state, no full parse) finds
// the end of each top-level object, and at most one chunk buffer is held in
// memory at a time.
//
// The split is deterministic: the same source file and limits always
// produce byte-identical chunk files, which is what makes the plan
// re-derivable on resume instead of persisted.
type Splitter struct {
	maxChunkBytes int64
	maxObjects    int
	dir           string
}

// NewSplitter creates a Splitter writing chunk files into dir.
func NewSplitter(maxChunkBytes int64, maxObjects int, dir string) *Splitter {
	return &Splitter{maxChunkBytes: maxChunkBytes, maxObjects: maxObjects, dir: dir}
}

// Split scans sourcePath and returns the ordered chunk plan. Each chunk is
// flushed atomically (temp file, fsync, rename) before the next one starts,
// so a failed run never leaves a partially written chunk visible.
//
// A truncated trailing object yields an *IntegrityError carrying the byte
// offset where the object began. An empty source yields a nil plan.
func (s *Splitter) Split(ctx context.Context, sourcePath string) ([]Chunk, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("split: open source: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("split: create chunk dir: %w", err)
	}

	sc := &sourceScanner{r: bufio.NewReaderSize(f, 256<<10)}

	arrayMode, empty, err := sc.begin()
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}

	var (
		plan    []Chunk
		buf     bytes.Buffer // payload of the active chunk, without brackets
		count   int
		ordinal int64
		byteLo  int64 // source offset of the active chunk's first object
	)

	flush := func(byteHi int64) error {
		chunk, err := s.flushChunk(uint32(len(plan)), &buf, ordinal-int64(count), ordinal, byteLo, byteHi)
		if err != nil {
			return err
		}
		plan = append(plan, chunk)
		buf.Reset()
		count = 0
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		objStart, obj, more, err := sc.next(arrayMode)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}

		if count == 0 {
			byteLo = objStart
		}
		if count > 0 {
			buf.WriteByte(',')
		}
		buf.Write(obj)
		count++
		ordinal++

		if count >= s.maxObjects || int64(buf.Len()) >= s.maxChunkBytes {
			if err := flush(sc.offset); err != nil {
				return nil, err
			}
		}
	}

	if count > 0 {
		if err := flush(sc.offset); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// flushChunk writes the accumulated payload as a JSON array file via
// temp+fsync+rename, returning the completed descriptor.
func (s *Splitter) flushChunk(id uint32, payload *bytes.Buffer, recLo, recHi, byteLo, byteHi int64) (Chunk, error) {
	dest := filepath.Join(s.dir, chunkFileName(id))

	tmp, err := os.CreateTemp(s.dir, ".chunk-*")
	if err != nil {
		return Chunk{}, fmt.Errorf("split: flush chunk %d: %w", id, err)
	}
	tmpPath := tmp.Name()
	discard := func(err error) (Chunk, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return Chunk{}, fmt.Errorf("split: flush chunk %d: %w", id, err)
	}

	h := sha256.New()
	w := bufio.NewWriterSize(io.MultiWriter(tmp, h), 64<<10)
	if err := w.WriteByte('['); err != nil {
		return discard(err)
	}
	if _, err := payload.WriteTo(w); err != nil {
		return discard(err)
	}
	if err := w.WriteByte(']'); err != nil {
		return discard(err)
	}
	if err := w.Flush(); err != nil {
		return discard(err)
	}
	if err := tmp.Sync(); err != nil {
		return discard(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Chunk{}, fmt.Errorf("split: flush chunk %d: %w", id, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return Chunk{}, fmt.Errorf("split: flush chunk %d: %w", id, err)
	}
	syncDir(s.dir)

	return Chunk{
		ID:          id,
		RecordStart: recLo,
		RecordEnd:   recHi,
		ByteStart:   byteLo,
		ByteEnd:     byteHi,
		Path:        dest,
		Checksum:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func chunkFileName(id uint32) string {
	return fmt.Sprintf("chunk-%06d.json", id)
}

// syncDir fsyncs a directory so a preceding rename survives a crash.
// Best effort: not every platform supports syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// sourceScanner walks the byte stream of a JSON array or JSON-lines file and
// yields one complete top-level object at a time. It tracks only structural
// state: nesting depth, whether the cursor is inside a string, and whether
// the previous byte opened an escape. Multi-line strings and escaped quotes
// therefore never produce a false boundary.
type sourceScanner struct {
	r      *bufio.Reader
	offset int64 // bytes consumed from the source
	val    bytes.Buffer
	closed bool // array mode: ']' already consumed
}

func (s *sourceScanner) readByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err == nil {
		s.offset++
	}
	return b, err
}

func (s *sourceScanner) unreadByte() {
	// ReadByte succeeded immediately before every unread, so this cannot fail.
	_ = s.r.UnreadByte()
	s.offset--
}

// skipSpace consumes JSON whitespace. Returns io.EOF at end of input.
func (s *sourceScanner) skipSpace() error {
	for {
		b, err := s.readByte()
		if err != nil {
			return err
		}
		switch b {
		case ' ', '\t', '\n', '\r':
		default:
			s.unreadByte()
			return nil
		}
	}
}

// begin detects the container format. arrayMode is true when the source is
// one top-level JSON array; false means JSON-lines. empty is true when the
// source holds no records at all.
func (s *sourceScanner) begin() (arrayMode, empty bool, err error) {
	if err := s.skipSpace(); err != nil {
		if err == io.EOF {
			return false, true, nil
		}
		return false, false, fmt.Errorf("split: read source: %w", err)
	}
	b, err := s.readByte()
	if err != nil {
		return false, false, fmt.Errorf("split: read source: %w", err)
	}
	if b != '[' {
		s.unreadByte()
		return false, false, nil
	}
	// Empty array?
	if err := s.skipSpace(); err != nil {
		if err == io.EOF {
			return true, false, &IntegrityError{Offset: s.offset, Reason: "unterminated top-level array"}
		}
		return true, false, fmt.Errorf("split: read source: %w", err)
	}
	b, err = s.readByte()
	if err != nil {
		return true, false, fmt.Errorf("split: read source: %w", err)
	}
	if b == ']' {
		s.closed = true
		return true, true, nil
	}
	s.unreadByte()
	return true, false, nil
}

// next yields the raw bytes and starting offset of the next top-level
// object. more is false when the source is exhausted. The returned slice is
// only valid until the following call.
func (s *sourceScanner) next(arrayMode bool) (start int64, obj []byte, more bool, err error) {
	if s.closed {
		return 0, nil, false, nil
	}
	if err := s.skipSpace(); err != nil {
		if err == io.EOF {
			if arrayMode {
				return 0, nil, false, &IntegrityError{Offset: s.offset, Reason: "unterminated top-level array"}
			}
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("split: read source: %w", err)
	}

	start = s.offset
	if err := s.scanValue(); err != nil {
		return 0, nil, false, err
	}

	if arrayMode {
		if err := s.skipSpace(); err != nil {
			if err == io.EOF {
				return 0, nil, false, &IntegrityError{Offset: s.offset, Reason: "unterminated top-level array"}
			}
			return 0, nil, false, fmt.Errorf("split: read source: %w", err)
		}
		b, err := s.readByte()
		if err != nil {
			return 0, nil, false, fmt.Errorf("split: read source: %w", err)
		}
		switch b {
		case ',':
		case ']':
			s.closed = true
		default:
			return 0, nil, false, &IntegrityError{Offset: s.offset - 1, Reason: fmt.Sprintf("expected ',' or ']' after value, got %q", b)}
		}
	}

	return start, s.val.Bytes(), true, nil
}

// scanValue consumes one complete JSON value into s.val.
func (s *sourceScanner) scanValue() error {
	s.val.Reset()
	valStart := s.offset

	b, err := s.readByte()
	if err != nil {
		return &IntegrityError{Offset: valStart, Reason: "truncated value"}
	}

	switch b {
	case '{', '[':
		s.val.WriteByte(b)
		return s.scanComposite(valStart)
	case '"':
		s.val.WriteByte(b)
		return s.scanString(valStart)
	default:
		s.val.WriteByte(b)
		return s.scanScalar()
	}
}

// scanComposite consumes the remainder of an object or array whose opening
// bracket has already been written to s.val.
func (s *sourceScanner) scanComposite(valStart int64) error {
	depth := 1
	inString := false
	escaped := false

	for {
		b, err := s.readByte()
		if err != nil {
			return &IntegrityError{Offset: valStart, Reason: "truncated object"}
		}
		s.val.WriteByte(b)

		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}

// scanString consumes the remainder of a string whose opening quote has
// already been written to s.val.
func (s *sourceScanner) scanString(valStart int64) error {
	escaped := false
	for {
		b, err := s.readByte()
		if err != nil {
			return &IntegrityError{Offset: valStart, Reason: "truncated string"}
		}
		s.val.WriteByte(b)
		switch {
		case escaped:
			escaped = false
		case b == '\\':
			escaped = true
		case b == '"':
			return nil
		}
	}
}

// scanScalar consumes a number, true, false, or null up to the next
// structural delimiter. Validity of the token itself is left to the chunk
// processor's decoder; the splitter only needs the boundary.
func (s *sourceScanner) scanScalar() error {
	for {
		b, err := s.readByte()
		if err != nil {
			return nil // EOF ends a scalar
		}
		switch b {
		case ' ', '\t', '\n', '\r', ',', ']', '}':
			s.unreadByte()
			return nil
		default:
			s.val.WriteByte(b)
		}
	}
}
