package corpusconv_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bjaus/corpusconv"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, corpusconv.ExitOK},
		{"integrity", &corpusconv.IntegrityError{Offset: 42, Reason: "truncated object"}, corpusconv.ExitDataIntegrity},
		{"data integrity", &corpusconv.DataIntegrityError{ChunkID: 3, FailureRate: 0.2, Threshold: 0.01}, corpusconv.ExitDataIntegrity},
		{"wrapped integrity", fmt.Errorf("run: %w", &corpusconv.IntegrityError{Offset: -1, Reason: "checksum mismatch"}), corpusconv.ExitDataIntegrity},
		{"resource exhausted", corpusconv.ErrResourceExhausted, corpusconv.ExitResourceExhausted},
		{"wrapped resource exhausted", fmt.Errorf("run: %w", corpusconv.ErrResourceExhausted), corpusconv.ExitResourceExhausted},
		{"timeout", corpusconv.ErrTimeoutExceeded, corpusconv.ExitTimeout},
		{"other", errors.New("disk on fire"), corpusconv.ExitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, corpusconv.ExitCode(tc.err))
		})
	}
}

func TestIntegrityErrorMessage(t *testing.T) {
	err := &corpusconv.IntegrityError{Offset: 128, Reason: "truncated object"}
	require.EqualError(t, err, "integrity: truncated object at byte offset 128")

	err = &corpusconv.IntegrityError{Offset: -1, Reason: "checksum mismatch"}
	require.EqualError(t, err, "integrity: checksum mismatch")
}

func TestDataIntegrityErrorMessage(t *testing.T) {
	err := &corpusconv.DataIntegrityError{ChunkID: 7, FailureRate: 0.05, Threshold: 0.01, Failed: []int64{70, 71, 72}}
	require.EqualError(t, err, "data integrity: chunk 7 failure rate 0.0500 exceeds threshold 0.0100 (3 records)")
}
