package corpusconv_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bjaus/corpusconv"
)

func TestNewStats(t *testing.T) {
	s := corpusconv.NewStats(100, 60, 58, 2, 5)

	require.Equal(t, int64(100), s.Split())
	require.Equal(t, int64(60), s.Processed())
	require.Equal(t, int64(58), s.Succeeded())
	require.Equal(t, int64(2), s.Failed())
	require.Equal(t, int64(5), s.Committed())
}

func TestStatsMarshalJSON(t *testing.T) {
	s := corpusconv.NewStats(100, 60, 58, 2, 5)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `{"split":100,"processed":60,"succeeded":58,"failed":2,"committed":5}`, string(data))
}

func TestStatsUnmarshalJSON(t *testing.T) {
	var s corpusconv.Stats
	err := json.Unmarshal([]byte(`{"split":7,"processed":6,"succeeded":4,"failed":2,"committed":1}`), &s)
	require.NoError(t, err)

	require.Equal(t, int64(7), s.Split())
	require.Equal(t, int64(6), s.Processed())
	require.Equal(t, int64(4), s.Succeeded())
	require.Equal(t, int64(2), s.Failed())
	require.Equal(t, int64(1), s.Committed())
}

func TestStatsUnmarshalJSONError(t *testing.T) {
	var s corpusconv.Stats
	require.Error(t, json.Unmarshal([]byte(`{"split":"nope"}`), &s))
}

func TestStatsRoundTrip(t *testing.T) {
	s := corpusconv.NewStats(10, 9, 8, 1, 3)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got corpusconv.Stats
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, s.Processed(), got.Processed())
	require.Equal(t, s.Committed(), got.Committed())
}
