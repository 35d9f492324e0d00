package corpusconv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	t.Run("fresh run", func(t *testing.T) {
		s := StateInitialized
		for _, next := range []State{StateSplitting, StateProcessing, StateAssembling, StateCompleted} {
			var err error
			s, err = transition(s, next)
			require.NoError(t, err)
			require.Equal(t, next, s)
		}
		require.True(t, s.Terminal())
	})

	t.Run("resumed run", func(t *testing.T) {
		s := StateInitialized
		for _, next := range []State{StateResuming, StateSplitting, StateProcessing, StateAssembling, StateCompleted} {
			var err error
			s, err = transition(s, next)
			require.NoError(t, err)
		}
		require.Equal(t, StateCompleted, s)
	})
}

func TestStateFailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []State{StateInitialized, StateResuming, StateSplitting, StateProcessing, StateAssembling} {
		s, err := transition(from, StateFailed)
		require.NoError(t, err, "from %s", from)
		require.Equal(t, StateFailed, s)
	}
}

func TestStateInvalidTransitions(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateInitialized, StateProcessing},
		{StateSplitting, StateCompleted},
		{StateProcessing, StateSplitting},
		{StateCompleted, StateFailed},
		{StateFailed, StateSplitting},
		{StateCompleted, StateSplitting},
	}
	for _, tc := range cases {
		s, err := transition(tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		require.Equal(t, tc.from, s, "state must not move on invalid transition")
	}
}

func TestStateTerminal(t *testing.T) {
	require.True(t, StateCompleted.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateInitialized.Terminal())
	require.False(t, StateProcessing.Terminal())
}
