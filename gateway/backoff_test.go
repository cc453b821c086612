// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitteredScalesWithDelay(t *testing.T) {
	for _, delay := range []time.Duration{
		50 * time.Millisecond,
		400 * time.Millisecond,
		10 * time.Second,
	} {
		low, high := delay+delay/4, delay-delay/4
		for i := 0; i < 200; i++ {
			got := jittered(delay)
			require.GreaterOrEqual(t, got, delay-delay/4)
			require.LessOrEqual(t, got, delay+delay/4)
			if got < low {
				low = got
			}
			if got > high {
				high = got
			}
		}
		// the spread widens with the delay instead of staying a fixed
		// fraction of the base delay
		require.Greater(t, high-low, delay/4)
	}

	require.Equal(t, time.Duration(0), jittered(0))
	require.Equal(t, time.Duration(0), jittered(-time.Second))
}
