package system

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockReturnsCurrentUTC(t *testing.T) {
	t.Parallel()

	lower := time.Now().Add(-time.Second)
	got := New().Now()
	require.Equal(t, time.UTC, got.Location())
	require.WithinRange(t, got, lower, time.Now().Add(time.Second))
}

func TestSteppingAdvancesByStep(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0).UTC()
	clk := NewStepping(start, time.Millisecond)
	require.Equal(t, start, clk.Now())
	require.Equal(t, start.Add(time.Millisecond), clk.Now())
}

func TestSteppingConcurrentReadsAreDistinct(t *testing.T) {
	t.Parallel()

	clk := NewStepping(time.Unix(0, 0).UTC(), time.Nanosecond)
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clk.Now().UnixNano()
			mu.Lock()
			seen[ts] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 16)
}
