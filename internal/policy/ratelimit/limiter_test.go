package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 10, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.zhihu.com/api/v4/questions/1/answers"))
	require.NoError(t, l.Wait(ctx, "https://WWW.zhihu.com/api/v4/questions/1/answers?offset=5"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestLimiterSeparatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 0.01, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://a.example/x"))
	require.NoError(t, l.Wait(ctx, "https://b.example/x"))
	require.NoError(t, l.Wait(ctx, "::bad url"))
	require.Equal(t, 3, l.Hosts())
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/y"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.example/x"))
	}
}
