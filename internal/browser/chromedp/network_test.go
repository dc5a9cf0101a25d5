package chromedpdriver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

func finishedFor(id, url string) finished {
	return finished{
		id:  network.RequestID(id),
		req: inflight{url: url, method: "GET", resourceType: harvest.ResourceXHR, status: 200},
	}
}

func TestResponseQueueKeepsCompletionOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first body is the slowest to arrive.
	fetch := func(_ context.Context, id network.RequestID) ([]byte, error) {
		if id == "a" {
			time.Sleep(30 * time.Millisecond)
		}
		return []byte(`{"id":"` + string(id) + `"}`), nil
	}

	q := newResponseQueue()
	out := make(chan harvest.NetworkResponse, subscriptionBuffer)
	q.push(finishedFor("a", "https://www.zhihu.com/api/v4/questions/1/answers?offset=0"))
	q.push(finishedFor("b", "https://www.zhihu.com/api/v4/questions/1/answers?offset=5"))
	go q.drain(ctx, fetch, out)

	first := <-out
	second := <-out
	require.Equal(t, `{"id":"a"}`, string(first.Body))
	require.Equal(t, `{"id":"b"}`, string(second.Body))
	require.Equal(t, 200, first.Status)
	require.Equal(t, "GET", first.Method)

	q.push(finishedFor("c", "https://www.zhihu.com/api/v4/me"))
	third := <-out
	require.Equal(t, "https://www.zhihu.com/api/v4/me", third.URL)
}

func TestResponseQueueSkipsUnreadableBodies(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetch := func(_ context.Context, id network.RequestID) ([]byte, error) {
		if id == "gone" {
			return nil, errors.New("no resource with given identifier found")
		}
		return []byte("ok"), nil
	}

	q := newResponseQueue()
	out := make(chan harvest.NetworkResponse, subscriptionBuffer)
	q.push(finishedFor("gone", "https://a.example/1"))
	q.push(finishedFor("kept", "https://a.example/2"))
	go q.drain(ctx, fetch, out)

	resp := <-out
	require.Equal(t, "https://a.example/2", resp.URL)
}

func TestResponseQueueClosesOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	q := newResponseQueue()
	out := make(chan harvest.NetworkResponse)
	done := make(chan struct{})
	go func() {
		q.drain(ctx, func(context.Context, network.RequestID) ([]byte, error) { return nil, nil }, out)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain did not stop after cancel")
	}
	_, ok := <-out
	require.False(t, ok)
}
