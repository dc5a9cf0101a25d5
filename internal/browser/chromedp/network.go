package chromedpdriver

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

const subscriptionBuffer = 64

type inflight struct {
	url          string
	method       string
	resourceType harvest.ResourceType
	status       int
}

type finished struct {
	id  network.RequestID
	req inflight
}

type bodyFunc func(ctx context.Context, id network.RequestID) ([]byte, error)

// Subscribe streams completed XHR and fetch responses with their bodies, in
// the order the browser reported them finished.
func (p *Page) Subscribe(ctx context.Context) (<-chan harvest.NetworkResponse, func()) {
	listenCtx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	out := make(chan harvest.NetworkResponse, subscriptionBuffer)
	queue := newResponseQueue()

	var (
		mu      sync.Mutex
		pending = make(map[network.RequestID]*inflight)
	)

	chromedp.ListenTarget(listenCtx, func(ev any) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Request == nil || !isAPIResource(e.Type) {
				return
			}
			pending[e.RequestID] = &inflight{
				url:          e.Request.URL,
				method:       e.Request.Method,
				resourceType: harvest.ResourceType(e.Type),
			}
		case *network.EventResponseReceived:
			req, ok := pending[e.RequestID]
			if !ok || e.Response == nil {
				return
			}
			req.status = int(e.Response.Status)
			if req.url == "" {
				req.url = e.Response.URL
			}
		case *network.EventLoadingFailed:
			delete(pending, e.RequestID)
		case *network.EventLoadingFinished:
			req, ok := pending[e.RequestID]
			if !ok {
				return
			}
			delete(pending, e.RequestID)
			queue.push(finished{id: e.RequestID, req: *req})
		}
	})

	go queue.drain(listenCtx, responseBody, out)

	release := func() {
		stop()
		cancel()
	}
	return out, release
}

// responseQueue hands finished requests to a single worker so bodies are
// delivered in completion-event order. The listener never blocks on it.
type responseQueue struct {
	mu    sync.Mutex
	items []finished
	wake  chan struct{}
}

func newResponseQueue() *responseQueue {
	return &responseQueue{wake: make(chan struct{}, 1)}
}

func (q *responseQueue) push(f finished) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *responseQueue) pop() (finished, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return finished{}, false
	}
	f := q.items[0]
	q.items[0] = finished{}
	q.items = q.items[1:]
	return f, true
}

// drain fetches one body at a time and sends it on out until ctx ends, then
// closes out. Requests whose body cannot be read are skipped.
func (q *responseQueue) drain(ctx context.Context, fetch bodyFunc, out chan<- harvest.NetworkResponse) {
	defer close(out)
	for ctx.Err() == nil {
		f, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		body, err := fetch(ctx, f.id)
		if err != nil {
			continue
		}
		select {
		case out <- harvest.NetworkResponse{
			URL:          f.req.url,
			Method:       f.req.method,
			ResourceType: f.req.resourceType,
			Status:       f.req.status,
			Body:         body,
		}:
		case <-ctx.Done():
			return
		}
	}
}

// responseBody must run off the event loop; the listener itself cannot issue commands.
func responseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return nil, chromedp.ErrInvalidTarget
	}
	return network.GetResponseBody(id).Do(cdp.WithExecutor(ctx, c.Target))
}

func isAPIResource(t network.ResourceType) bool {
	return t == network.ResourceTypeXHR || t == network.ResourceTypeFetch
}
