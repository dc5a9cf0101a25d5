package chromedpdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/metrics"
)

// Page is a live chromedp tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	closeOnce sync.Once
	closeErr  error
}

var _ harvest.Page = (*Page)(nil)

// run executes actions on the tab, bounded by both the tab and the caller ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// SetCookies injects cookies before navigation.
func (p *Page) SetCookies(ctx context.Context, cookies []harvest.Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// WaitVisible blocks until selector is rendered and visible.
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// Evaluate runs script and decodes the awaited result into out.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	awaitPromise := func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}
	if err := p.run(ctx, chromedp.Evaluate(script, out, awaitPromise)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Cookies returns the cookies visible to the current page.
func (p *Page) Cookies(ctx context.Context) ([]harvest.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return fromNetworkCookies(raw), nil
}

// UserAgent reports the browser's effective user agent.
func (p *Page) UserAgent(ctx context.Context) (string, error) {
	var ua string
	if err := p.run(ctx, chromedp.Evaluate("navigator.userAgent", &ua)); err != nil {
		return "", fmt.Errorf("read user agent: %w", err)
	}
	return ua, nil
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		defer metrics.DecBrowserSessions()
		defer p.release()
		defer p.cancel()

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()
		graceCtx, cancel := context.WithTimeout(ctx, closeGrace)
		defer cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				p.closeErr = fmt.Errorf("close browser: %w", err)
			}
		case <-graceCtx.Done():
			p.closeErr = fmt.Errorf("close browser: %w", graceCtx.Err())
		}
	})
	return p.closeErr
}

// blockPaused fails every paused request; only blocked resource types are paused.
func (p *Page) blockPaused(ev any) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}
	go func() {
		c := chromedp.FromContext(p.ctx)
		if c == nil || c.Target == nil {
			return
		}
		execCtx := cdp.WithExecutor(p.ctx, c.Target)
		_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	}()
}

func fromNetworkCookies(raw []*network.Cookie) []harvest.Cookie {
	out := make([]harvest.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		out = append(out, harvest.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return out
}
