// Package chromedpdriver drives headless Chrome sessions through chromedp.
package chromedpdriver

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/metrics"
)

// Config controls the browser process and session concurrency.
type Config struct {
	ExecPath    string `mapstructure:"exec_path"`
	Headless    bool   `mapstructure:"headless"`
	NoSandbox   bool   `mapstructure:"no_sandbox"`
	MaxSessions int    `mapstructure:"max_sessions"`
}

// Driver opens one isolated browser per session.
type Driver struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Driver backed by an exec allocator.
func New(cfg Config) (*Driver, error) {
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("max sessions must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxSessions > 0 {
		limiter = make(chan struct{}, cfg.MaxSessions)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Driver{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the allocator and any browsers it still owns.
func (d *Driver) Close() {
	d.allocCancel()
}

// Open starts a browser, applies session options and returns its only tab.
func (d *Driver) Open(ctx context.Context, opts harvest.SessionOptions) (harvest.Page, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(d.allocator)
	cancel := tabCancel
	if opts.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		tabCtx, timeoutCancel = context.WithTimeout(tabCtx, opts.Timeout)
		cancel = func() {
			timeoutCancel()
			tabCancel()
		}
	}

	page := &Page{ctx: tabCtx, cancel: cancel, release: d.release}
	if len(opts.BlockResources) > 0 {
		chromedp.ListenTarget(tabCtx, page.blockPaused)
	}
	// The first Run allocates the browser and must use the tab context itself.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err == nil {
		err = page.run(ctx, setupAction(opts))
	}
	if err != nil {
		cancel()
		d.release()
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	metrics.IncBrowserSessions()
	return page, nil
}

func setupAction(opts harvest.SessionOptions) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if opts.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(opts.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
			err := emulation.SetDeviceMetricsOverride(int64(opts.ViewportWidth), int64(opts.ViewportHeight), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if patterns := blockPatterns(opts.BlockResources); len(patterns) > 0 {
			if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
				return fmt.Errorf("enable request blocking: %w", err)
			}
		}
		return nil
	})
}

// blockPatterns pauses every request of the given types so it can be failed.
func blockPatterns(types []harvest.ResourceType) []*fetch.RequestPattern {
	seen := make(map[harvest.ResourceType]struct{}, len(types))
	patterns := make([]*fetch.RequestPattern, 0, len(types))
	for _, t := range types {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: network.ResourceType(t),
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

func (d *Driver) acquire(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	select {
	case d.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (d *Driver) release() {
	if d.limiter == nil {
		return
	}
	select {
	case <-d.limiter:
	default:
	}
}

const closeGrace = 5 * time.Second
