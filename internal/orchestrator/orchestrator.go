// Package orchestrator runs one harvest end to end: it opens a browser
// session, looks for the paginated endpoint, runs the chosen strategy,
// exports the records and reports progress at every phase transition.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/logging"
	"github.com/JakeFAU/discussion-harvester/internal/metrics"
	"github.com/JakeFAU/discussion-harvester/internal/policy/ratelimit"
)

// Config tunes the orchestrator.
type Config struct {
	NavigationTimeout time.Duration
	LandmarkTimeout   time.Duration
	RequestTimeout    time.Duration
	CloseTimeout      time.Duration
	Landmark          string
	CookieDomain      string
	UserAgent         string
	BlockResources    []harvest.ResourceType
	ViewportWidth     int
	ViewportHeight    int
	ExportPrefix      string
	DownloadPath      string
	MirrorPrefix      string
	Topic             string
	DebugScreenshots  bool
	Discovery         harvest.DiscoveryConfig
	Scroll            harvest.ScrollConfig
	Pagination        harvest.PaginationConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 90 * time.Second,
		LandmarkTimeout:   30 * time.Second,
		RequestTimeout:    20 * time.Minute,
		CloseTimeout:      10 * time.Second,
		Landmark:          harvest.TitleSelector,
		CookieDomain:      ".zhihu.com",
		BlockResources: []harvest.ResourceType{
			harvest.ResourceImage,
			harvest.ResourceStylesheet,
			harvest.ResourceFont,
			harvest.ResourceMedia,
		},
		ViewportWidth:    1366,
		ViewportHeight:   900,
		ExportPrefix:     "zhihu_question",
		DownloadPath:     "/api/download/",
		MirrorPrefix:     "exports",
		DebugScreenshots: true,
		Discovery:        harvest.DefaultDiscoveryConfig(),
		Scroll:           harvest.DefaultScrollConfig(),
		Pagination:       harvest.DefaultPaginationConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = def.NavigationTimeout
	}
	if c.LandmarkTimeout <= 0 {
		c.LandmarkTimeout = def.LandmarkTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.Landmark == "" {
		c.Landmark = def.Landmark
	}
	if c.CookieDomain == "" {
		c.CookieDomain = def.CookieDomain
	}
	if c.ExportPrefix == "" {
		c.ExportPrefix = def.ExportPrefix
	}
	if c.DownloadPath == "" {
		c.DownloadPath = def.DownloadPath
	}
	return c
}

// Deps are the capabilities the orchestrator drives. Mirror, Ledger and
// Publisher are optional.
type Deps struct {
	Driver    harvest.Driver
	Fetcher   harvest.Fetcher
	Pacer     harvest.Pacer
	Renderer  harvest.TextRenderer
	Tracker   harvest.Tracker
	Store     harvest.BlobStore
	Mirror    harvest.BlobStore
	Ledger    harvest.Ledger
	Publisher harvest.Publisher
	Hasher    harvest.Hasher
	Clock     harvest.Clock
	IDs       harvest.IDGenerator
}

// Request is one harvest submission.
type Request struct {
	URL       string
	Cookie    string
	SessionID string
	MinVotes  *int
}

// Orchestrator is safe for concurrent use; each Harvest call owns its own
// browser session.
type Orchestrator struct {
	cfg       Config
	deps      Deps
	discovery *harvest.Discovery
	scroll    *harvest.ScrollHarvester
	paginator *harvest.Paginator
	logger    *zap.Logger
}

// New wires an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Driver == nil:
		return nil, errors.New("browser driver is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Tracker == nil:
		return nil, errors.New("session tracker is required")
	case deps.Store == nil:
		return nil, errors.New("export store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	pacer := deps.Pacer
	if pacer == nil && cfg.Pagination.RatePerSecond > 0 {
		pacer = ratelimit.New(ratelimit.Config{RatePerSecond: cfg.Pagination.RatePerSecond})
	}
	extractor := harvest.NewExtractor(deps.Renderer)
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		discovery: harvest.NewDiscovery(cfg.Discovery),
		scroll:    harvest.NewScrollHarvester(cfg.Scroll, extractor),
		paginator: harvest.NewPaginator(cfg.Pagination, deps.Fetcher, deps.Renderer, deps.Hasher).WithPacer(pacer),
		logger:    logger.Named("orchestrator"),
	}, nil
}

// Harvest runs the full pipeline for req. Every failure is a *harvest.HarvestError
// carrying the phase reached and the progress log.
func (o *Orchestrator) Harvest(ctx context.Context, req Request) (harvest.Result, error) {
	r := &run{o: o, phase: harvest.StatusPreparing, start: time.Now(), sourceURL: strings.TrimSpace(req.URL)}
	r.logger = o.logger.With(zap.String("url", r.sourceURL))

	cookies, err := o.validate(r.sourceURL, req.Cookie)
	if err != nil {
		return harvest.Result{}, r.reject(err)
	}
	r.id = strings.TrimSpace(req.SessionID)
	if r.id == "" {
		if r.id, err = o.deps.IDs.NewID(); err != nil {
			return harvest.Result{}, r.fail(classify(harvest.KindDriver, fmt.Errorf("generate session id: %w", err)))
		}
	}
	r.logger = logging.Session(o.logger, r.id, r.sourceURL)
	if err := o.deps.Tracker.Create(r.id); err != nil {
		return harvest.Result{}, r.reject(fmt.Errorf("create session %s: %w", r.id, err))
	}
	r.tracked = true

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	result, err := r.execute(ctx, cookies, req.MinVotes)
	if err != nil {
		return harvest.Result{}, r.fail(err)
	}
	metrics.ObserveHarvest(r.sourceURL, string(result.StrategyUsed), "success", len(result.Records), time.Since(r.start))
	return result, nil
}

func (o *Orchestrator) validate(rawURL, credential string) ([]harvest.Cookie, error) {
	if rawURL == "" {
		return nil, harvest.ErrMissingURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, harvest.ErrInvalidURL
	}
	cookies, err := harvest.ParseCredential(credential, o.cfg.CookieDomain)
	if err != nil {
		return nil, fmt.Errorf("parse cookie: %w", err)
	}
	return cookies, nil
}

func (o *Orchestrator) sessionOptions() harvest.SessionOptions {
	return harvest.SessionOptions{
		UserAgent:      o.cfg.UserAgent,
		BlockResources: append([]harvest.ResourceType(nil), o.cfg.BlockResources...),
		ViewportWidth:  o.cfg.ViewportWidth,
		ViewportHeight: o.cfg.ViewportHeight,
		Timeout:        o.cfg.RequestTimeout,
	}
}

// classified pairs an error with the kind it should surface as.
type classified struct {
	kind harvest.ErrorKind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

func classify(kind harvest.ErrorKind, err error) error {
	return &classified{kind: kind, err: err}
}

func kindOf(err error) harvest.ErrorKind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return harvest.KindDriver
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return path.Join(base, name)
}

func bytesReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
