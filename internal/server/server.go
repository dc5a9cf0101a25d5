// Package server builds the harvester's dependency graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/discussion-harvester/internal/api"
	chromedpdriver "github.com/JakeFAU/discussion-harvester/internal/browser/chromedp"
	"github.com/JakeFAU/discussion-harvester/internal/clock/system"
	"github.com/JakeFAU/discussion-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/discussion-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/hash/sha256"
	"github.com/JakeFAU/discussion-harvester/internal/id/uuid"
	"github.com/JakeFAU/discussion-harvester/internal/markup"
	"github.com/JakeFAU/discussion-harvester/internal/metrics"
	"github.com/JakeFAU/discussion-harvester/internal/orchestrator"
	gcppublisher "github.com/JakeFAU/discussion-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/discussion-harvester/internal/session"
	gcsstorage "github.com/JakeFAU/discussion-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/discussion-harvester/internal/storage/local"
	pgstore "github.com/JakeFAU/discussion-harvester/internal/storage/postgres"
	"github.com/JakeFAU/discussion-harvester/internal/verify"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Orchestrator *orchestrator.Orchestrator
	Tracker      *session.Tracker
	Downloads    *localstorage.BlobStore
	Verifier     *verify.Verifier

	driver       *chromedpdriver.Driver
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	ledger       *pgstore.Ledger
}

// Build creates the application's dependencies. Optional backends are
// enabled only when their configuration is present.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("export_dir", cfg.Export.Dir),
		zap.Int("max_sessions", cfg.Browser.MaxSessions),
	)

	var err error
	app.Downloads, err = localstorage.New(localstorage.Config{BaseDir: cfg.Export.Dir})
	if err != nil {
		return nil, fmt.Errorf("local export store init failed: %w", err)
	}

	app.driver, err = chromedpdriver.New(chromedpdriver.Config{
		ExecPath:    cfg.Browser.ExecPath,
		Headless:    cfg.Browser.Headless,
		NoSandbox:   cfg.Browser.NoSandbox,
		MaxSessions: cfg.Browser.MaxSessions,
	})
	if err != nil {
		return nil, fmt.Errorf("browser driver init failed: %w", err)
	}

	deps := orchestrator.Deps{
		Driver:   app.driver,
		Fetcher:  collyfetcher.New(collyfetcher.Config{Timeout: cfg.Harvest.FetchTimeout}),
		Renderer: markup.New(),
		Store:    app.Downloads,
		Hasher:   sha256.New(),
		Clock:    system.New(),
		IDs:      uuid.NewUUIDGenerator(),
	}
	app.Tracker = session.NewTracker()
	deps.Tracker = app.Tracker

	if deps.Mirror, err = app.setupMirror(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = app.setupLedger(ctx, &deps); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = app.setupPublisher(ctx, &deps); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.Orchestrator, err = orchestrator.New(cfg.Orchestrator(), deps, logger)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	app.Verifier = verify.New(verify.Config{
		Endpoint:     cfg.Verify.Endpoint,
		UserAgent:    cfg.Browser.UserAgent,
		Timeout:      cfg.Verify.Timeout,
		CookieDomain: cfg.Harvest.CookieDomain,
	})
	return app, nil
}

func (a *App) setupMirror(ctx context.Context) (harvest.BlobStore, error) {
	if a.cfg.Storage.GCSBucket == "" {
		a.logger.Info("no GCS bucket configured, exports stay local")
		return nil, nil
	}
	var err error
	a.gcsClient, err = storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	mirror, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
	if err != nil {
		return nil, fmt.Errorf("gcs blob store init failed: %w", err)
	}
	a.logger.Info("GCS mirror enabled", zap.String("bucket", a.cfg.Storage.GCSBucket))
	return mirror, nil
}

func (a *App) setupLedger(ctx context.Context, deps *orchestrator.Deps) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, skipping export ledger")
		return nil
	}
	ledger, err := pgstore.NewLedger(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("export ledger init failed: %w", err)
	}
	if err := ledger.EnsureSchema(ctx); err != nil {
		ledger.Close()
		return fmt.Errorf("export ledger schema failed: %w", err)
	}
	a.ledger = ledger
	deps.Ledger = ledger
	a.logger.Info("export ledger initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context, deps *orchestrator.Deps) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, completion events disabled")
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient)
	deps.Publisher = a.publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Handler builds the HTTP surface over the app's components.
func (a *App) Handler() http.Handler {
	return api.NewServer(api.Deps{
		Harvester: a.Orchestrator,
		Progress:  a.Tracker,
		Downloads: a.Downloads,
		Verifier:  a.Verifier,
		Ready:     a.ready,
	}, api.Options{APIKey: a.cfg.Server.APIKey}, a.logger).Handler()
}

func (a *App) ready(context.Context) error {
	if a.Downloads == nil {
		return errors.New("export store not initialized")
	}
	return nil
}

// Run serves HTTP until ctx is canceled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go a.Tracker.Run(ctx, a.cfg.Server.SweepInterval, a.cfg.Server.SessionRetention, func(removed int) {
		metrics.ObserveSessionsSwept(removed)
		a.logger.Debug("swept finished sessions", zap.Int("removed", removed))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every backend the app opened. It is safe to call on a partially built App.
func (a *App) Close(_ context.Context) {
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.driver != nil {
		a.driver.Close()
	}
	a.logger.Info("shutdown complete")
}
