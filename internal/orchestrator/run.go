package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discussion-harvester/internal/export"
	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/metrics"
)

// run holds the state of one Harvest call.
type run struct {
	o         *Orchestrator
	id        string
	sourceURL string
	phase     harvest.Status
	tracked   bool
	start     time.Time
	log       []string
	warnings  []string
	logger    *zap.Logger

	closeOnce sync.Once
	page      harvest.Page
}

func (r *run) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.log = append(r.log, line)
	r.logger.Info(line, zap.String("phase", string(r.phase)))
}

func (r *run) warn(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, line)
	r.log = append(r.log, "warning: "+line)
	r.logger.Warn(line, zap.String("phase", string(r.phase)))
}

func (r *run) advance(status harvest.Status, progress int, format string, args ...any) {
	r.phase = status
	msg := fmt.Sprintf(format, args...)
	r.logf("%s", msg)
	r.report(progress, msg)
}

func (r *run) report(progress int, msg string) {
	if !r.tracked {
		return
	}
	if err := r.o.deps.Tracker.Update(r.id, r.phase, progress, msg); err != nil {
		r.logger.Warn("progress update failed", zap.Error(err))
	}
}

// reject fails a request before any browser work starts.
func (r *run) reject(err error) error {
	r.logf("rejected: %v", err)
	return &harvest.HarvestError{
		Kind:      harvest.KindClientInput,
		Phase:     r.phase,
		SessionID: r.id,
		Log:       append([]string(nil), r.log...),
		Err:       err,
	}
}

func (r *run) fail(err error) error {
	r.closePage()
	kind := kindOf(err)
	phase := r.phase
	r.phase = harvest.StatusFailed
	r.logf("harvest failed during %s: %v", phase, err)
	r.report(0, err.Error())
	metrics.ObserveHarvest(r.sourceURL, "", "failure", 0, time.Since(r.start))
	return &harvest.HarvestError{
		Kind:      kind,
		Phase:     phase,
		SessionID: r.id,
		Log:       append([]string(nil), r.log...),
		Err:       err,
	}
}

// closePage releases the browser session exactly once using a fresh context
// so a canceled request still shuts the browser down.
func (r *run) closePage() {
	r.closeOnce.Do(func() {
		if r.page == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.o.cfg.CloseTimeout)
		defer cancel()
		if err := r.page.Close(ctx); err != nil {
			r.logger.Warn("browser close failed", zap.Error(err))
		}
		r.logf("browser session released")
	})
}

func (r *run) execute(ctx context.Context, cookies []harvest.Cookie, minVotes *int) (harvest.Result, error) {
	o := r.o
	r.advance(harvest.StatusPreparing, 5, "opening browser session")
	page, err := o.deps.Driver.Open(ctx, o.sessionOptions())
	if err != nil {
		return harvest.Result{}, classify(harvest.KindDriver, fmt.Errorf("open browser: %w", err))
	}
	r.page = page
	defer r.closePage()

	if err := r.load(ctx, cookies); err != nil {
		return harvest.Result{}, err
	}

	r.advance(harvest.StatusProbing, 20, "probing for the answers endpoint")
	endpoint, found, err := o.discovery.Discover(ctx, page)
	if err != nil {
		return harvest.Result{}, classify(harvest.KindDriver, fmt.Errorf("discover api: %w", err))
	}
	metrics.ObserveDiscovery(found)

	result := harvest.Result{SessionID: r.id}
	var snap harvest.Snapshot
	if found {
		r.logf("endpoint discovered: %s", endpoint)
		snap, err = r.harvestAPI(ctx, endpoint, &result)
	} else {
		r.logf("no endpoint discovered, falling back to scrolling")
		snap, err = r.harvestScroll(ctx, &result)
	}
	if err != nil {
		return harvest.Result{}, classify(harvest.KindDriver, err)
	}
	result.Title = snap.Title
	result.Description = snap.Description

	if minVotes != nil {
		kept := result.Records[:0]
		for _, rec := range result.Records {
			if rec.VoteCount >= *minVotes {
				kept = append(kept, rec)
			}
		}
		r.logf("min votes %d kept %d of %d records", *minVotes, len(kept), len(result.Records))
		result.Records = kept
	}
	if len(result.Records) == 0 && o.cfg.DebugScreenshots {
		r.captureScreenshot(ctx)
	}
	r.closePage()

	r.advance(harvest.StatusExporting, 90, "exporting %d records", len(result.Records))
	if err := r.export(ctx, &result); err != nil {
		return harvest.Result{}, err
	}

	r.advance(harvest.StatusDone, 100, "done: %d records via %s", len(result.Records), result.StrategyUsed)
	result.Warnings = append([]string(nil), r.warnings...)
	result.Log = append([]string(nil), r.log...)
	return result, nil
}

func (r *run) load(ctx context.Context, cookies []harvest.Cookie) error {
	o := r.o
	if err := r.page.SetCookies(ctx, cookies); err != nil {
		return classify(harvest.KindDriver, fmt.Errorf("set cookies: %w", err))
	}
	r.logf("injected %d cookies", len(cookies))

	navCtx, cancel := context.WithTimeout(ctx, o.cfg.NavigationTimeout)
	err := r.page.Navigate(navCtx, r.sourceURL)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return classify(harvest.KindNavigationTimeout, fmt.Errorf("navigate: %w", err))
		}
		return classify(harvest.KindDriver, fmt.Errorf("navigate: %w", err))
	}
	r.report(10, "page loaded")

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.LandmarkTimeout)
	err = r.page.WaitVisible(waitCtx, o.cfg.Landmark)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return classify(harvest.KindNavigationTimeout, &harvest.NavigationTimeoutError{
				Selector: o.cfg.Landmark,
				Elapsed:  time.Since(start),
				Err:      err,
			})
		}
		return classify(harvest.KindDriver, fmt.Errorf("wait for landmark: %w", err))
	}
	r.logf("landmark %s visible", o.cfg.Landmark)
	return nil
}

func (r *run) harvestAPI(ctx context.Context, endpoint string, result *harvest.Result) (harvest.Snapshot, error) {
	o := r.o
	r.advance(harvest.StatusHarvesting, 30, "seeding from the rendered page")
	seed, err := o.scroll.Snapshot(ctx, r.page)
	if err != nil {
		return harvest.Snapshot{}, fmt.Errorf("seed snapshot: %w", err)
	}
	r.logf("seeded %d records from the page", len(seed.Records))

	cookies, err := r.page.Cookies(ctx)
	if err != nil {
		return harvest.Snapshot{}, fmt.Errorf("read cookies: %w", err)
	}
	agent := o.cfg.UserAgent
	if agent == "" {
		if agent, err = r.page.UserAgent(ctx); err != nil {
			return harvest.Snapshot{}, fmt.Errorf("read user agent: %w", err)
		}
	}

	out, err := o.paginator.Harvest(ctx, harvest.PaginationInput{
		Endpoint:  endpoint,
		Cookie:    harvest.CookieHeader(cookies),
		UserAgent: agent,
		Seed:      seed.Records,
	}, func(page, added, total int) {
		r.logf("page %d: %d new records, %d total", page, added, total)
		r.report(30+min(page, 55), fmt.Sprintf("fetched page %d", page))
	})
	if err != nil {
		return harvest.Snapshot{}, fmt.Errorf("paginate: %w", err)
	}
	metrics.ObservePaginationPages(out.Pages, out.Partial)
	for _, w := range out.Warnings {
		r.warn("pagination stopped early: %s", w)
	}
	if out.Skipped > 0 {
		r.logf("skipped %d records already seeded", out.Skipped)
	}
	result.StrategyUsed = harvest.StrategyAPI
	result.Records = out.Records
	result.PagesFetched = out.Pages
	result.Partial = out.Partial
	return seed, nil
}

func (r *run) harvestScroll(ctx context.Context, result *harvest.Result) (harvest.Snapshot, error) {
	r.advance(harvest.StatusHarvesting, 30, "scrolling to load answers")
	out, err := r.o.scroll.Harvest(ctx, r.page, func(round, before, after int) {
		r.logf("scroll round %d: %d -> %d items", round, before, after)
		r.report(30+min(round*3, 55), fmt.Sprintf("scroll round %d", round))
	})
	if err != nil {
		return harvest.Snapshot{}, fmt.Errorf("scroll: %w", err)
	}
	metrics.ObserveScrollRounds(out.Rounds)
	result.StrategyUsed = harvest.StrategyScroll
	result.Records = out.Snapshot.Records
	result.ScrollAttempts = out.Rounds
	return out.Snapshot, nil
}

func (r *run) captureScreenshot(ctx context.Context) {
	shot, err := r.page.Screenshot(ctx)
	if err != nil || len(shot) == 0 {
		r.warn("debug screenshot unavailable: %v", err)
		return
	}
	name := fmt.Sprintf("debug_%s_%d.png", r.id, r.o.deps.Clock.Now().UnixNano())
	uri, err := r.o.deps.Store.PutObject(ctx, name, "image/png", bytesReader(shot))
	if err != nil {
		r.warn("store debug screenshot: %v", err)
		return
	}
	r.logf("no records found, debug screenshot saved to %s", uri)
}

func (r *run) export(ctx context.Context, result *harvest.Result) error {
	o := r.o
	data := export.Export(result.Title, result.Records)
	now := o.deps.Clock.Now()
	name := export.FileName(o.cfg.ExportPrefix, result.Title, now)
	uri, err := o.deps.Store.PutObject(ctx, name, export.ContentType, bytesReader(data))
	if err != nil {
		return classify(harvest.KindExport, fmt.Errorf("write export %s: %w", name, err))
	}
	r.logf("export written to %s", uri)
	result.FileName = name
	result.DownloadRef = o.cfg.DownloadPath + url.PathEscape(name)

	entry := harvest.ExportEntry{
		SessionID:   r.id,
		SourceURL:   r.sourceURL,
		Title:       result.Title,
		Strategy:    result.StrategyUsed,
		RecordCount: len(result.Records),
		Partial:     result.Partial,
		FileName:    name,
		URI:         uri,
		CreatedAt:   now,
	}
	if o.deps.Hasher != nil {
		if sum, err := o.deps.Hasher.Hash(data); err == nil {
			entry.ContentHash = sum
		}
	}
	if o.deps.Mirror != nil {
		mirrorURI, err := o.deps.Mirror.PutObject(ctx, joinPath(o.cfg.MirrorPrefix, name), export.ContentType, bytesReader(data))
		if err != nil {
			metrics.ObserveSideEffectFailure("mirror")
			r.warn("mirror export: %v", err)
		} else {
			entry.MirrorURI = mirrorURI
			r.logf("export mirrored to %s", mirrorURI)
		}
	}
	if o.deps.Ledger != nil {
		if err := o.deps.Ledger.RecordExport(ctx, entry); err != nil {
			metrics.ObserveSideEffectFailure("ledger")
			r.warn("record export: %v", err)
		}
	}
	if o.deps.Publisher != nil {
		if id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, entry); err != nil {
			metrics.ObserveSideEffectFailure("publisher")
			r.warn("publish completion: %v", err)
		} else {
			r.logf("completion published as %s", id)
		}
	}
	return nil
}
