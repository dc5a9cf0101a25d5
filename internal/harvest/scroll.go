package harvest

import (
	"context"
	"fmt"
	"time"
)

// ScrollConfig tunes the scroll-and-scrape strategy.
type ScrollConfig struct {
	MaxRounds         int           `mapstructure:"max_rounds"`
	NoGrowthThreshold int           `mapstructure:"no_growth_threshold"`
	Settle            time.Duration `mapstructure:"settle"`
	PassSettle        time.Duration `mapstructure:"pass_settle"`
	StepMin           int           `mapstructure:"step_min"`
	StepMax           int           `mapstructure:"step_max"`
	IntervalMin       time.Duration `mapstructure:"interval_min"`
	IntervalMax       time.Duration `mapstructure:"interval_max"`
	MaxSteps          int           `mapstructure:"max_steps"`
}

// DefaultScrollConfig returns the tuned production defaults.
func DefaultScrollConfig() ScrollConfig {
	return ScrollConfig{
		MaxRounds:         15,
		NoGrowthThreshold: 3,
		Settle:            3 * time.Second,
		PassSettle:        1500 * time.Millisecond,
		StepMin:           100,
		StepMax:           200,
		IntervalMin:       100 * time.Millisecond,
		IntervalMax:       150 * time.Millisecond,
		MaxSteps:          400,
	}
}

func (c ScrollConfig) withDefaults() ScrollConfig {
	def := DefaultScrollConfig()
	if c.MaxRounds <= 0 {
		c.MaxRounds = def.MaxRounds
	}
	if c.NoGrowthThreshold <= 0 {
		c.NoGrowthThreshold = def.NoGrowthThreshold
	}
	if c.StepMin <= 0 {
		c.StepMin = def.StepMin
	}
	if c.StepMax < c.StepMin {
		c.StepMax = c.StepMin
	}
	if c.IntervalMin <= 0 {
		c.IntervalMin = def.IntervalMin
	}
	if c.IntervalMax < c.IntervalMin {
		c.IntervalMax = c.IntervalMin
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.PassSettle < 0 {
		c.PassSettle = 0
	}
	return c
}

// RoundFunc observes each completed scroll round.
type RoundFunc func(round, before, after int)

// ScrollHarvester loads lazily rendered answers by scrolling, then extracts
// them from a DOM snapshot.
type ScrollHarvester struct {
	cfg       ScrollConfig
	extractor *Extractor
}

// NewScrollHarvester builds a ScrollHarvester.
func NewScrollHarvester(cfg ScrollConfig, extractor *Extractor) *ScrollHarvester {
	return &ScrollHarvester{cfg: cfg.withDefaults(), extractor: extractor}
}

// ScrollOutcome is what a scroll harvest produced.
type ScrollOutcome struct {
	Snapshot Snapshot
	Rounds   int
}

// Harvest scrolls until the answer count stops growing or the round budget is
// spent, makes one top-bottom-top pass, and extracts every item.
func (h *ScrollHarvester) Harvest(ctx context.Context, page Page, onRound RoundFunc) (ScrollOutcome, error) {
	countJS := countScript(ItemSelectors)
	count, err := evalInt(ctx, page, countJS)
	if err != nil {
		return ScrollOutcome{}, fmt.Errorf("count items: %w", err)
	}

	rounds, noGrowth := 0, 0
	for rounds < h.cfg.MaxRounds && noGrowth < h.cfg.NoGrowthThreshold {
		before := count
		if _, err := evalInt(ctx, page, smoothScrollScript(h.cfg)); err != nil {
			return ScrollOutcome{}, fmt.Errorf("smooth scroll round %d: %w", rounds+1, err)
		}
		if err := sleep(ctx, h.cfg.Settle); err != nil {
			return ScrollOutcome{}, err
		}
		count, err = evalInt(ctx, page, countJS)
		if err != nil {
			return ScrollOutcome{}, fmt.Errorf("count items: %w", err)
		}
		if count <= before {
			noGrowth++
		} else {
			noGrowth = 0
		}
		rounds++
		if onRound != nil {
			onRound(rounds, before, count)
		}
	}

	if err := h.finalPass(ctx, page); err != nil {
		return ScrollOutcome{}, err
	}
	snap, err := h.Snapshot(ctx, page)
	if err != nil {
		return ScrollOutcome{}, err
	}
	return ScrollOutcome{Snapshot: snap, Rounds: rounds}, nil
}

// Snapshot extracts the current DOM without scrolling.
func (h *ScrollHarvester) Snapshot(ctx context.Context, page Page) (Snapshot, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read dom: %w", err)
	}
	return h.extractor.Extract(html)
}

func (h *ScrollHarvester) finalPass(ctx context.Context, page Page) error {
	for _, script := range []string{scrollToTopScript, scrollToBottomScript, scrollToTopScript} {
		if _, err := evalInt(ctx, page, script); err != nil {
			return fmt.Errorf("final pass: %w", err)
		}
		if err := sleep(ctx, h.cfg.PassSettle); err != nil {
			return err
		}
	}
	return nil
}

// ScrollToBottom forces one jump to the end of the document.
func ScrollToBottom(ctx context.Context, page Page) error {
	if _, err := evalInt(ctx, page, scrollToBottomScript); err != nil {
		return fmt.Errorf("scroll to bottom: %w", err)
	}
	return nil
}

func evalInt(ctx context.Context, page Page, script string) (int, error) {
	var n float64
	if err := page.Evaluate(ctx, script, &n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
