package harvest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const acceptJSON = "application/json, text/plain, */*"

// PaginationConfig bounds the API-pagination strategy.
type PaginationConfig struct {
	MaxPages int           `mapstructure:"max_pages"`
	DelayMin time.Duration `mapstructure:"delay_min"`
	DelayMax time.Duration `mapstructure:"delay_max"`
	// RatePerSecond caps per-host request rate on top of the jittered delay
	// when the orchestrator builds the default Pacer; zero disables it.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// DefaultPaginationConfig returns the tuned production defaults.
func DefaultPaginationConfig() PaginationConfig {
	return PaginationConfig{
		MaxPages:      200,
		DelayMin:      500 * time.Millisecond,
		DelayMax:      1500 * time.Millisecond,
		RatePerSecond: 2,
	}
}

// PaginationInput describes one replay of the discovered endpoint.
type PaginationInput struct {
	Endpoint  string
	Cookie    string
	UserAgent string
	// Seed holds records already extracted from the DOM. They lead the
	// output and are never repeated by API pages.
	Seed []Record
}

// PaginationOutcome is what an API harvest produced. A fetch failure stops
// pagination but keeps everything collected so far.
type PaginationOutcome struct {
	Records  []Record
	Pages    int
	Skipped  int
	Partial  bool
	Warnings []string
}

// PageFunc observes each fetched page.
type PageFunc func(page, added, total int)

// Paginator replays the paginated answers endpoint directly.
type Paginator struct {
	cfg      PaginationConfig
	fetcher  Fetcher
	renderer TextRenderer
	hasher   Hasher
	pacer    Pacer
}

// NewPaginator builds a Paginator. hasher may be nil.
func NewPaginator(cfg PaginationConfig, fetcher Fetcher, renderer TextRenderer, hasher Hasher) *Paginator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultPaginationConfig().MaxPages
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Paginator{
		cfg:      cfg,
		fetcher:  fetcher,
		renderer: renderer,
		hasher:   hasher,
	}
}

// WithPacer sets the limiter consulted before every fetch.
func (p *Paginator) WithPacer(pacer Pacer) *Paginator {
	p.pacer = pacer
	return p
}

type answerPage struct {
	Data []struct {
		Author struct {
			Name string `json:"name"`
		} `json:"author"`
		Content     string `json:"content"`
		VoteupCount int    `json:"voteup_count"`
	} `json:"data"`
	Paging struct {
		IsEnd bool   `json:"is_end"`
		Next  string `json:"next"`
	} `json:"paging"`
}

// Harvest follows the cursor from in.Endpoint until the endpoint reports the
// end, a fetch fails, or the page budget is spent. Only context cancellation
// and pacer failures are returned as errors.
func (p *Paginator) Harvest(ctx context.Context, in PaginationInput, onPage PageFunc) (PaginationOutcome, error) {
	out := PaginationOutcome{Records: make([]Record, 0, len(in.Seed))}
	// Each seeded record absorbs at most one API copy. API records are never
	// matched against each other.
	seeded := make(map[string]int, len(in.Seed))
	for _, rec := range in.Seed {
		seeded[p.fingerprint(rec)]++
		out.Records = append(out.Records, rec)
	}

	header := http.Header{}
	header.Set("Accept", acceptJSON)
	if in.Cookie != "" {
		header.Set("Cookie", in.Cookie)
	}
	if in.UserAgent != "" {
		header.Set("User-Agent", in.UserAgent)
	}

	cursor := Cursor{Next: in.Endpoint}
	for !cursor.Done() {
		if out.Pages >= p.cfg.MaxPages {
			out.Partial = true
			out.Warnings = append(out.Warnings, fmt.Sprintf("page limit %d reached before the last page", p.cfg.MaxPages))
			break
		}
		if err := p.wait(ctx, cursor.Next, out.Pages); err != nil {
			return out, err
		}
		page, err := p.fetch(ctx, cursor.Next, header)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, fmt.Errorf("pagination canceled: %w", ctxErr)
			}
			out.Partial = true
			out.Warnings = append(out.Warnings, err.Error())
			break
		}
		out.Pages++
		added := 0
		for _, item := range page.Data {
			rec := p.toRecord(item.Author.Name, item.Content, item.VoteupCount)
			key := p.fingerprint(rec)
			if seeded[key] > 0 {
				seeded[key]--
				out.Skipped++
				continue
			}
			out.Records = append(out.Records, rec)
			added++
		}
		if onPage != nil {
			onPage(out.Pages, added, len(out.Records))
		}
		cursor = Cursor{Next: page.Paging.Next, IsEnd: page.Paging.IsEnd}
	}
	return out, nil
}

func (p *Paginator) fetch(ctx context.Context, url string, header http.Header) (answerPage, error) {
	resp, err := p.fetcher.Get(ctx, url, header)
	if err != nil {
		return answerPage{}, &PaginationFetchError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return answerPage{}, &PaginationFetchError{URL: url, StatusCode: resp.StatusCode}
	}
	var page answerPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return answerPage{}, &PaginationFetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode page: %w", err),
		}
	}
	return page, nil
}

func (p *Paginator) wait(ctx context.Context, url string, fetched int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pagination canceled: %w", err)
	}
	if fetched > 0 {
		if err := sleep(ctx, p.jitter()); err != nil {
			return err
		}
	}
	if p.pacer != nil {
		if err := p.pacer.Wait(ctx, url); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("pagination canceled: %w", ctx.Err())
			}
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return nil
}

func (p *Paginator) jitter() time.Duration {
	span := p.cfg.DelayMax - p.cfg.DelayMin
	if span <= 0 {
		return p.cfg.DelayMin
	}
	return p.cfg.DelayMin + time.Duration(rand.Int64N(int64(span)+1))
}

func (p *Paginator) toRecord(author, content string, votes int) Record {
	if votes < 0 {
		votes = 0
	}
	rec := Record{
		Author:     collapse(author),
		IPLocation: DefaultIPLocation,
		VoteRaw:    strconv.Itoa(votes),
		VoteCount:  votes,
	}
	if rec.Author == "" {
		rec.Author = DefaultAuthor
	}
	if p.renderer != nil {
		rec.Content = p.renderer.Text(content)
	} else {
		rec.Content = content
	}
	if rec.Content == "" {
		rec.Content = DefaultContent
	}
	return rec
}

// fingerprint identifies a record by author and whitespace-collapsed content.
func (p *Paginator) fingerprint(rec Record) string {
	data := []byte(rec.Author + "\x00" + collapse(rec.Content))
	if p.hasher != nil {
		if sum, err := p.hasher.Hash(data); err == nil {
			return sum
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
