// Package harvesttest provides scriptable fakes for the harvest capabilities.
package harvesttest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

// Page is a harvest.Page whose DOM switches from Before to After once any
// smooth scroll has run.
type Page struct {
	Before      string
	After       string
	CountBefore int
	CountAfter  int
	// Responses are delivered to every subscriber in order.
	Responses   []harvest.NetworkResponse
	PageCookies []harvest.Cookie
	Agent       string
	NavigateErr error
	// BlockWait makes WaitVisible block until its context ends.
	BlockWait   bool
	Shot        []byte

	mu            sync.Mutex
	scrolled      bool
	scripts       []string
	setCookies    []harvest.Cookie
	navigated     []string
	subscriptions int
	unsubscribes  int
	closed        bool
	onClose       func()
}

// SetCookies records the injected cookies.
func (p *Page) SetCookies(_ context.Context, cookies []harvest.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setCookies = append(p.setCookies, cookies...)
	return nil
}

// Navigate records the url.
func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return p.NavigateErr
}

// WaitVisible returns immediately unless BlockWait is set.
func (p *Page) WaitVisible(ctx context.Context, _ string) error {
	if !p.BlockWait {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Evaluate recognizes the engine's scroll and count scripts.
func (p *Page) Evaluate(_ context.Context, script string, out any) error {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	var result int
	switch {
	case strings.Contains(script, "scrollBy"):
		p.scrolled = true
		result = 3
	case strings.Contains(script, "querySelectorAll"):
		result = p.CountBefore
		if p.scrolled {
			result = p.CountAfter
		}
	case strings.Contains(script, "scrollTo"):
		result = 0
	default:
		p.mu.Unlock()
		return errors.New("unexpected script")
	}
	p.mu.Unlock()
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(strconv.Itoa(result)), out)
}

// HTML returns Before or After depending on whether the page was scrolled.
func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scrolled && p.After != "" {
		return p.After, nil
	}
	return p.Before, nil
}

// Cookies returns PageCookies, or the injected cookies when unset.
func (p *Page) Cookies(context.Context) ([]harvest.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PageCookies != nil {
		return append([]harvest.Cookie(nil), p.PageCookies...), nil
	}
	return append([]harvest.Cookie(nil), p.setCookies...), nil
}

// UserAgent returns Agent.
func (p *Page) UserAgent(context.Context) (string, error) {
	return p.Agent, nil
}

// Screenshot returns Shot.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	return p.Shot, nil
}

// Subscribe replays Responses on a buffered channel that closes once drained.
func (p *Page) Subscribe(context.Context) (<-chan harvest.NetworkResponse, func()) {
	p.mu.Lock()
	p.subscriptions++
	p.mu.Unlock()
	ch := make(chan harvest.NetworkResponse, len(p.Responses))
	for _, resp := range p.Responses {
		ch <- resp
	}
	close(ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			p.unsubscribes++
			p.mu.Unlock()
		})
	}
}

// Close marks the page closed.
func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	already := p.closed
	p.closed = true
	onClose := p.onClose
	p.mu.Unlock()
	if !already && onClose != nil {
		onClose()
	}
	return nil
}

// Scripts returns every evaluated script.
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// InjectedCookies returns the cookies passed to SetCookies.
func (p *Page) InjectedCookies() []harvest.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]harvest.Cookie(nil), p.setCookies...)
}

// Navigated returns the urls passed to Navigate.
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// Subscriptions returns how many times Subscribe and its cancel were called.
func (p *Page) Subscriptions() (subscribed, released int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriptions, p.unsubscribes
}

// Closed reports whether Close ran.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Driver hands out Pages built by NewPage and tracks open sessions.
type Driver struct {
	NewPage func() *Page
	OpenErr error

	mu     sync.Mutex
	active int
	opened int
	opts   []harvest.SessionOptions
	pages  []*Page
}

// Open returns a fresh Page.
func (d *Driver) Open(_ context.Context, opts harvest.SessionOptions) (harvest.Page, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	page := d.NewPage()
	page.onClose = func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}
	d.mu.Lock()
	d.active++
	d.opened++
	d.opts = append(d.opts, opts)
	d.pages = append(d.pages, page)
	d.mu.Unlock()
	return page, nil
}

// Active returns the number of sessions opened and not yet closed.
func (d *Driver) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Opened returns the number of sessions ever opened.
func (d *Driver) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Pages returns every page handed out.
func (d *Driver) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Page(nil), d.pages...)
}

// Options returns the options passed to each Open call.
func (d *Driver) Options() []harvest.SessionOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]harvest.SessionOptions(nil), d.opts...)
}

// Request is one recorded Fetcher call.
type Request struct {
	URL    string
	Header http.Header
}

// Fetcher serves canned responses keyed by URL. Unknown URLs get a 404.
type Fetcher struct {
	Responses map[string]harvest.FetchResponse
	Errors    map[string]error

	mu       sync.Mutex
	requests []Request
}

// Get returns the canned response for url.
func (f *Fetcher) Get(_ context.Context, url string, header http.Header) (harvest.FetchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, Request{URL: url, Header: header.Clone()})
	f.mu.Unlock()
	if err, ok := f.Errors[url]; ok {
		return harvest.FetchResponse{}, err
	}
	if resp, ok := f.Responses[url]; ok {
		return resp, nil
	}
	return harvest.FetchResponse{StatusCode: http.StatusNotFound}, nil
}

// Requests returns every recorded call.
func (f *Fetcher) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// AnswersJSON builds one page of the answers endpoint.
func AnswersJSON(isEnd bool, next string, answers ...Answer) []byte {
	type author struct {
		Name string `json:"name"`
	}
	type item struct {
		Author  author `json:"author"`
		Content string `json:"content"`
		Votes   int    `json:"voteup_count"`
	}
	payload := struct {
		Data   []item `json:"data"`
		Paging struct {
			IsEnd bool   `json:"is_end"`
			Next  string `json:"next"`
		} `json:"paging"`
	}{}
	for _, a := range answers {
		payload.Data = append(payload.Data, item{Author: author{Name: a.Author}, Content: a.Content, Votes: a.Votes})
	}
	payload.Paging.IsEnd = isEnd
	payload.Paging.Next = next
	data, _ := json.Marshal(payload)
	return data
}

// Answer is one entry passed to AnswersJSON.
type Answer struct {
	Author  string
	Content string
	Votes   int
}
