package harvest_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/harvest/harvesttest"
	"github.com/JakeFAU/discussion-harvester/internal/markup"
)

const (
	page1 = "https://www.zhihu.com/api/v4/questions/1/answers?offset=0"
	page2 = "https://www.zhihu.com/api/v4/questions/1/answers?offset=5"
	page3 = "https://www.zhihu.com/api/v4/questions/1/answers?offset=10"
)

func newPaginator(f harvest.Fetcher) *harvest.Paginator {
	return harvest.NewPaginator(harvest.PaginationConfig{MaxPages: 200}, f, markup.New(), nil)
}

func TestPaginationFollowsCursorToEnd(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Responses: map[string]harvest.FetchResponse{
		page1: {StatusCode: 200, Body: harvesttest.AnswersJSON(false, page2,
			harvesttest.Answer{Author: "a", Content: "<p>one</p>", Votes: 1},
			harvesttest.Answer{Author: "b", Content: "<p>two</p>", Votes: 2})},
		page2: {StatusCode: 200, Body: harvesttest.AnswersJSON(false, page3,
			harvesttest.Answer{Author: "", Content: "<p>three</p>", Votes: 3})},
		page3: {StatusCode: 200, Body: harvesttest.AnswersJSON(true, "",
			harvesttest.Answer{Author: "d", Content: "", Votes: -4})},
	}}

	var pages []int
	out, err := newPaginator(f).Harvest(context.Background(), harvest.PaginationInput{
		Endpoint:  page1,
		Cookie:    "z_c0=abc",
		UserAgent: "test-agent",
	}, func(page, _, _ int) { pages = append(pages, page) })
	require.NoError(t, err)
	require.False(t, out.Partial)
	require.Equal(t, 3, out.Pages)
	require.Equal(t, []int{1, 2, 3}, pages)
	require.Equal(t, []harvest.Record{
		{Author: "a", Content: "one", IPLocation: "unknown", VoteRaw: "1", VoteCount: 1},
		{Author: "b", Content: "two", IPLocation: "unknown", VoteRaw: "2", VoteCount: 2},
		{Author: "anonymous", Content: "three", IPLocation: "unknown", VoteRaw: "3", VoteCount: 3},
		{Author: "d", Content: "(empty)", IPLocation: "unknown", VoteRaw: "0", VoteCount: 0},
	}, out.Records)

	reqs := f.Requests()
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		require.Equal(t, "z_c0=abc", r.Header.Get("Cookie"))
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		require.Equal(t, "application/json, text/plain, */*", r.Header.Get("Accept"))
	}
}

func TestPaginationStopsOnHTTPError(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Responses: map[string]harvest.FetchResponse{
		page1: {StatusCode: 200, Body: harvesttest.AnswersJSON(false, page2,
			harvesttest.Answer{Author: "a", Content: "one", Votes: 1})},
		page2: {StatusCode: http.StatusForbidden},
	}}

	out, err := newPaginator(f).Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1}, nil)
	require.NoError(t, err)
	require.True(t, out.Partial)
	require.Equal(t, 1, out.Pages)
	require.Len(t, out.Records, 1)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "403")
	require.Len(t, f.Requests(), 2)
}

func TestPaginationStopsOnTransportError(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Errors: map[string]error{page1: errors.New("connection reset")}}
	seed := []harvest.Record{{Author: "s", Content: "seeded", VoteRaw: "1", VoteCount: 1}}

	out, err := newPaginator(f).Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1, Seed: seed}, nil)
	require.NoError(t, err)
	require.True(t, out.Partial)
	require.Equal(t, 0, out.Pages)
	require.Equal(t, seed, out.Records)
	require.Contains(t, out.Warnings[0], "connection reset")
}

func TestPaginationSkipsSeededRecords(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Responses: map[string]harvest.FetchResponse{
		page1: {StatusCode: 200, Body: harvesttest.AnswersJSON(true, "",
			harvesttest.Answer{Author: "a", Content: "<p>one  answer</p>", Votes: 10},
			harvesttest.Answer{Author: "b", Content: "<p>two</p>", Votes: 20})},
	}}
	seed := []harvest.Record{{Author: "a", Content: "one answer", IPLocation: "北京", VoteRaw: "10", VoteCount: 10}}

	out, err := newPaginator(f).Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1, Seed: seed}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.Skipped)
	require.Len(t, out.Records, 2)
	require.Equal(t, "北京", out.Records[0].IPLocation)
	require.Equal(t, "b", out.Records[1].Author)
}

func TestPaginationKeepsIdenticalAPIAnswers(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Responses: map[string]harvest.FetchResponse{
		page1: {StatusCode: 200, Body: harvesttest.AnswersJSON(false, page2,
			harvesttest.Answer{Author: "匿名用户", Content: "<p>同上</p>", Votes: 3})},
		page2: {StatusCode: 200, Body: harvesttest.AnswersJSON(true, "",
			harvesttest.Answer{Author: "匿名用户", Content: "<p>同上</p>", Votes: 7})},
	}}

	out, err := newPaginator(f).Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1}, nil)
	require.NoError(t, err)
	require.Zero(t, out.Skipped)
	require.Len(t, out.Records, 2)
	require.Equal(t, 3, out.Records[0].VoteCount)
	require.Equal(t, 7, out.Records[1].VoteCount)
}

func TestPaginationSeedAbsorbsOneCopy(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Responses: map[string]harvest.FetchResponse{
		page1: {StatusCode: 200, Body: harvesttest.AnswersJSON(true, "",
			harvesttest.Answer{Author: "a", Content: "same", Votes: 1},
			harvesttest.Answer{Author: "a", Content: "same", Votes: 2})},
	}}
	seed := []harvest.Record{{Author: "a", Content: "same", VoteRaw: "1", VoteCount: 1}}

	out, err := newPaginator(f).Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1, Seed: seed}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.Skipped)
	require.Len(t, out.Records, 2)
	require.Equal(t, 2, out.Records[1].VoteCount)
}

func TestPaginationPageLimit(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Responses: map[string]harvest.FetchResponse{
		page1: {StatusCode: 200, Body: harvesttest.AnswersJSON(false, page2, harvesttest.Answer{Author: "a", Content: "1"})},
		page2: {StatusCode: 200, Body: harvesttest.AnswersJSON(false, page3, harvesttest.Answer{Author: "b", Content: "2"})},
	}}
	p := harvest.NewPaginator(harvest.PaginationConfig{MaxPages: 2}, f, markup.New(), nil)

	out, err := p.Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.Pages)
	require.True(t, out.Partial)
	require.Len(t, f.Requests(), 2)
}

func TestPaginationCanceled(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := harvest.NewPaginator(harvest.PaginationConfig{RatePerSecond: 1}, f, markup.New(), nil)

	_, err := p.Harvest(ctx, harvest.PaginationInput{Endpoint: page1}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

type countingPacer struct {
	urls []string
	err  error
}

func (c *countingPacer) Wait(_ context.Context, url string) error {
	c.urls = append(c.urls, url)
	return c.err
}

func TestPaginationConsultsPacer(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{Responses: map[string]harvest.FetchResponse{
		page1: {StatusCode: 200, Body: harvesttest.AnswersJSON(false, page2, harvesttest.Answer{Author: "a", Content: "x", Votes: 1})},
		page2: {StatusCode: 200, Body: harvesttest.AnswersJSON(true, "", harvesttest.Answer{Author: "b", Content: "y", Votes: 2})},
	}}
	pacer := &countingPacer{}
	out, err := newPaginator(f).WithPacer(pacer).Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.Pages)
	require.Equal(t, []string{page1, page2}, pacer.urls)
}

func TestPaginationPacerFailureAborts(t *testing.T) {
	t.Parallel()

	f := &harvesttest.Fetcher{}
	pacer := &countingPacer{err: errors.New("limiter closed")}
	_, err := newPaginator(f).WithPacer(pacer).Harvest(context.Background(), harvest.PaginationInput{Endpoint: page1}, nil)
	require.ErrorContains(t, err, "limiter closed")
	require.Empty(t, f.Requests())
}
