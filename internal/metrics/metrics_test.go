package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Www.Zhihu.com/question/1", "www.zhihu.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := harvestsTotal
	Init()
	if harvestsTotal == nil || harvestsTotal != first {
		t.Fatal("Init() did not keep a single set of collectors")
	}
}

func TestObserveHarvest(t *testing.T) {
	ObserveHarvest("https://www.zhihu.com/question/1", "API", "success", 7, 2*time.Second)
	ObserveHarvest("https://www.zhihu.com/question/1", "API", "success", 3, time.Second)

	if val := testutil.ToFloat64(harvestsTotal.WithLabelValues("API", "success")); val != 2 {
		t.Errorf("harvests_total = %f, want 2", val)
	}
	if val := testutil.ToFloat64(harvestRecordsTotal.WithLabelValues("www.zhihu.com", "API")); val != 10 {
		t.Errorf("records_total = %f, want 10", val)
	}

	ObserveHarvest("https://www.zhihu.com/question/1", "", "failure", 0, time.Second)
	if val := testutil.ToFloat64(harvestsTotal.WithLabelValues("none", "failure")); val != 1 {
		t.Errorf("failed harvests = %f, want 1", val)
	}
}

func TestBrowserSessionsGauge(t *testing.T) {
	IncBrowserSessions()
	IncBrowserSessions()
	DecBrowserSessions()
	if val := testutil.ToFloat64(browserSessionsActive); val != 1 {
		t.Errorf("browser sessions = %f, want 1", val)
	}
	DecBrowserSessions()
}

func TestObserveDiscoveryAndPagination(t *testing.T) {
	ObserveDiscovery(true)
	ObserveDiscovery(false)
	ObserveDiscovery(false)
	ObservePaginationPages(4, true)

	if val := testutil.ToFloat64(discoveryTotal.WithLabelValues("false")); val != 2 {
		t.Errorf("discovery misses = %f, want 2", val)
	}
	if val := testutil.ToFloat64(paginationPagesTotal.WithLabelValues("ok")); val != 4 {
		t.Errorf("pages ok = %f, want 4", val)
	}
	if val := testutil.ToFloat64(paginationPagesTotal.WithLabelValues("stopped")); val != 1 {
		t.Errorf("pages stopped = %f, want 1", val)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("www.zhihu.com", 250*time.Millisecond)
	ObserveRateLimitDelay("www.zhihu.com", time.Second)

	if n := testutil.CollectAndCount(rateLimitDelaySeconds, "harvester_rate_limit_delay_seconds"); n != 1 {
		t.Errorf("rate limit series = %d, want 1", n)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://zhihu.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
