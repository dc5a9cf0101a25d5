package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/orchestrator"
	"github.com/JakeFAU/discussion-harvester/internal/session"
	"github.com/JakeFAU/discussion-harvester/internal/storage/memory"
	"github.com/JakeFAU/discussion-harvester/internal/verify"
)

type fakeHarvester struct {
	mu     sync.Mutex
	result harvest.Result
	err    error
	got    []orchestrator.Request
}

func (f *fakeHarvester) Harvest(_ context.Context, req orchestrator.Request) (harvest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	return f.result, f.err
}

type fakeVerifier struct {
	user verify.User
	err  error
}

func (f fakeVerifier) Verify(context.Context, string) (verify.User, error) {
	return f.user, f.err
}

type testEnv struct {
	server    *Server
	harvester *fakeHarvester
	tracker   *session.Tracker
	store     *memory.BlobStore
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		harvester: &fakeHarvester{},
		tracker:   session.NewTracker(),
		store:     memory.NewBlobStore(),
	}
	env.server = NewServer(Deps{
		Harvester: env.harvester,
		Progress:  env.tracker,
		Downloads: env.store,
		Verifier:  fakeVerifier{user: verify.User{Name: "tester", AvatarURL: "a", URL: "u"}},
	}, opts, zap.NewNop())
	return env
}

func (e *testEnv) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_SubmitHarvest_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.harvester.result = harvest.Result{
		SessionID:    "s-1",
		Title:        "问题",
		Records:      []harvest.Record{{Author: "a", Content: "c", IPLocation: "北京", VoteRaw: "12", VoteCount: 12}},
		StrategyUsed: harvest.StrategyAPI,
		PagesFetched: 2,
		DownloadRef:  "/api/download/q.csv",
		Log:          []string{"done"},
	}

	rec := env.do(http.MethodPost, "/api/harvest",
		`{"url":"https://www.zhihu.com/question/1","cookie":"z_c0=x","min_votes":5,"session_id":"s-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "s-1", body["session_id"])
	require.Equal(t, "API", body["strategy_used"])
	require.Equal(t, "/api/download/q.csv", body["download_url"])
	require.EqualValues(t, 2, body["pages_fetched"])
	require.Len(t, body["records"], 1)
	require.Equal(t, []any{"done"}, body["logs"])

	require.Len(t, env.harvester.got, 1)
	got := env.harvester.got[0]
	require.Equal(t, "https://www.zhihu.com/question/1", got.URL)
	require.NotNil(t, got.MinVotes)
	require.Equal(t, 5, *got.MinVotes)
}

func TestServer_SubmitHarvest_ErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind   harvest.ErrorKind
		status int
	}{
		{harvest.KindClientInput, http.StatusBadRequest},
		{harvest.KindNavigationTimeout, http.StatusGatewayTimeout},
		{harvest.KindExport, http.StatusInternalServerError},
		{harvest.KindDriver, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, Options{})
			env.harvester.err = &harvest.HarvestError{
				Kind:      tc.kind,
				Phase:     harvest.StatusPreparing,
				SessionID: "s-err",
				Log:       []string{"opening browser session"},
				Err:       errors.New("boom"),
			}
			rec := env.do(http.MethodPost, "/api/harvest", `{"url":"https://www.zhihu.com/question/1","cookie":"a=b"}`, nil)
			require.Equal(t, tc.status, rec.Code)

			body := decodeBody(t, rec)
			require.Equal(t, false, body["success"])
			require.Equal(t, string(tc.kind), body["kind"])
			require.Equal(t, "s-err", body["session_id"])
			require.Equal(t, tc.kind == harvest.KindNavigationTimeout, body["retryable"])
			require.Equal(t, []any{"opening browser session"}, body["logs"])
		})
	}
}

func TestServer_SubmitHarvest_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/api/harvest", "{invalid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, env.harvester.got)
}

func TestServer_Progress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	require.NoError(t, env.tracker.Create("s-1"))
	require.NoError(t, env.tracker.Update("s-1", harvest.StatusHarvesting, 40, "harvesting"))

	rec := env.do(http.MethodGet, "/api/progress/s-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "HARVESTING", body["status"])
	require.EqualValues(t, 40, body["progress"])
	require.Equal(t, "harvesting", body["message"])

	rec = env.do(http.MethodGet, "/api/progress/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Download(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	_, err := env.store.PutObject(context.Background(), "zhihu_question_q_1.csv", "text/csv", bytes.NewReader([]byte("\uFEFFquestion\n")))
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/download/zhihu_question_q_1.csv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `attachment; filename="zhihu_question_q_1.csv"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "\uFEFFquestion\n", rec.Body.String())

	rec = env.do(http.MethodGet, "/api/download/missing.csv", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/download/..%2Fsecret.csv", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_VerifyCookie(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/api/verify-cookie", `{"cookie":"z_c0=x"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, map[string]any{"name": "tester", "avatar": "a", "url": "u"}, body["user"])

	rec = env.do(http.MethodPost, "/api/verify-cookie", `{"cookie":""}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rejected := NewServer(Deps{Verifier: fakeVerifier{err: &verify.RejectedError{StatusCode: 401}}}, Options{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/verify-cookie", strings.NewReader(`{"cookie":"z_c0=old"}`))
	out := httptest.NewRecorder()
	rejected.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestServer_VerifyCookieUpstreamFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "rejected", err: fmt.Errorf("verify: %w", &verify.RejectedError{StatusCode: 403}), want: http.StatusUnauthorized},
		{name: "unparsable", err: fmt.Errorf("parse credential: %w", harvest.ErrInvalidCookie), want: http.StatusBadRequest},
		{name: "transport", err: errors.New("dial tcp: lookup www.zhihu.com: no such host"), want: http.StatusBadGateway},
		{name: "timeout", err: context.DeadlineExceeded, want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := NewServer(Deps{Verifier: fakeVerifier{err: tc.err}}, Options{}, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/verify-cookie", strings.NewReader(`{"cookie":"z_c0=x"}`))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
			require.Equal(t, false, decodeBody(t, rec)["success"])
		})
	}
}

func TestServer_DownloadUnicodeName(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	name := "zhihu_question_C_还值得学吗_1.csv"
	_, err := env.store.PutObject(context.Background(), name, "text/csv", bytes.NewReader([]byte("\uFEFFq\n")))
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/download/"+url.PathEscape(name), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t,
		`attachment; filename="zhihu_question_C_______1.csv"; filename*=UTF-8''zhihu_question_C_%E8%BF%98%E5%80%BC%E5%BE%97%E5%AD%A6%E5%90%97_1.csv`,
		rec.Header().Get("Content-Disposition"))
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()

	require.Equal(t, `attachment; filename="a_b.csv"`, contentDisposition(`a"b.csv`))
	require.Equal(t, `attachment; filename="_.csv"; filename*=UTF-8''%E9%97%AE.csv`, contentDisposition("问.csv"))
	require.Equal(t, `attachment; filename="a b;c.csv"`, contentDisposition("a b;c.csv"))
	require.Equal(t, `attachment; filename="_ b;c.csv"; filename*=UTF-8''%E9%97%AE%20b%3Bc.csv`, contentDisposition("问 b;c.csv"))
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{APIKey: "secret"})
	require.NoError(t, env.tracker.Create("s-1"))

	rec := env.do(http.MethodGet, "/api/progress/s-1", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/api/progress/s-1", "", http.Header{"X-Api-Key": {"secret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", nil).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "", nil).Code)

	rec := env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := NewServer(Deps{Ready: func(context.Context) error { return errors.New("db down") }}, Options{}, nil)
	out := httptest.NewRecorder()
	notReady.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, out.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Progress: panicProgress{}}, Options{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/progress/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicProgress struct{}

func (panicProgress) Get(string) (session.Entry, error) { panic("boom") }
