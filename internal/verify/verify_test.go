package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

func TestVerifyReturnsProfile(t *testing.T) {
	t.Parallel()

	var gotCookie, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"知乎用户","avatar_url":"https://pic.example/a.jpg","url":"https://www.zhihu.com/people/x"}`))
	}))
	t.Cleanup(srv.Close)

	v := New(Config{Endpoint: srv.URL, UserAgent: "verify-agent"})
	user, err := v.Verify(context.Background(), `[{"name":"z_c0","value":"tok"},{"name":"d_c0","value":"dev"}]`)
	require.NoError(t, err)
	require.Equal(t, User{Name: "知乎用户", AvatarURL: "https://pic.example/a.jpg", URL: "https://www.zhihu.com/people/x"}, user)
	require.Equal(t, "z_c0=tok; d_c0=dev", gotCookie)
	require.Equal(t, "verify-agent", gotAgent)
}

func TestVerifyRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"请求参数异常"}}`))
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Endpoint: srv.URL}).Verify(context.Background(), "z_c0=expired")
	require.ErrorIs(t, err, ErrRejected)
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	require.Equal(t, http.StatusUnauthorized, rejected.StatusCode)
}

func TestVerifyEmptyCredential(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Endpoint: "http://127.0.0.1:0"}).Verify(context.Background(), "  ")
	require.ErrorIs(t, err, harvest.ErrMissingCredential)
}
