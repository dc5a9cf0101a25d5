package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

func TestRunOptionsRequest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cookieFile := filepath.Join(dir, "cookie.txt")
	require.NoError(t, os.WriteFile(cookieFile, []byte("z_c0=abc; _xsrf=def\n"), 0o600))

	opts := &runOptions{url: "https://www.zhihu.com/question/1", cookieFile: cookieFile, minVotes: 5, sessionID: "s1"}
	req, err := opts.request()
	require.NoError(t, err)
	require.Equal(t, "z_c0=abc; _xsrf=def", req.Cookie)
	require.Equal(t, "s1", req.SessionID)
	require.NotNil(t, req.MinVotes)
	require.Equal(t, 5, *req.MinVotes)

	opts = &runOptions{url: "https://www.zhihu.com/question/1", cookie: "z_c0=abc", minVotes: -1}
	req, err = opts.request()
	require.NoError(t, err)
	require.Nil(t, req.MinVotes)
}

func TestRunOptionsRequestErrors(t *testing.T) {
	t.Parallel()

	_, err := (&runOptions{cookie: "z_c0=abc"}).request()
	require.ErrorContains(t, err, "--url")

	_, err = (&runOptions{url: "https://x", cookie: "a=b", cookieFile: "c"}).request()
	require.ErrorContains(t, err, "mutually exclusive")

	_, err = (&runOptions{url: "https://x", cookieFile: filepath.Join(t.TempDir(), "missing")}).request()
	require.ErrorContains(t, err, "read cookie file")
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, writeSummary(cmd, harvest.Result{
		SessionID:    "s1",
		Title:        "t",
		StrategyUsed: harvest.StrategyAPI,
		Records:      []harvest.Record{{Author: "a"}, {Author: "b"}},
		PagesFetched: 3,
		FileName:     "f.csv",
	}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, "s1", got["session_id"])
	require.EqualValues(t, 2, got["records"])
	require.Equal(t, string(harvest.StrategyAPI), got["strategy_used"])
	require.NotContains(t, got, "warnings")
}

func TestRunRequiresURL(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", "--env-file", "", "--cookie", "z_c0=abc"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.ErrorContains(t, err, "--url is required")
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "nope.env")))
	require.NoError(t, loadEnvFile(""))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HARVESTER_TEST_ONLY_VALUE=42\n"), 0o600))
	t.Setenv("HARVESTER_TEST_ONLY_VALUE", "")
	require.NoError(t, os.Unsetenv("HARVESTER_TEST_ONLY_VALUE"))
	require.NoError(t, loadEnvFile(path))
	require.Equal(t, "42", os.Getenv("HARVESTER_TEST_ONLY_VALUE"))
}
