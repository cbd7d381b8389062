package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/form8k-radar/internal/ledger"
)

func setupEnv(t *testing.T, secURL string) {
	t.Helper()
	for _, key := range []string{
		"TARGET_ITEM", "DRY_RUN", "LEDGER_FILE", "LEDGER_OWNER", "GITHUB_TOKEN",
		"CLASSIFY_ENABLED", "KAFKA_BROKERS", "SEC_RATE_PER_SEC",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("SEC_BASE_URL", secURL)
	t.Setenv("SEC_USER_AGENT", "form8k-radar test@example.com")
	t.Setenv("SEC_PAGE_SIZE", "10")
	t.Setenv("SEC_MAX_PAGES", "1")
}

func listingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	page, err := os.ReadFile(filepath.Join("..", "internal", "edgar", "testdata", "latest_filings.html"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write(page)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCmd(slog.New(slog.NewTextHandler(&buf, nil)))
	cmd.SetArgs(args)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCheckerWritesLedgerFile(t *testing.T) {
	setupEnv(t, listingServer(t, http.StatusOK).URL)
	path := filepath.Join(t.TempDir(), "8-Ks.md")

	out, err := execute(t, "--ledger-file", path)
	require.NoError(t, err, out)
	require.Contains(t, out, "run complete")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, ledger.ParseKnownIDs(string(data)).Len())

	// A second run over the same listing writes nothing.
	out, err = execute(t, "--ledger-file", path)
	require.NoError(t, err, out)
	require.Contains(t, out, "written=false")

	again, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(data), string(again))
}

func TestCheckerDryRunLeavesLedgerAlone(t *testing.T) {
	setupEnv(t, listingServer(t, http.StatusOK).URL)
	path := filepath.Join(t.TempDir(), "8-Ks.md")

	out, err := execute(t, "--ledger-file", path, "--dry-run")
	require.NoError(t, err, out)
	require.Contains(t, out, "dry run: would append")

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestCheckerReportsFailingStage(t *testing.T) {
	setupEnv(t, listingServer(t, http.StatusServiceUnavailable).URL)
	path := filepath.Join(t.TempDir(), "8-Ks.md")

	out, err := execute(t, "--ledger-file", path)
	require.ErrorIs(t, err, errRunFailed)
	require.Contains(t, out, "stage=fetch")

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestCheckerRejectsBadFlags(t *testing.T) {
	setupEnv(t, listingServer(t, http.StatusOK).URL)
	path := filepath.Join(t.TempDir(), "8-Ks.md")

	_, err := execute(t, "--ledger-file", path, "--target-item", "one")
	require.Error(t, err)
	require.NotErrorIs(t, err, errRunFailed)

	_, err = execute(t, "--ledger-file", path, "--max-pages", "0")
	require.Error(t, err)

	// Without a ledger file the GitHub credentials are required.
	_, err = execute(t)
	require.Error(t, err)
}
