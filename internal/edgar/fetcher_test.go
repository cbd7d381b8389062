package edgar_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/form8k-radar/internal/apperr"
	"github.com/DeafMist/form8k-radar/internal/edgar"
)

const lastPage = `<html><body><table>
<tr><td colspan="5"><a href="#">OLDER CO (0000088888) (Filer)</a></td></tr>
<tr><td>8-K</td><td><a href="/Archives/edgar/data/88888/000008888824000001/0000088888-24-000001-index.htm">[html]</a></td>
<td>Current report, item 1.05<br>Accession Number: 0000088888-24-000001</td><td>2023-12-29<br>10:00:00</td><td>2023-12-29</td></tr>
</table></body></html>`

func newFetcher(t *testing.T, srv *httptest.Server, maxPages int) *edgar.Fetcher {
	t.Helper()
	f, err := edgar.NewFetcher(edgar.Options{
		BaseURL:    srv.URL,
		UserAgent:  "form8k-radar test@example.com",
		PageSize:   10,
		MaxPages:   maxPages,
		Timeout:    2 * time.Second,
		RatePerSec: 1000,
	})
	require.NoError(t, err)
	return f
}

func TestFetchListingFollowsNextButton(t *testing.T) {
	first, err := os.ReadFile("testdata/latest_filings.html")
	require.NoError(t, err)

	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/browse-edgar", r.URL.Path)
		assert.Equal(t, "getcurrent", r.URL.Query().Get("action"))
		assert.Equal(t, "8-K", r.URL.Query().Get("type"))
		assert.Equal(t, "10", r.URL.Query().Get("count"))
		assert.Equal(t, "form8k-radar test@example.com", r.Header.Get("User-Agent"))

		start := r.URL.Query().Get("start")
		starts = append(starts, start)
		if start == "0" {
			_, _ = w.Write(first)
			return
		}
		_, _ = w.Write([]byte(lastPage))
	}))
	defer srv.Close()

	listing, err := newFetcher(t, srv, 5).FetchListing(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0", "10"}, starts)
	require.Equal(t, 2, listing.Pages())

	var ids []string
	for rec := range listing.Records() {
		ids = append(ids, rec.AccessionID)
	}
	require.Equal(t, []string{
		"0000012345-24-000123",
		"0000033333-24-000007",
		"0000055555-24-000002",
		"0000088888-24-000001",
	}, ids)
}

func TestFetchListingRespectsPageCap(t *testing.T) {
	first, err := os.ReadFile("testdata/latest_filings.html")
	require.NoError(t, err)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write(first)
	}))
	defer srv.Close()

	listing, err := newFetcher(t, srv, 3).FetchListing(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, listing.Pages())
}

func TestFetchListingFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "busy", http.StatusServiceUnavailable)
			},
		},
		{
			name: "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		},
		{
			name: "no table",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html><body>Your request has been flagged</body></html>"))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(5 * time.Second):
				case <-r.Context().Done():
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f, err := edgar.NewFetcher(edgar.Options{
				BaseURL:    srv.URL,
				UserAgent:  "form8k-radar test@example.com",
				PageSize:   100,
				MaxPages:   2,
				Timeout:    200 * time.Millisecond,
				RatePerSec: 1000,
			})
			require.NoError(t, err)

			_, err = f.FetchListing(context.Background())
			require.Error(t, err)
			require.True(t, errors.Is(err, apperr.ErrSourceUnavailable), "got %v", err)
		})
	}
}

func TestNewFetcherValidates(t *testing.T) {
	_, err := edgar.NewFetcher(edgar.Options{UserAgent: "ua", PageSize: 50})
	require.Error(t, err)

	_, err = edgar.NewFetcher(edgar.Options{PageSize: 100})
	require.Error(t, err)

	_, err = edgar.NewFetcher(edgar.Options{BaseURL: "not a url", UserAgent: "ua", PageSize: 100})
	require.Error(t, err)

	f, err := edgar.NewFetcher(edgar.Options{UserAgent: "ua", PageSize: 40})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(f.ListingURL(80), "https://www.sec.gov/cgi-bin/browse-edgar?"))
	require.Contains(t, f.ListingURL(80), "start=80")
	require.Contains(t, f.ListingURL(80), "count=40")
}

func TestFetchDocumentText(t *testing.T) {
	index, err := os.ReadFile("testdata/filing_index.html")
	require.NoError(t, err)
	doc, err := os.ReadFile("testdata/acme_8k.html")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Archives/edgar/data/12345/000001234524000123/0000012345-24-000123-index.htm":
			_, _ = w.Write(index)
		case "/Archives/edgar/data/12345/000001234524000123/acme-8k.htm":
			_, _ = w.Write(doc)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newFetcher(t, srv, 1)
	text, err := f.FetchDocumentText(context.Background(), srv.URL+"/Archives/edgar/data/12345/000001234524000123/0000012345-24-000123-index.htm")
	require.NoError(t, err)
	require.Contains(t, text, "Item 1.05 Material Cybersecurity Incidents.")
	require.Contains(t, text, "not determined that the incident is reasonably likely to materially impact")
	require.NotContains(t, text, "dei:EntityRegistrantName")
	require.NotContains(t, text, "margin")
}

func TestFetchDocumentTextWithoutPrimaryDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="/Archives/edgar/data/1/2/0000000001-24-000001.txt">txt</a></body></html>`))
	}))
	defer srv.Close()

	_, err := newFetcher(t, srv, 1).FetchDocumentText(context.Background(), srv.URL+"/index.htm")
	require.True(t, errors.Is(err, apperr.ErrSourceUnavailable))

	_, err = newFetcher(t, srv, 1).FetchDocumentText(context.Background(), "")
	require.True(t, errors.Is(err, apperr.ErrSourceUnavailable))
}
