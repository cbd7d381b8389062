package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/form8k-radar/internal/config"
	"github.com/DeafMist/form8k-radar/internal/elasticsearch"
	"github.com/DeafMist/form8k-radar/internal/models"
)

type stubStore struct {
	healthErr error
	searchErr error
	params    elasticsearch.SearchParams
	entries   map[string]models.LedgerEntry
}

func (s *stubStore) Health(context.Context) error { return s.healthErr }

func (s *stubStore) SearchFilings(_ context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error) {
	s.params = params
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	res := &elasticsearch.SearchResult{}
	for _, e := range s.entries {
		res.Items = append(res.Items, e)
	}
	res.Total = int64(len(res.Items))
	return res, nil
}

func (s *stubStore) GetFiling(_ context.Context, accession string) (*models.LedgerEntry, error) {
	e, ok := s.entries[accession]
	if !ok {
		return nil, elasticsearch.ErrNotFound
	}
	return &e, nil
}

func newTestServer(store *stubStore) http.Handler {
	srv := &server{
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:   &config.API{DefaultPage: 20, MaxPage: 100},
		store: store,
	}
	return srv.routes()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

var acme = models.LedgerEntry{
	FilingRecord: models.FilingRecord{
		AccessionID: "0000012345-24-000123",
		FormType:    "8-K",
		Items:       []string{"1.05", "9.01"},
		CompanyName: "ACME CORP",
	},
	MaterialityLabel: models.LabelMaterial,
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(&stubStore{}), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, newTestServer(&stubStore{healthErr: errors.New("red")}), "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchPassesFilters(t *testing.T) {
	store := &stubStore{entries: map[string]models.LedgerEntry{acme.AccessionID: acme}}
	h := newTestServer(store)

	rec := get(t, h, "/filings?company=acme&item=1.05&form=8-k%2Fa&label=Considered+Material&from=5&size=500&sort=filed_at:asc&start=2024-01-01&end=2024-02-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	p := store.params
	require.Equal(t, "acme", p.Company)
	require.Equal(t, "1.05", p.Item)
	require.Equal(t, "8-K/A", p.Form)
	require.Equal(t, string(models.LabelMaterial), p.Label)
	require.Equal(t, 5, p.From)
	require.Equal(t, 100, p.Size)
	require.Equal(t, "filed_at:asc", p.Sort)
	require.NotNil(t, p.Start)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *p.Start)
	require.NotNil(t, p.End)

	var body struct {
		Total int64
		Items []models.LedgerEntry
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 1, body.Total)
	require.Equal(t, "ACME CORP", body.Items[0].CompanyName)
}

func TestSearchErrors(t *testing.T) {
	rec := get(t, newTestServer(&stubStore{}), "/filings?label=spicy")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, newTestServer(&stubStore{searchErr: errors.New("boom")}), "/filings")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetFiling(t *testing.T) {
	h := newTestServer(&stubStore{entries: map[string]models.LedgerEntry{acme.AccessionID: acme}})

	rec := get(t, h, "/filings/0000012345-24-000123")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, acme.Items, got.Items)

	require.Equal(t, http.StatusNotFound, get(t, h, "/filings/0000099999-24-000001").Code)
	require.Equal(t, http.StatusBadRequest, get(t, h, "/filings/not-an-id").Code)
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"-3", 20},
		{"0", 0},
		{"50", 50},
		{"101", 100},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, clampInt(tt.raw, 20, 100), "raw=%q", tt.raw)
	}
}

func TestParseTime(t *testing.T) {
	require.Nil(t, parseTime(""))
	require.Nil(t, parseTime("yesterday"))

	ts := parseTime(" 2024-03-05T10:00:00Z ")
	require.NotNil(t, ts)
	require.Equal(t, 2024, ts.Year())

	day := parseTime("2024-03-05")
	require.NotNil(t, day)
	require.Equal(t, time.March, day.Month())
}
