package edgar

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"

	"github.com/DeafMist/form8k-radar/internal/apperr"
	"github.com/DeafMist/form8k-radar/internal/models"
)

const (
	DefaultBaseURL  = "https://www.sec.gov"
	DefaultFormType = "8-K"
	maxPageBytes    = 8 << 20
)

// ValidPageSizes are the only page sizes the getcurrent endpoint honours.
var ValidPageSizes = []int{10, 20, 40, 80, 100}

// Options configures a Fetcher.
type Options struct {
	BaseURL    string
	UserAgent  string
	FormType   string
	PageSize   int
	MaxPages   int
	Timeout    time.Duration
	RatePerSec float64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Fetcher retrieves the rolling "Latest Filings" listing and filing documents.
// It keeps no state between calls apart from its rate limiter.
type Fetcher struct {
	client    *http.Client
	base      *url.URL
	userAgent string
	formType  string
	pageSize  int
	maxPages  int
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewFetcher validates opts and builds a Fetcher.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid sec base url %q", opts.BaseURL)
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		return nil, fmt.Errorf("sec user agent is required")
	}
	if opts.FormType == "" {
		opts.FormType = DefaultFormType
	}
	if !validPageSize(opts.PageSize) {
		return nil, fmt.Errorf("page size %d not one of %v", opts.PageSize, ValidPageSizes)
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}

	client := opts.HTTPClient
	if client == nil {
		client = newHTTPClient(opts.Timeout)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Fetcher{
		client:    client,
		base:      base,
		userAgent: opts.UserAgent,
		formType:  opts.FormType,
		pageSize:  opts.PageSize,
		maxPages:  opts.MaxPages,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		log:       log,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

func validPageSize(n int) bool {
	for _, v := range ValidPageSizes {
		if v == n {
			return true
		}
	}
	return false
}

// ListingURL returns the getcurrent URL for the page starting at offset start.
func (f *Fetcher) ListingURL(start int) string {
	q := url.Values{}
	q.Set("action", "getcurrent")
	q.Set("type", f.formType)
	q.Set("owner", "include")
	q.Set("start", strconv.Itoa(start))
	q.Set("count", strconv.Itoa(f.pageSize))
	u := f.base.ResolveReference(&url.URL{Path: "/cgi-bin/browse-edgar"})
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchListing walks the listing pages until there is no "Next" button or
// the page cap is reached. Any failing page aborts the whole fetch.
func (f *Fetcher) FetchListing(ctx context.Context) (*Listing, error) {
	listing := newListing(f.base)
	next := fmt.Sprintf("Next %d", f.pageSize)

	for page := 0; page < f.maxPages; page++ {
		pageURL := f.ListingURL(page * f.pageSize)
		f.log.Debug("fetching listing page", slog.Int("page", page+1), slog.String("url", pageURL))

		doc, err := f.getHTML(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if findElement(doc, atom.Table, nil) == nil {
			return nil, fmt.Errorf("%w: %s: page has no filings table", apperr.ErrSourceUnavailable, pageURL)
		}
		listing.pages = append(listing.pages, doc)

		hasNext := findElement(doc, atom.Input, func(n *html.Node) bool {
			return attr(n, "value") == next
		}) != nil
		if !hasNext {
			return listing, nil
		}
	}

	f.log.Warn("listing page cap reached, older filings in the window were not scanned",
		slog.Int("max_pages", f.maxPages),
	)
	return listing, nil
}

// Records fetches the listing and returns its records. Rows that cannot be
// turned into a record are reported to onSkip.
func (f *Fetcher) Records(ctx context.Context, onSkip func(error)) (iter.Seq[models.FilingRecord], error) {
	listing, err := f.FetchListing(ctx)
	if err != nil {
		return nil, err
	}
	listing.OnSkip = onSkip
	return listing.Records(), nil
}

func (f *Fetcher) getHTML(ctx context.Context, rawURL string) (*html.Node, error) {
	body, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse html: %v", apperr.ErrSourceUnavailable, rawURL, err)
	}
	return doc, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %s: %v", apperr.ErrSourceUnavailable, rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", apperr.ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", apperr.ErrSourceUnavailable, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s: status %s", apperr.ErrSourceUnavailable, rawURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %s: read body: %v", apperr.ErrSourceUnavailable, rawURL, err)
	}
	return string(data), nil
}
