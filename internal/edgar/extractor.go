package edgar

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/DeafMist/form8k-radar/internal/apperr"
	"github.com/DeafMist/form8k-radar/internal/models"
)

var (
	accessionPattern  = regexp.MustCompile(`\b\d{10}-\d{2}-\d{6}\b`)
	labelledAccession = regexp.MustCompile(`(?i)accession\s+number:?\s*(\d{10}-\d{2}-\d{6})`)
	itemsClause       = regexp.MustCompile(`(?i)\bitems?\b`)
	itemCode          = regexp.MustCompile(`^\d{1,2}\.\d{2}$`)
	filerSuffix       = regexp.MustCompile(`\s*\((\d{1,10})\)\s*\([^)]*\)\s*$`)
	eastern           = loadEastern()
)

// acceptedLayout is the Accepted cell once whitespace between date and time is removed.
const acceptedLayout = "2006-01-0215:04:05"

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// SkipFunc receives every row the extractor drops. The error wraps apperr.ErrParseSkip.
type SkipFunc func(err error)

// Listing is the parsed content of one or more "Latest Filings" pages.
type Listing struct {
	pages  []*html.Node
	base   *url.URL
	OnSkip SkipFunc
}

func newListing(base *url.URL) *Listing {
	return &Listing{base: base}
}

// ParseListing parses a single listing page read from r. Relative links are
// resolved against baseURL.
func ParseListing(r io.Reader, baseURL string) (*Listing, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", apperr.ErrSourceUnavailable, err)
	}
	l := newListing(base)
	l.pages = append(l.pages, doc)
	return l, nil
}

// Pages returns the number of pages in the listing.
func (l *Listing) Pages() int {
	return len(l.pages)
}

// Records lazily yields 8-K family filings in source order. Rows that cannot
// be turned into a usable record are reported to OnSkip and dropped.
func (l *Listing) Records() iter.Seq[models.FilingRecord] {
	return func(yield func(models.FilingRecord) bool) {
		for _, page := range l.pages {
			var filer *companyInfo
			for tr := range elements(page, atom.Tr) {
				cells := childElements(tr, atom.Td)
				if c, ok := parseCompanyRow(cells); ok {
					filer = &c
					continue
				}
				if filer == nil {
					continue
				}
				company := *filer
				filer = nil

				rec, err := l.parseFilingRow(company, cells)
				if err != nil {
					l.skip(err)
					continue
				}
				if !yield(rec) {
					return
				}
			}
		}
	}
}

func (l *Listing) skip(err error) {
	if l.OnSkip != nil {
		l.OnSkip(err)
	}
}

type companyInfo struct {
	name string
	cik  string
}

// parseCompanyRow recognises the single spanning cell that precedes every filing row.
func parseCompanyRow(cells []*html.Node) (companyInfo, bool) {
	if len(cells) != 1 || attr(cells[0], "colspan") == "" {
		return companyInfo{}, false
	}
	a := findElement(cells[0], atom.A, nil)
	if a == nil {
		return companyInfo{}, false
	}
	return parseCompanyName(textContent(a)), true
}

func parseCompanyName(raw string) companyInfo {
	raw = strings.Join(strings.Fields(raw), " ")
	info := companyInfo{name: raw}
	if m := filerSuffix.FindStringSubmatchIndex(raw); m != nil {
		info.name = strings.TrimSpace(raw[:m[0]])
		info.cik = raw[m[2]:m[3]]
	}
	return info
}

func (l *Listing) parseFilingRow(company companyInfo, cells []*html.Node) (models.FilingRecord, error) {
	if len(cells) < 4 {
		return models.FilingRecord{}, skipErr(company.name, "row has %d cells", len(cells))
	}

	form := strings.TrimSpace(textContent(cells[0]))
	if !IsEightKFamily(form) {
		return models.FilingRecord{}, skipErr(company.name, "form %q is not an 8-K", form)
	}

	docURL := l.indexLink(cells[1])
	desc := textContent(cells[2])

	accession := ""
	if m := labelledAccession.FindStringSubmatch(desc); m != nil {
		accession = m[1]
	} else {
		accession = ParseAccession(docURL)
	}
	if accession == "" {
		return models.FilingRecord{}, skipErr(company.name, "no accession number")
	}

	items, err := ParseItems(desc)
	if err != nil {
		return models.FilingRecord{}, skipErr(company.name, "accession %s: %v", accession, err)
	}

	return models.FilingRecord{
		AccessionID: accession,
		FormType:    form,
		Items:       items,
		CompanyName: company.name,
		CIK:         company.cik,
		FiledAt:     parseAccepted(textContent(cells[3])),
		DocumentURL: docURL,
	}, nil
}

func (l *Listing) indexLink(cell *html.Node) string {
	a := findElement(cell, atom.A, func(n *html.Node) bool {
		return strings.TrimSpace(textContent(n)) == "[html]"
	})
	if a == nil {
		return ""
	}
	href, err := url.Parse(attr(a, "href"))
	if err != nil {
		return ""
	}
	return l.base.ResolveReference(href).String()
}

func skipErr(company, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if company != "" {
		msg = company + ": " + msg
	}
	return fmt.Errorf("%w: %s", apperr.ErrParseSkip, msg)
}

// IsEightKFamily reports whether form is an 8-K or an amendment to one.
func IsEightKFamily(form string) bool {
	form = strings.ToUpper(strings.TrimSpace(form))
	return form == "8-K" || form == "8-K/A"
}

// ParseAccession returns the first accession number found in text, or "".
func ParseAccession(text string) string {
	return accessionPattern.FindString(text)
}

var errNoItems = errors.New("no item codes")

// ParseItems extracts the disclosure item codes from a filing description
// such as "Current report, items 1.05, 7.01, and 9.01". Codes are returned
// deduplicated in declaration order.
func ParseItems(desc string) ([]string, error) {
	loc := itemsClause.FindStringIndex(desc)
	if loc == nil {
		return nil, errNoItems
	}
	clause := desc[loc[1]:]
	if i := strings.Index(strings.ToLower(clause), "accession"); i >= 0 {
		clause = clause[:i]
	}
	if i := strings.IndexByte(clause, '\n'); i >= 0 {
		clause = clause[:i]
	}

	fields := strings.FieldsFunc(clause, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})

	var items []string
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if strings.EqualFold(f, "and") {
			continue
		}
		if !itemCode.MatchString(f) {
			return nil, fmt.Errorf("malformed item code %q", f)
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		items = append(items, f)
	}
	if len(items) == 0 {
		return nil, errNoItems
	}
	return items, nil
}

func parseAccepted(raw string) time.Time {
	compact := strings.Join(strings.Fields(raw), "")
	ts, err := time.ParseInLocation(acceptedLayout, compact, eastern)
	if err != nil {
		return time.Time{}
	}
	return ts
}
