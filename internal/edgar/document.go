package edgar

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/DeafMist/form8k-radar/internal/apperr"
	"github.com/DeafMist/form8k-radar/internal/processing"
)

// FetchDocumentText follows a filing index page to its primary document and
// returns the document's visible text.
func (f *Fetcher) FetchDocumentText(ctx context.Context, indexURL string) (string, error) {
	if indexURL == "" {
		return "", fmt.Errorf("%w: filing has no index url", apperr.ErrSourceUnavailable)
	}

	index, err := f.getHTML(ctx, indexURL)
	if err != nil {
		return "", err
	}

	docURL, err := f.primaryDocument(index, indexURL)
	if err != nil {
		return "", err
	}

	doc, err := f.getHTML(ctx, docURL)
	if err != nil {
		return "", err
	}

	text := processing.CleanText(textContent(doc))
	if text == "" {
		return "", fmt.Errorf("%w: %s: document has no text", apperr.ErrSourceUnavailable, docURL)
	}
	return text, nil
}

// primaryDocument picks the first archive link on the index page that is an
// HTML document rather than the index itself. Inline XBRL viewer links
// (/ix?doc=...) are unwrapped.
func (f *Fetcher) primaryDocument(index *html.Node, indexURL string) (string, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", apperr.ErrSourceUnavailable, indexURL, err)
	}

	for a := range elements(index, atom.A) {
		href := attr(a, "href")
		if strings.HasPrefix(href, "/ix?") {
			if u, err := url.Parse(href); err == nil {
				href = u.Query().Get("doc")
			}
		}
		if !strings.Contains(href, "/Archives/edgar/data/") {
			continue
		}
		ext := strings.ToLower(path.Ext(href))
		if ext != ".htm" && ext != ".html" {
			continue
		}
		if strings.HasSuffix(strings.ToLower(href), "-index.htm") || strings.HasSuffix(strings.ToLower(href), "-index.html") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		return base.ResolveReference(ref).String(), nil
	}
	return "", fmt.Errorf("%w: %s: no primary document link", apperr.ErrSourceUnavailable, indexURL)
}
