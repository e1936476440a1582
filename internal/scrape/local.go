package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; OutreachBot/1.0)"
	maxBodyBytes     = 512 * 1024
)

// LocalFetcher fetches pages directly over net/http and parses them with
// goquery.
type LocalFetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// Option configures a LocalFetcher.
type Option func(*LocalFetcher)

// WithTimeout sets the total per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *LocalFetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *LocalFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRateLimit paces outgoing requests to rps per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(f *LocalFetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *LocalFetcher) { f.client = c }
}

// NewLocalFetcher creates a LocalFetcher with sensible defaults.
func NewLocalFetcher(opts ...Option) *LocalFetcher {
	f := &LocalFetcher{
		client: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch retrieves targetURL. Non-2xx responses and anti-bot pages are errors.
func (f *LocalFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scrape: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: fetch %s", targetURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: read body")
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, eris.Wrapf(ErrBlocked, "scrape: %s (%s)", targetURL, kind)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Errorf("scrape: %s returned status %d", targetURL, resp.StatusCode)
	}

	page := &Page{
		URL:        targetURL,
		StatusCode: resp.StatusCode,
		Raw:        string(body),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Raw))
	if err != nil {
		// Unparseable markup still carries raw text worth scanning.
		return page, nil
	}
	page.Title = pageTitle(doc)
	page.Description = metaDescription(doc)
	page.Text = visibleText(doc)
	return page, nil
}

func pageTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

func metaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if og, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

// visibleText returns the body text with non-content elements removed and
// whitespace collapsed.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return ""
	}
	body.Find("script, style, noscript, nav, footer").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}
