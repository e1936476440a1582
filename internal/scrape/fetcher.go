package scrape

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrBlocked is returned when a site answers with an anti-bot page instead
// of its content.
var ErrBlocked = eris.New("scrape: blocked")

// Page is a fetched website page.
type Page struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// Raw is the response body as received, used for contact extraction.
	Raw string `json:"-"`
	// Text is the visible text with scripts, styles and navigation removed.
	Text string `json:"text,omitempty"`
}

// Summary returns the best short description of the page: the meta
// description when present, otherwise the title.
func (p *Page) Summary() string {
	if p == nil {
		return ""
	}
	if p.Description != "" {
		return p.Description
	}
	return p.Title
}

// Fetcher retrieves a single web page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}
