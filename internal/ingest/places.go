package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/google"
)

const (
	defaultMaxPages  = 3
	defaultRateLimit = 5
	placesPageSize   = 20
)

// PlacesSearcher finds candidates with Google Places Text Search,
// following pagination up to maxPages.
type PlacesSearcher struct {
	client   google.Client
	limiter  *rate.Limiter
	maxPages int
	retry    resilience.RetryConfig
}

// NewPlacesSearcher creates a PlacesSearcher. Non-positive maxPages or
// rateLimit fall back to defaults.
func NewPlacesSearcher(client google.Client, maxPages int, rateLimit float64) *PlacesSearcher {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	return &PlacesSearcher{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(rateLimit), 1),
		maxPages: maxPages,
		retry:    placesRetryConfig(),
	}
}

// WithRetry replaces the retry policy used for each Text Search page.
func (s *PlacesSearcher) WithRetry(cfg resilience.RetryConfig) *PlacesSearcher {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = isRetryablePlacesError
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("google", "text_search")
	}
	s.retry = cfg
	return s
}

func placesRetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.ShouldRetry = isRetryablePlacesError
	cfg.OnRetry = resilience.RetryLogger("google", "text_search")
	return cfg
}

func isRetryablePlacesError(err error) bool {
	var apiErr *google.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

// Search returns one candidate per place. An empty result is not an error.
// When a later page fails, the candidates from earlier pages are returned
// with the error.
func (s *PlacesSearcher) Search(ctx context.Context, query string) ([]model.Candidate, error) {
	var (
		candidates []model.Candidate
		pageToken  string
	)

	for page := 0; page < s.maxPages; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return candidates, eris.Wrap(err, "places: rate limit wait")
		}

		req := google.TextSearchRequest{
			Query:     query,
			PageSize:  placesPageSize,
			PageToken: pageToken,
		}
		resp, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*google.TextSearchResponse, error) {
			return s.client.TextSearch(ctx, req)
		})
		if err != nil {
			return candidates, eris.Wrapf(err, "places: text search page %d", page+1)
		}

		for _, p := range resp.Places {
			candidates = append(candidates, model.Candidate{
				Name:       p.DisplayName.Text,
				ClinicName: p.DisplayName.Text,
				Website:    p.WebsiteURI,
				Phone:      p.NationalPhoneNumber,
			})
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	zap.L().Debug("places search", zap.String("query", query), zap.Int("results", len(candidates)))
	return candidates, nil
}
