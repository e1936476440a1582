// Package enrich classifies FOUND leads by scraping their websites for a
// contact email.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/internal/store"
)

const (
	defaultConcurrency  = 4
	defaultFetchTimeout = 10 * time.Second
	maxDescription      = 300
)

// Store is the subset of the lead store used by enrichment.
type Store interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	UpdateLead(ctx context.Context, upd model.LeadUpdate) error
}

// Result summarizes one enrichment run.
type Result struct {
	Processed int `json:"processed"`
	Enriched  int `json:"enriched"`
	Missing   int `json:"missing"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Config tunes an Engine.
type Config struct {
	Concurrency  int
	FetchTimeout time.Duration
}

// Engine runs enrichment over all FOUND leads.
type Engine struct {
	store   Store
	fetcher scrape.Fetcher
	cfg     Config
	metrics *metrics.Metrics
}

// New creates an Engine, applying defaults to zero config values.
func New(st Store, f scrape.Fetcher, cfg Config, m *metrics.Metrics) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Engine{store: st, fetcher: f, cfg: cfg, metrics: m}
}

type fetchOutcome struct {
	page *scrape.Page
	err  error
}

// Run fetches every FOUND lead's website concurrently, then applies the
// resulting transitions one lead at a time in listing order.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "enrich"))

	leads, err := e.store.ListLeads(ctx, store.LeadFilter{
		Statuses: []model.LeadStatus{model.LeadStatusFound},
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list found leads")
	}
	res := &Result{Processed: len(leads)}
	if len(leads) == 0 {
		log.Info("no leads to enrich")
		return res, nil
	}

	outcomes := make([]fetchOutcome, len(leads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range leads {
		website := leads[i].Website
		if website == "" {
			continue
		}
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, e.cfg.FetchTimeout)
			defer cancel()
			page, err := e.fetcher.Fetch(fctx, website)
			outcomes[i] = fetchOutcome{page: page, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "enrich: canceled")
	}

	for i := range leads {
		lead := &leads[i]
		upd := classify(lead, outcomes[i])
		if outcomes[i].err != nil {
			log.Debug("fetch failed", zap.String("lead_id", lead.ID),
				zap.String("website", lead.Website), zap.Error(outcomes[i].err))
		}

		if err := e.store.UpdateLead(ctx, upd); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				res.Skipped++
				continue
			}
			log.Warn("enrich update failed", zap.String("lead_id", lead.ID), zap.Error(err))
			res.Failed++
			e.metrics.Enriched(metrics.OutcomeFailed)
			continue
		}

		if upd.To == model.LeadStatusEnriched {
			res.Enriched++
			e.metrics.Enriched(metrics.OutcomeEnriched)
		} else {
			res.Missing++
			e.metrics.Enriched(metrics.OutcomeMissing)
		}
	}

	log.Info("enrichment complete",
		zap.Int("processed", res.Processed),
		zap.Int("enriched", res.Enriched),
		zap.Int("missing", res.Missing),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// classify decides the transition for a FOUND lead from its fetch outcome.
func classify(lead *model.Lead, out fetchOutcome) model.LeadUpdate {
	upd := model.LeadUpdate{
		ID:     lead.ID,
		From:   model.LeadStatusFound,
		To:     model.LeadStatusMissingInfo,
		Reason: model.EventReasonMissingInfo,
	}

	switch {
	case lead.Website == "":
		upd.Detail = "no website"
		return upd
	case out.err != nil:
		upd.Detail = "fetch failed: " + out.err.Error()
		return upd
	case out.page == nil:
		upd.Detail = "empty page"
		return upd
	}

	email := ExtractEmail(out.page.Raw)
	if email == "" {
		upd.Detail = "no email found"
		return upd
	}

	upd.To = model.LeadStatusEnriched
	upd.Reason = model.EventReasonEnriched
	upd.Email = &email
	upd.Detail = email
	if desc := truncate(out.page.Summary(), maxDescription); desc != "" {
		upd.Description = &desc
	}
	return upd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
