// Package ingest turns search candidates into FOUND leads, skipping any
// website already on file.
package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
)

// Store is the subset of the lead store used by ingestion.
type Store interface {
	WebsiteExists(ctx context.Context, website string) (bool, error)
	InsertLead(ctx context.Context, lead *model.Lead) (bool, error)
}

// Searcher finds lead candidates for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.Candidate, error)
}

// Result summarizes one ingestion batch.
type Result struct {
	Candidates int `json:"candidates"`
	Created    int `json:"created"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Ingester persists candidates as new leads.
type Ingester struct {
	store    Store
	searcher Searcher
	metrics  *metrics.Metrics
}

// New creates an Ingester. searcher may be nil when only Ingest is used.
func New(store Store, searcher Searcher, m *metrics.Metrics) *Ingester {
	return &Ingester{store: store, searcher: searcher, metrics: m}
}

// Run searches for query and ingests the results. Candidates from pages
// fetched before a search error are still ingested; the result and the
// error are both returned.
func (i *Ingester) Run(ctx context.Context, query string) (*Result, error) {
	if i.searcher == nil {
		return nil, eris.New("ingest: no searcher configured")
	}
	candidates, err := i.searcher.Search(ctx, query)
	if err != nil {
		if len(candidates) == 0 {
			return nil, eris.Wrapf(err, "ingest: search %q", query)
		}
		zap.L().Warn("search failed part way, ingesting partial results",
			zap.String("query", query), zap.Int("candidates", len(candidates)), zap.Error(err))
		res, ingestErr := i.Ingest(ctx, candidates)
		if ingestErr != nil {
			return res, ingestErr
		}
		return res, eris.Wrapf(err, "ingest: search %q", query)
	}
	zap.L().Info("search complete", zap.String("query", query), zap.Int("candidates", len(candidates)))
	return i.Ingest(ctx, candidates)
}

// Ingest inserts each candidate as a FOUND lead unless a lead with the same
// website exists. Per-candidate store failures are logged and counted.
// Only context cancellation aborts the batch.
func (i *Ingester) Ingest(ctx context.Context, candidates []model.Candidate) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest"))
	res := &Result{Candidates: len(candidates)}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "ingest: canceled")
		}

		lead := normalize(c)

		if lead.Website != "" {
			exists, err := i.store.WebsiteExists(ctx, lead.Website)
			if err != nil {
				log.Warn("website lookup failed", zap.String("website", lead.Website), zap.Error(err))
				res.Failed++
				i.metrics.Ingested(metrics.OutcomeFailed)
				continue
			}
			if exists {
				res.Skipped++
				i.metrics.Ingested(metrics.OutcomeSkipped)
				continue
			}
		}

		created, err := i.store.InsertLead(ctx, lead)
		if err != nil {
			log.Warn("insert lead failed", zap.String("clinic", lead.ClinicName), zap.Error(err))
			res.Failed++
			i.metrics.Ingested(metrics.OutcomeFailed)
			continue
		}
		if !created {
			// Lost a race on the unique website column.
			res.Skipped++
			i.metrics.Ingested(metrics.OutcomeSkipped)
			continue
		}

		res.Created++
		i.metrics.Ingested(metrics.OutcomeCreated)
		log.Debug("lead created", zap.String("lead_id", lead.ID), zap.String("website", lead.Website))
	}

	log.Info("ingest complete",
		zap.Int("candidates", res.Candidates),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func normalize(c model.Candidate) *model.Lead {
	clinic := strings.TrimSpace(c.ClinicName)
	name := strings.TrimSpace(c.Name)
	if clinic == "" {
		clinic = name
	}
	return &model.Lead{
		Name:       name,
		ClinicName: clinic,
		Website:    strings.TrimSpace(c.Website),
		Phone:      strings.TrimSpace(c.Phone),
	}
}
