package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/delivery"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/ingest"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/internal/store"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/google"
)

// appEnv holds the store and the pipeline stages built from config.
type appEnv struct {
	Store     store.Store
	Metrics   *metrics.Metrics
	Ingester  *ingest.Ingester // nil without a Google key
	Enricher  *enrich.Engine
	Composer  *compose.Composer
	Executor  *delivery.Executor
	Outreach  *outreach.Service
	Scheduler *scheduler.Scheduler
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the configured store and migrates it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initApp validates cfg for scope and wires every stage. Callers should
// defer env.Close().
func initApp(ctx context.Context, scope config.Scope) (*appEnv, error) {
	if err := cfg.Validate(scope); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	env := &appEnv{Store: st, Metrics: m}

	if cfg.Google.Key != "" {
		gc := google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
		searcher := ingest.NewPlacesSearcher(gc, cfg.Google.MaxPages, cfg.Google.RateLimit).
			WithRetry(resilience.RetryFromConfig(cfg.Google.RetryAttempts, cfg.Google.RetryBackoffMs))
		env.Ingester = ingest.New(st, searcher, m)
	}

	fetcher := scrape.NewLocalFetcher(
		scrape.WithTimeout(cfg.Enrich.FetchTimeout()),
		scrape.WithUserAgent(cfg.Enrich.UserAgent),
		scrape.WithRateLimit(cfg.Enrich.RateLimit),
	)
	env.Enricher = enrich.New(st, fetcher, enrich.Config{
		Concurrency:  cfg.Enrich.Concurrency,
		FetchTimeout: cfg.Enrich.FetchTimeout(),
	}, m)

	comp, err := initComposer(m)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Composer = comp

	transport := delivery.NewSMTPTransport(delivery.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
		Timeout:   cfg.SMTP.Timeout(),
	})
	env.Executor = delivery.NewExecutor(st, transport, m)
	env.Outreach = outreach.New(st, comp, env.Executor)

	sched, err := scheduler.New(st, comp, env.Executor, scheduler.Cadence{
		FollowUpIntervalDays: cfg.Cadence.FollowUpIntervalDays,
		CloseAfterDays:       cfg.Cadence.CloseAfterDays,
		MaxFollowUps:         cfg.Cadence.MaxFollowUps,
	}, m)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init scheduler")
	}
	env.Scheduler = sched

	return env, nil
}

func initComposer(m *metrics.Metrics) (*compose.Composer, error) {
	tmpl, err := compose.LoadTemplates(cfg.Compose.TemplatesPath)
	if err != nil {
		return nil, err
	}

	var provider compose.Provider
	if cfg.Anthropic.Key != "" {
		breakerCfg := resilience.BreakerFromConfig("anthropic", cfg.Anthropic.BreakerThreshold, cfg.Anthropic.BreakerResetSecs)
		breakerCfg.ShouldTrip = func(err error) bool { return !errors.Is(err, context.Canceled) }
		provider = compose.NewAnthropicProvider(anthropicpkg.NewClient(cfg.Anthropic.Key), compose.AnthropicConfig{
			APIKey:    cfg.Anthropic.Key,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			Timeout:   cfg.Anthropic.Timeout(),
			Breaker:   resilience.NewBreaker(breakerCfg),
		})
	} else {
		zap.L().Info("anthropic key not set, using template openings")
	}

	return compose.New(provider, compose.Options{
		SenderName: cfg.Compose.SenderName,
		Templates:  tmpl,
	}, m)
}
