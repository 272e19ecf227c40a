package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-enrich/internal/config"
	"github.com/sells-group/profile-enrich/internal/enrich"
	"github.com/sells-group/profile-enrich/internal/store"
	"github.com/sells-group/profile-enrich/pkg/apify"
)

// initStore opens the configured store and applies pending migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	zap.L().Debug("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

// newGateway builds the Apify-backed profile gateway from config.
func newGateway(c config.ApifyConfig) enrich.Gateway {
	opts := []apify.Option{apify.WithRateLimit(c.RequestsPerSec)}
	if c.BaseURL != "" {
		opts = append(opts, apify.WithBaseURL(c.BaseURL))
	}
	client := apify.NewClient(c.Token, opts...)

	var poll []apify.PollOption
	if c.PollIntervalSecs > 0 {
		poll = append(poll, apify.WithPollInterval(time.Duration(c.PollIntervalSecs)*time.Second))
	}
	if c.WaitTimeoutSecs > 0 {
		poll = append(poll, apify.WithPollTimeout(time.Duration(c.WaitTimeoutSecs)*time.Second))
	}
	return enrich.NewApifyGateway(client, c.ActorID, enrich.WithPollOptions(poll...))
}

// runnerOptions maps enrich config onto runner options.
func runnerOptions(c config.EnrichConfig) []enrich.Option {
	return []enrich.Option{
		enrich.WithPolicy(enrich.Policy{
			Ceiling:     c.RetryCeiling,
			BackoffUnit: time.Duration(c.BackoffUnitMins) * time.Minute,
		}),
		enrich.WithChunkSize(c.ChunkSize),
		enrich.WithConcurrency(c.LookupConcurrency),
		enrich.WithLookupTimeout(time.Duration(c.LookupTimeoutSecs) * time.Second),
		enrich.WithOutageConsumesRetry(c.OutageConsumesRetry),
	}
}

// newRunner wires a runner over st. rec may be nil.
func newRunner(st store.Store, gw enrich.Gateway, rec enrich.Recorder) *enrich.Runner {
	opts := runnerOptions(cfg.Enrich)
	opts = append(opts, enrich.WithRunLog(st))
	if rec != nil {
		opts = append(opts, enrich.WithRecorder(rec))
	}
	return enrich.NewRunner(st, gw, opts...)
}
