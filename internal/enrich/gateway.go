package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-enrich/internal/resilience"
	"github.com/sells-group/profile-enrich/pkg/apify"
)

// Gateway fetches LinkedIn profiles for a set of profile URLs. It may return
// fewer profiles than URLs, in any order.
type Gateway interface {
	FetchProfiles(ctx context.Context, urls []string) ([]Profile, error)
}

// GatewayOption configures an ApifyGateway.
type GatewayOption func(*ApifyGateway)

// WithRetry overrides the retry policy for individual API calls.
func WithRetry(cfg resilience.RetryConfig) GatewayOption {
	return func(g *ApifyGateway) {
		g.retry = cfg
	}
}

// WithBreaker overrides the circuit breaker guarding whole lookups.
func WithBreaker(cb *resilience.CircuitBreaker) GatewayOption {
	return func(g *ApifyGateway) {
		g.breaker = cb
	}
}

// WithPollOptions passes options through to apify.PollRun.
func WithPollOptions(opts ...apify.PollOption) GatewayOption {
	return func(g *ApifyGateway) {
		g.poll = append(g.poll, opts...)
	}
}

// ApifyGateway runs the LinkedIn profile scraper actor and reads its dataset.
type ApifyGateway struct {
	client  apify.Client
	actorID string
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	poll    []apify.PollOption
}

type actorInput struct {
	ProfileURLs []string `json:"profileUrls"`
}

// NewApifyGateway creates a gateway for the given actor.
func NewApifyGateway(client apify.Client, actorID string, opts ...GatewayOption) *ApifyGateway {
	g := &ApifyGateway{
		client:  client,
		actorID: actorID,
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("enrich: apify circuit state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.LogRetry("apify")
	}
	return g
}

// FetchProfiles starts one actor run for urls and returns the decoded
// dataset. Any failure is reported as ErrGatewayUnavailable. Items that do
// not decode as profiles are skipped.
func (g *ApifyGateway) FetchProfiles(ctx context.Context, urls []string) ([]Profile, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	items, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]json.RawMessage, error) {
		return g.fetch(ctx, urls)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	profiles := make([]Profile, 0, len(items))
	for i, item := range items {
		var p Profile
		if err := json.Unmarshal(item, &p); err != nil {
			zap.L().Warn("enrich: skipping undecodable profile", zap.Int("index", i), zap.Error(err))
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (g *ApifyGateway) fetch(ctx context.Context, urls []string) ([]json.RawMessage, error) {
	// Starting a run is not idempotent: a POST that timed out may still have
	// started a billed run, so only explicit API rejections are retried.
	start := g.retry
	start.ShouldRetry = rejectedByAPI
	run, err := resilience.DoVal(ctx, start, func(ctx context.Context) (*apify.Run, error) {
		return g.client.StartRun(ctx, g.actorID, actorInput{ProfileURLs: urls})
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("enrich: apify run started", zap.String("apify_run_id", run.ID), zap.Int("urls", len(urls)))

	if !run.Terminal() {
		run, err = apify.PollRun(ctx, g.client, run.ID, g.poll...)
		if err != nil {
			return nil, err
		}
	} else if run.Status != apify.StatusSucceeded {
		return nil, eris.Errorf("apify: run %s ended %s", run.ID, run.Status)
	}

	return resilience.DoVal(ctx, g.retry, func(ctx context.Context) ([]json.RawMessage, error) {
		return g.client.DatasetItems(ctx, run.DefaultDatasetID)
	})
}

// rejectedByAPI reports whether Apify answered with a retryable status,
// which means the request was refused rather than lost in transit.
func rejectedByAPI(err error) bool {
	var apiErr *apify.APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}
