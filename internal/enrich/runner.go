// Package enrich selects guests due for a LinkedIn lookup, matches the
// scraper's results back to them and records found profiles or retry state.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profile-enrich/internal/db"
)

// EligibilityQuery parameterizes candidate selection.
type EligibilityQuery struct {
	Limit   int
	Now     time.Time
	Ceiling int
}

// Store is the persistence the runner reads candidates from and writes
// states to.
type Store interface {
	// SelectEligible returns up to Limit guests due for an attempt, fewest
	// retries first, then oldest attempt first.
	SelectEligible(ctx context.Context, q EligibilityQuery) ([]Candidate, error)
	// SelectByHandles returns guests whose handle normalizes to one of
	// handles and whose row is neither found nor exhausted. Backoff windows
	// are ignored.
	SelectByHandles(ctx context.Context, handles []string, ceiling int) ([]Candidate, error)
	// UpsertStates writes states keyed by (subject, raw handle).
	UpsertStates(ctx context.Context, states []State) (int64, error)
}

// RunLog records run lifecycle. Failures to write it never fail a run.
type RunLog interface {
	StartRun(ctx context.Context, s *Summary) error
	FinishRun(ctx context.Context, s *Summary) error
}

// Recorder receives a finished run for metrics.
type Recorder interface {
	RecordRun(ctx context.Context, s *Summary, elapsed time.Duration)
}

// Option configures a Runner.
type Option func(*Runner)

// WithPolicy sets the retry ceiling and backoff unit.
func WithPolicy(p Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithChunkSize caps the URLs sent in one gateway call.
func WithChunkSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithConcurrency caps concurrent gateway calls.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLookupTimeout bounds each gateway call.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// WithOutageConsumesRetry controls whether candidates in a failed gateway
// call get a failure record (true) or are left untouched for the next run.
func WithOutageConsumesRetry(v bool) Option {
	return func(r *Runner) { r.outageConsumesRetry = v }
}

// WithRunLog records each run's lifecycle.
func WithRunLog(l RunLog) Option {
	return func(r *Runner) { r.runLog = l }
}

// WithRecorder reports finished runs to a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes enrichment runs.
type Runner struct {
	store   Store
	gateway Gateway

	policy              Policy
	chunkSize           int
	concurrency         int
	lookupTimeout       time.Duration
	outageConsumesRetry bool

	runLog   RunLog
	recorder Recorder
	now      func() time.Time
}

// NewRunner creates a Runner with the default policy: ceiling 3, 5 minute
// backoff unit, 25 URLs per gateway call, 2 calls at once.
func NewRunner(store Store, gateway Gateway, opts ...Option) *Runner {
	r := &Runner{
		store:               store,
		gateway:             gateway,
		policy:              DefaultPolicy(),
		chunkSize:           25,
		concurrency:         2,
		lookupTimeout:       10 * time.Minute,
		outageConsumesRetry: true,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the runner's retry policy.
func (r *Runner) Policy() Policy {
	return r.policy
}

// Run enriches up to batchSize eligible guests.
func (r *Runner) Run(ctx context.Context, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		return nil, eris.Wrapf(ErrInvalidBatchSize, "got %d", batchSize)
	}
	return r.execute(ctx, "batch", func(ctx context.Context) ([]Candidate, error) {
		return r.store.SelectEligible(ctx, EligibilityQuery{
			Limit:   batchSize,
			Now:     r.now(),
			Ceiling: r.policy.Ceiling,
		})
	})
}

// RunHandles enriches the guests with the given handles, skipping the
// backoff window but not the retry ceiling.
func (r *Runner) RunHandles(ctx context.Context, handles []string) (*Summary, error) {
	keys, err := normalizeAll(handles)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, "manual", func(ctx context.Context) ([]Candidate, error) {
		return r.store.SelectByHandles(ctx, keys, r.policy.Ceiling)
	})
}

// Preview returns the candidates a batch run would pick right now.
func (r *Runner) Preview(ctx context.Context, batchSize int) ([]Candidate, error) {
	if batchSize <= 0 {
		return nil, eris.Wrapf(ErrInvalidBatchSize, "got %d", batchSize)
	}
	cands, err := r.store.SelectEligible(ctx, EligibilityQuery{
		Limit:   batchSize,
		Now:     r.now(),
		Ceiling: r.policy.Ceiling,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	return cands, nil
}

func normalizeAll(handles []string) ([]string, error) {
	if len(handles) == 0 {
		return nil, eris.New("enrich: no handles given")
	}
	seen := make(map[string]bool, len(handles))
	keys := make([]string, 0, len(handles))
	for _, h := range handles {
		k, err := NormalizeHandle(h)
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}

type selectFunc func(ctx context.Context) ([]Candidate, error)

func (r *Runner) execute(ctx context.Context, mode string, sel selectFunc) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Status:    RunRunning,
		StartedAt: r.now(),
	}
	log := zap.L().With(zap.String("run_id", sum.RunID), zap.String("mode", mode))

	if r.runLog != nil {
		if err := r.runLog.StartRun(ctx, sum); err != nil {
			log.Warn("enrich: failed to record run start", zap.Error(err))
		}
	}

	candidates, err := sel(ctx)
	if err != nil {
		return r.finish(ctx, sum, log, fmt.Errorf("%w: select candidates: %w", ErrPersistenceUnavailable, err))
	}

	sum.Attempted = len(candidates)
	for _, c := range candidates {
		if c.RetryCount == 0 {
			sum.New++
		} else {
			sum.Retries++
		}
	}
	log.Info("enrich: candidates selected",
		zap.Int("candidates", sum.Attempted),
		zap.Int("new", sum.New),
		zap.Int("retries", sum.Retries),
	)
	if len(candidates) == 0 {
		return r.finish(ctx, sum, log, nil)
	}

	profiles, skipped := r.lookup(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return r.finish(ctx, sum, log, eris.Wrap(err, "enrich: lookup interrupted"))
	}

	pending := candidates
	if len(skipped) > 0 {
		pending = withoutSkipped(candidates, skipped)
		sum.Skipped = len(candidates) - len(pending)
	}

	matched, unmatched := Partition(pending, IndexProfiles(profiles))
	sum.Resolved = len(matched)
	sum.Unresolved = len(unmatched)

	now := r.now()
	states := make([]State, 0, len(matched)+len(unmatched))
	for _, m := range matched {
		states = append(states, BuildResolved(m.Profile, m.Candidate))
	}
	for _, c := range unmatched {
		states = append(states, BuildUnresolved(c, now, r.policy))
	}

	if len(states) > 0 {
		n, err := r.store.UpsertStates(ctx, states)
		if err != nil {
			if errors.Is(err, db.ErrInvalidUpsertConfig) {
				return r.finish(ctx, sum, log, err)
			}
			return r.finish(ctx, sum, log, fmt.Errorf("%w: upsert states: %w", ErrPersistenceUnavailable, err))
		}
		sum.Written = n
	}
	return r.finish(ctx, sum, log, nil)
}

// chunk is one gateway call's worth of candidates.
type chunk struct {
	urls    []string
	members []Candidate
}

// lookup fans candidates out over the gateway in chunks. A failed chunk
// contributes no profiles; when outages do not consume a retry, its
// candidates are returned as skipped.
func (r *Runner) lookup(ctx context.Context, candidates []Candidate) ([]Profile, map[string]bool) {
	var chunks []chunk
	cur := chunk{}
	for _, c := range candidates {
		u, err := ProfileURL(c.RawHandle)
		if err != nil {
			// Never sent; Partition marks it unmatched.
			continue
		}
		cur.urls = append(cur.urls, u)
		cur.members = append(cur.members, c)
		if len(cur.urls) == r.chunkSize {
			chunks = append(chunks, cur)
			cur = chunk{}
		}
	}
	if len(cur.urls) > 0 {
		chunks = append(chunks, cur)
	}

	results := make([][]Profile, len(chunks))
	failed := make([]bool, len(chunks))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, ch := range chunks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
			defer cancel()

			profiles, err := r.gateway.FetchProfiles(cctx, ch.urls)
			if err != nil {
				zap.L().Warn("enrich: lookup failed, treating as empty",
					zap.Int("chunk", i),
					zap.Int("urls", len(ch.urls)),
					zap.Error(err),
				)
				failed[i] = true
				return nil
			}
			results[i] = profiles
			return nil
		})
	}
	_ = g.Wait()

	var all []Profile
	var skipped map[string]bool
	for i, ch := range chunks {
		all = append(all, results[i]...)
		if failed[i] && !r.outageConsumesRetry {
			if skipped == nil {
				skipped = make(map[string]bool)
			}
			for _, c := range ch.members {
				skipped[stateKey(c)] = true
			}
		}
	}
	return all, skipped
}

func stateKey(c Candidate) string {
	return c.SubjectID + "\x00" + c.RawHandle
}

func withoutSkipped(candidates []Candidate, skipped map[string]bool) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !skipped[stateKey(c)] {
			out = append(out, c)
		}
	}
	return out
}

func (r *Runner) finish(ctx context.Context, sum *Summary, log *zap.Logger, runErr error) (*Summary, error) {
	end := r.now()
	elapsed := end.Sub(sum.StartedAt)
	sum.FinishedAt = &end
	sum.Duration = elapsed.Round(time.Millisecond).String()
	sum.Status = RunComplete
	if runErr != nil {
		sum.Status = RunFailed
		sum.Error = runErr.Error()
	}

	// The run may have been cancelled; bookkeeping still gets written.
	bg := context.WithoutCancel(ctx)
	if r.runLog != nil {
		if err := r.runLog.FinishRun(bg, sum); err != nil {
			log.Warn("enrich: failed to record run finish", zap.Error(err))
		}
	}
	if r.recorder != nil {
		r.recorder.RecordRun(bg, sum, elapsed)
	}

	if runErr != nil {
		log.Error("enrich: run failed", zap.Error(runErr))
		return sum, runErr
	}
	log.Info("enrich: run complete",
		zap.Int("attempted", sum.Attempted),
		zap.Int("resolved", sum.Resolved),
		zap.Int("unresolved", sum.Unresolved),
		zap.Int("skipped", sum.Skipped),
		zap.Int64("written", sum.Written),
		zap.String("duration", sum.Duration),
	)
	return sum, nil
}

// RunEvery runs a batch immediately and then on every tick until ctx is
// done. Failed runs are logged and handed to after; they do not stop the
// loop.
func (r *Runner) RunEvery(ctx context.Context, interval time.Duration, batchSize int, after func(context.Context, *Summary, error)) error {
	if interval <= 0 {
		return eris.New("enrich: interval must be positive")
	}
	if batchSize <= 0 {
		return eris.Wrapf(ErrInvalidBatchSize, "got %d", batchSize)
	}

	log := zap.L().With(zap.String("component", "enrich.loop"))
	log.Info("enrich: starting scheduled runs", zap.Duration("interval", interval), zap.Int("batch_size", batchSize))

	tick := func() {
		sum, err := r.Run(ctx, batchSize)
		if after != nil {
			after(ctx, sum, err)
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("enrich: scheduled runs stopped")
			return nil
		case <-ticker.C:
			tick()
		}
	}
}
