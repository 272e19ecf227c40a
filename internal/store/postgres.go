package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-enrich/internal/db"
	"github.com/sells-group/profile-enrich/internal/enrich"
)

const profilesTable = "luma.linkedin_profiles"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with its own connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgEligibleSQL = `
SELECT g.luma_guest_api_id, COALESCE(g.guest_name, ''), g.linkedin_handle, COALESCE(lp.retry_count, 0)
FROM luma.guests g
LEFT JOIN luma.linkedin_profiles lp
  ON lp.luma_guest_api_id = g.luma_guest_api_id
 AND lp.linkedin_handle = g.linkedin_handle
WHERE g.linkedin_handle IS NOT NULL
  AND (lp.luma_guest_api_id IS NULL
       OR (lp.profile_found = false
           AND lp.retry_count < $2
           AND (lp.next_retry_after IS NULL OR lp.next_retry_after < $1)))
ORDER BY COALESCE(lp.retry_count, 0) ASC, lp.last_retry_at ASC NULLS FIRST, g.luma_guest_api_id ASC
LIMIT $3`

func (s *PostgresStore) SelectEligible(ctx context.Context, q enrich.EligibilityQuery) ([]enrich.Candidate, error) {
	rows, err := s.pool.Query(ctx, pgEligibleSQL, q.Now, q.Ceiling, q.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select eligible")
	}
	defer rows.Close()

	var out []enrich.Candidate
	for rows.Next() {
		var c enrich.Candidate
		if err := rows.Scan(&c.SubjectID, &c.DisplayName, &c.RawHandle, &c.RetryCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: select eligible iterate")
}

const pgByHandlesSQL = `
SELECT g.luma_guest_api_id, COALESCE(g.guest_name, ''), g.linkedin_handle, COALESCE(lp.retry_count, 0)
FROM luma.guests g
LEFT JOIN luma.linkedin_profiles lp
  ON lp.luma_guest_api_id = g.luma_guest_api_id
 AND lp.linkedin_handle = g.linkedin_handle
WHERE g.linkedin_handle IS NOT NULL
  AND lower(g.linkedin_handle) LIKE ANY($1)
  AND (lp.luma_guest_api_id IS NULL
       OR (lp.profile_found = false AND lp.retry_count < $2))
ORDER BY COALESCE(lp.retry_count, 0) ASC, g.luma_guest_api_id ASC`

func (s *PostgresStore) SelectByHandles(ctx context.Context, handles []string, ceiling int) ([]enrich.Candidate, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, pgByHandlesSQL, handlePatterns(handles), ceiling)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select by handles")
	}
	defer rows.Close()

	var out []enrich.Candidate
	for rows.Next() {
		var c enrich.Candidate
		if err := rows.Scan(&c.SubjectID, &c.DisplayName, &c.RawHandle, &c.RetryCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: select by handles iterate")
	}
	return keepHandles(out, handles), nil
}

// UpsertStates writes all states in one transaction keyed by
// (luma_guest_api_id, linkedin_handle).
func (s *PostgresStore) UpsertStates(ctx context.Context, states []enrich.State) (int64, error) {
	rows := make([][]any, len(states))
	for i, st := range states {
		rows[i] = stateValues(st)
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        profilesTable,
		Columns:      stateColumns,
		ConflictKeys: stateKeys,
		TouchCols:    touchColumns,
	}, rows)
}

func (s *PostgresStore) StartRun(ctx context.Context, sum *enrich.Summary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO luma.enrichment_runs (id, mode, status, started_at) VALUES ($1, $2, $3, $4)`,
		sum.RunID, sum.Mode, string(sum.Status), sum.StartedAt,
	)
	return eris.Wrap(err, "postgres: start run")
}

func (s *PostgresStore) FinishRun(ctx context.Context, sum *enrich.Summary) error {
	var errMsg *string
	if sum.Error != "" {
		errMsg = &sum.Error
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE luma.enrichment_runs
		 SET status = $2, attempted = $3, resolved = $4, unresolved = $5, new_count = $6,
		     retries = $7, skipped = $8, written = $9, error = $10, finished_at = $11
		 WHERE id = $1`,
		sum.RunID, string(sum.Status), sum.Attempted, sum.Resolved, sum.Unresolved, sum.New,
		sum.Retries, sum.Skipped, sum.Written, errMsg, sum.FinishedAt,
	)
	return eris.Wrap(err, "postgres: finish run")
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]enrich.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, mode, status, attempted, resolved, unresolved, new_count, retries, skipped,
		        written, COALESCE(error, ''), started_at, finished_at
		 FROM luma.enrichment_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []enrich.Summary
	for rows.Next() {
		var r enrich.Summary
		var status string
		if err := rows.Scan(&r.RunID, &r.Mode, &status, &r.Attempted, &r.Resolved, &r.Unresolved,
			&r.New, &r.Retries, &r.Skipped, &r.Written, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = enrich.RunStatus(status)
		setDuration(&r)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

const pgPhaseCountsSQL = `
SELECT
  count(*) FILTER (WHERE lp.luma_guest_api_id IS NULL),
  count(*) FILTER (WHERE lp.profile_found),
  count(*) FILTER (WHERE NOT lp.profile_found AND lp.retry_count < $2 AND lp.next_retry_after >= $1),
  count(*) FILTER (WHERE NOT lp.profile_found AND lp.retry_count < $2
                     AND (lp.next_retry_after IS NULL OR lp.next_retry_after < $1)),
  count(*) FILTER (WHERE NOT lp.profile_found AND lp.retry_count >= $2)
FROM luma.guests g
LEFT JOIN luma.linkedin_profiles lp
  ON lp.luma_guest_api_id = g.luma_guest_api_id
 AND lp.linkedin_handle = g.linkedin_handle
WHERE g.linkedin_handle IS NOT NULL`

func (s *PostgresStore) PhaseCounts(ctx context.Context, now time.Time, ceiling int) (map[enrich.Phase]int, error) {
	var unattempted, found, backingOff, due, exhausted int
	if err := s.pool.QueryRow(ctx, pgPhaseCountsSQL, now, ceiling).
		Scan(&unattempted, &found, &backingOff, &due, &exhausted); err != nil {
		return nil, eris.Wrap(err, "postgres: phase counts")
	}
	return map[enrich.Phase]int{
		enrich.PhaseUnattempted: unattempted,
		enrich.PhaseFound:       found,
		enrich.PhaseBackingOff:  backingOff,
		enrich.PhaseDue:         due,
		enrich.PhaseExhausted:   exhausted,
	}, nil
}

const pgFoundSQL = `
SELECT lp.luma_guest_api_id, COALESCE(g.guest_name, ''), lp.linkedin_handle,
       lp.full_name, lp.headline, lp.job_title, lp.company_name, lp.address_with_country,
       lp.linkedin_url, lp.connections, lp.followers, lp.last_refreshed_at
FROM luma.linkedin_profiles lp
LEFT JOIN luma.guests g ON g.luma_guest_api_id = lp.luma_guest_api_id
WHERE lp.profile_found
ORDER BY lp.luma_guest_api_id, lp.linkedin_handle`

func (s *PostgresStore) ListFoundProfiles(ctx context.Context) ([]FoundProfile, error) {
	rows, err := s.pool.Query(ctx, pgFoundSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list found profiles")
	}
	defer rows.Close()

	var out []FoundProfile
	for rows.Next() {
		var p FoundProfile
		var fullName, headline, jobTitle, company, location, url *string
		if err := rows.Scan(&p.SubjectID, &p.GuestName, &p.Handle, &fullName, &headline, &jobTitle,
			&company, &location, &url, &p.Connections, &p.Followers, &p.LastRefreshedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan found profile")
		}
		p.FullName, p.Headline, p.JobTitle = str(fullName), str(headline), str(jobTitle)
		p.CompanyName, p.Location, p.LinkedinURL = str(company), str(location), str(url)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list found profiles iterate")
}

func setDuration(r *enrich.Summary) {
	if r.FinishedAt != nil {
		r.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
	}
}
