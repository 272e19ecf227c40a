package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/profile-enrich/internal/enrich"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix milliseconds so range predicates compare numerically.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// sqliteDSN appends sqlitePragmas to dsn as _pragma query parameters.
func sqliteDSN(dsn string) string {
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// NewSQLite opens a SQLite database at the given path in WAL mode with a
// busy timeout on every connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS guests (
	luma_guest_api_id TEXT PRIMARY KEY,
	guest_name        TEXT,
	linkedin_handle   TEXT
);

CREATE TABLE IF NOT EXISTS linkedin_profiles (
	luma_guest_api_id            TEXT    NOT NULL,
	linkedin_handle              TEXT    NOT NULL,
	record_source                TEXT    NOT NULL,
	profile_found                INTEGER NOT NULL DEFAULT 0,
	profile_fetch_message        TEXT,
	full_name                    TEXT,
	first_name                   TEXT,
	last_name                    TEXT,
	headline                     TEXT,
	about                        TEXT,
	public_identifier            TEXT,
	linkedin_url                 TEXT,
	connections                  INTEGER,
	followers                    INTEGER,
	job_title                    TEXT,
	company_name                 TEXT,
	company_industry             TEXT,
	company_website              TEXT,
	company_linkedin             TEXT,
	company_founded_in           INTEGER,
	company_size                 TEXT,
	current_job_duration_yrs     REAL,
	address_with_country         TEXT,
	address_country_only         TEXT,
	address_without_country      TEXT,
	profile_pic_url              TEXT,
	profile_pic_high_quality_url TEXT,
	top_skills_by_endorsements   TEXT,
	profile_data                 TEXT,
	retry_count                  INTEGER NOT NULL DEFAULT 0,
	last_retry_at                INTEGER,
	next_retry_after             INTEGER,
	last_refreshed_at            INTEGER NOT NULL,
	_created_at                  INTEGER NOT NULL,
	_updated_at                  INTEGER NOT NULL,
	PRIMARY KEY (luma_guest_api_id, linkedin_handle)
);

CREATE TABLE IF NOT EXISTS enrichment_runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	attempted   INTEGER NOT NULL DEFAULT 0,
	resolved    INTEGER NOT NULL DEFAULT 0,
	unresolved  INTEGER NOT NULL DEFAULT 0,
	new_count   INTEGER NOT NULL DEFAULT 0,
	retries     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	written     INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_linkedin_profiles_pending ON linkedin_profiles(profile_found, retry_count, last_retry_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_runs_started_at ON enrichment_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteCandidateCols = `
SELECT g.luma_guest_api_id, COALESCE(g.guest_name, ''), g.linkedin_handle, COALESCE(lp.retry_count, 0)
FROM guests g
LEFT JOIN linkedin_profiles lp
  ON lp.luma_guest_api_id = g.luma_guest_api_id
 AND lp.linkedin_handle = g.linkedin_handle
WHERE g.linkedin_handle IS NOT NULL`

func (s *SQLiteStore) SelectEligible(ctx context.Context, q enrich.EligibilityQuery) ([]enrich.Candidate, error) {
	query := sqliteCandidateCols + `
  AND (lp.luma_guest_api_id IS NULL
       OR (lp.profile_found = 0
           AND lp.retry_count < ?
           AND (lp.next_retry_after IS NULL OR lp.next_retry_after < ?)))
ORDER BY COALESCE(lp.retry_count, 0) ASC, lp.last_retry_at ASC NULLS FIRST, g.luma_guest_api_id ASC
LIMIT ?`
	cands, err := s.queryCandidates(ctx, query, q.Ceiling, q.Now.UnixMilli(), q.Limit)
	return cands, eris.Wrap(err, "sqlite: select eligible")
}

func (s *SQLiteStore) SelectByHandles(ctx context.Context, handles []string, ceiling int) ([]enrich.Candidate, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	pats := handlePatterns(handles)
	likes := make([]string, len(pats))
	args := make([]any, 0, len(pats)+1)
	for i, p := range pats {
		likes[i] = "lower(g.linkedin_handle) LIKE ?"
		args = append(args, p)
	}
	args = append(args, ceiling)

	query := sqliteCandidateCols + `
  AND (` + strings.Join(likes, " OR ") + `)
  AND (lp.luma_guest_api_id IS NULL OR (lp.profile_found = 0 AND lp.retry_count < ?))
ORDER BY COALESCE(lp.retry_count, 0) ASC, g.luma_guest_api_id ASC`
	cands, err := s.queryCandidates(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select by handles")
	}
	return keepHandles(cands, handles), nil
}

func (s *SQLiteStore) queryCandidates(ctx context.Context, query string, args ...any) ([]enrich.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []enrich.Candidate
	for rows.Next() {
		var c enrich.Candidate
		if err := rows.Scan(&c.SubjectID, &c.DisplayName, &c.RawHandle, &c.RetryCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertStates writes all states in one transaction keyed by
// (luma_guest_api_id, linkedin_handle).
func (s *SQLiteStore) UpsertStates(ctx context.Context, states []enrich.State) (int64, error) {
	if len(states) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UnixMilli()
	var n int64
	for _, st := range states {
		vals := stateValues(st)
		args := make([]any, 0, len(vals)+3)
		for _, v := range vals {
			args = append(args, sqliteValue(v))
		}
		args = append(args, now, now, now)

		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert %s %s", st.SubjectID, st.RawHandle)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert: commit")
	}
	return n, nil
}

func sqliteUpsertSQL() string {
	cols := append(append([]string{}, stateColumns...), touchColumns...)
	cols = append(cols, "_created_at")

	var set []string
	for _, c := range stateColumns[len(stateKeys):] {
		set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	for _, c := range touchColumns {
		set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf(
		"INSERT INTO linkedin_profiles (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(stateKeys, ", "),
		strings.Join(set, ", "),
	)
}

// sqliteValue converts a stateValues entry to a driver value SQLite stores
// the way the schema expects.
func sqliteValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UnixMilli()
	case json.RawMessage:
		return string(t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *int:
		if t == nil {
			return nil
		}
		return *t
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}

func (s *SQLiteStore) StartRun(ctx context.Context, sum *enrich.Summary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		sum.RunID, sum.Mode, string(sum.Status), sum.StartedAt.UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: start run")
}

func (s *SQLiteStore) FinishRun(ctx context.Context, sum *enrich.Summary) error {
	var errMsg any
	if sum.Error != "" {
		errMsg = sum.Error
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_runs
		 SET status = ?, attempted = ?, resolved = ?, unresolved = ?, new_count = ?,
		     retries = ?, skipped = ?, written = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(sum.Status), sum.Attempted, sum.Resolved, sum.Unresolved, sum.New,
		sum.Retries, sum.Skipped, sum.Written, errMsg, sqliteValue(sum.FinishedAt), sum.RunID,
	)
	return eris.Wrap(err, "sqlite: finish run")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]enrich.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, status, attempted, resolved, unresolved, new_count, retries, skipped,
		        written, COALESCE(error, ''), started_at, finished_at
		 FROM enrichment_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []enrich.Summary
	for rows.Next() {
		var r enrich.Summary
		var status string
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Mode, &status, &r.Attempted, &r.Resolved, &r.Unresolved,
			&r.New, &r.Retries, &r.Skipped, &r.Written, &r.Error, &started, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = enrich.RunStatus(status)
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &t
		}
		setDuration(&r)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

const sqlitePhaseCountsSQL = `
SELECT
  COALESCE(SUM(CASE WHEN lp.luma_guest_api_id IS NULL THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN lp.profile_found = 1 THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN lp.profile_found = 0 AND lp.retry_count < ?1 AND lp.next_retry_after >= ?2 THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN lp.profile_found = 0 AND lp.retry_count < ?1
                     AND (lp.next_retry_after IS NULL OR lp.next_retry_after < ?2) THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN lp.profile_found = 0 AND lp.retry_count >= ?1 THEN 1 ELSE 0 END), 0)
FROM guests g
LEFT JOIN linkedin_profiles lp
  ON lp.luma_guest_api_id = g.luma_guest_api_id
 AND lp.linkedin_handle = g.linkedin_handle
WHERE g.linkedin_handle IS NOT NULL`

func (s *SQLiteStore) PhaseCounts(ctx context.Context, now time.Time, ceiling int) (map[enrich.Phase]int, error) {
	var unattempted, found, backingOff, due, exhausted int
	if err := s.db.QueryRowContext(ctx, sqlitePhaseCountsSQL, ceiling, now.UnixMilli()).
		Scan(&unattempted, &found, &backingOff, &due, &exhausted); err != nil {
		return nil, eris.Wrap(err, "sqlite: phase counts")
	}
	return map[enrich.Phase]int{
		enrich.PhaseUnattempted: unattempted,
		enrich.PhaseFound:       found,
		enrich.PhaseBackingOff:  backingOff,
		enrich.PhaseDue:         due,
		enrich.PhaseExhausted:   exhausted,
	}, nil
}

func (s *SQLiteStore) ListFoundProfiles(ctx context.Context) ([]FoundProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT lp.luma_guest_api_id, COALESCE(g.guest_name, ''), lp.linkedin_handle,
       lp.full_name, lp.headline, lp.job_title, lp.company_name, lp.address_with_country,
       lp.linkedin_url, lp.connections, lp.followers, lp.last_refreshed_at
FROM linkedin_profiles lp
LEFT JOIN guests g ON g.luma_guest_api_id = lp.luma_guest_api_id
WHERE lp.profile_found = 1
ORDER BY lp.luma_guest_api_id, lp.linkedin_handle`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list found profiles")
	}
	defer rows.Close() //nolint:errcheck

	var out []FoundProfile
	for rows.Next() {
		var p FoundProfile
		var fullName, headline, jobTitle, company, location, url sql.NullString
		var conns, followers sql.NullInt64
		var refreshed int64
		if err := rows.Scan(&p.SubjectID, &p.GuestName, &p.Handle, &fullName, &headline, &jobTitle,
			&company, &location, &url, &conns, &followers, &refreshed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan found profile")
		}
		p.FullName, p.Headline, p.JobTitle = fullName.String, headline.String, jobTitle.String
		p.CompanyName, p.Location, p.LinkedinURL = company.String, location.String, url.String
		p.Connections = nullInt(conns)
		p.Followers = nullInt(followers)
		p.LastRefreshedAt = time.UnixMilli(refreshed).UTC()
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list found profiles iterate")
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
