// Package store persists guests' LinkedIn enrichment state in Postgres or
// SQLite.
package store

import (
	"context"
	"time"

	"github.com/sells-group/profile-enrich/internal/enrich"
)

// Store is everything the CLI needs from persistence.
type Store interface {
	enrich.Store
	enrich.RunLog

	// PhaseCounts returns how many guests with a handle sit in each phase.
	PhaseCounts(ctx context.Context, now time.Time, ceiling int) (map[enrich.Phase]int, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]enrich.Summary, error)
	// ListFoundProfiles returns every found profile for export.
	ListFoundProfiles(ctx context.Context) ([]FoundProfile, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// FoundProfile is one exported row.
type FoundProfile struct {
	SubjectID       string
	GuestName       string
	Handle          string
	FullName        string
	Headline        string
	JobTitle        string
	CompanyName     string
	Location        string
	LinkedinURL     string
	Connections     *int
	Followers       *int
	LastRefreshedAt time.Time
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
