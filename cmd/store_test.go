package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-enrich/internal/config"
	"github.com/sells-group/profile-enrich/internal/enrich"
)

// stubGateway returns a profile for every URL whose handle is in found.
type stubGateway struct {
	found map[string]bool
	calls int
}

func (g *stubGateway) FetchProfiles(_ context.Context, urls []string) ([]enrich.Profile, error) {
	g.calls++
	var out []enrich.Profile
	for _, u := range urls {
		h := u[strings.LastIndex(u, "/")+1:]
		if g.found[h] {
			name := strings.ToUpper(h)
			out = append(out, enrich.Profile{PublicIdentifier: h, FullName: &name})
		}
	}
	return out, nil
}

func useSQLiteConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enrich.db")
	prev := cfg
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", SQLitePath: path},
		Enrich: config.EnrichConfig{RetryCeiling: 3, BackoffUnitMins: 5, ChunkSize: 25, LookupConcurrency: 2, LookupTimeoutSecs: 60, OutageConsumesRetry: true},
	}
	t.Cleanup(func() { cfg = prev })
	return path
}

func seedGuests(t *testing.T, path string, guests map[string]string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	for id, handle := range guests {
		_, err := db.Exec(`INSERT INTO guests (luma_guest_api_id, guest_name, linkedin_handle) VALUES (?, ?, ?)`, id, "Guest "+id, handle)
		require.NoError(t, err)
	}
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	prev := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}
	t.Cleanup(func() { cfg = prev })

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestRunnerOptions_Policy(t *testing.T) {
	r := enrich.NewRunner(nil, nil, runnerOptions(config.EnrichConfig{RetryCeiling: 4, BackoffUnitMins: 2})...)
	assert.Equal(t, enrich.Policy{Ceiling: 4, BackoffUnit: 2 * time.Minute}, r.Policy())
}

func TestSQLiteRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	path := useSQLiteConfig(t)

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	seedGuests(t, path, map[string]string{
		"g1": "https://linkedin.com/in/Alice",
		"g2": "bob",
		"g3": "carol",
	})

	gw := &stubGateway{found: map[string]bool{"alice": true, "carol": true}}
	sum, err := newRunner(st, gw, nil).Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Attempted)
	assert.Equal(t, 2, sum.Resolved)
	assert.Equal(t, 1, sum.Unresolved)
	assert.Equal(t, enrich.RunComplete, sum.Status)

	runs, err := st.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].RunID)
	assert.Equal(t, enrich.RunComplete, runs[0].Status)

	profiles, err := st.ListFoundProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)

	// Bob is backing off, so a second batch has nothing to do.
	sum, err = newRunner(st, gw, nil).Run(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, sum.Attempted)
	assert.Equal(t, 1, gw.calls)

	// Manual mode ignores the backoff window.
	sum, err = newRunner(st, gw, nil).RunHandles(ctx, []string{"BOB"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Attempted)
	assert.Equal(t, 1, sum.Retries)
}
