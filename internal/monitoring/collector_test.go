package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-enrich/internal/enrich"
)

// mockSource is a minimal Source for collector tests.
type mockSource struct {
	phases   map[enrich.Phase]int
	runs     []enrich.Summary
	phaseErr error
	runsErr  error

	gotCeiling int
	gotLimit   int
}

func (m *mockSource) PhaseCounts(_ context.Context, _ time.Time, ceiling int) (map[enrich.Phase]int, error) {
	m.gotCeiling = ceiling
	return m.phases, m.phaseErr
}

func (m *mockSource) ListRuns(_ context.Context, limit int) ([]enrich.Summary, error) {
	m.gotLimit = limit
	if m.runsErr != nil {
		return nil, m.runsErr
	}
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(&mockSource{}, 3)
	snap, err := c.Collect(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.TotalRows)
	assert.Equal(t, 0, snap.Attempted)
	assert.Zero(t, snap.ExhaustedRate)
	assert.Nil(t, snap.LastRun)
	assert.Len(t, snap.Phases, len(enrich.Phases))
	assert.Equal(t, 3, snap.Ceiling)
}

func TestCollector_PhaseMetrics(t *testing.T) {
	src := &mockSource{phases: map[enrich.Phase]int{
		enrich.PhaseUnattempted: 10,
		enrich.PhaseFound:       12,
		enrich.PhaseBackingOff:  3,
		enrich.PhaseDue:         1,
		enrich.PhaseExhausted:   4,
	}}
	c := NewCollector(src, 3)

	snap, err := c.Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, src.gotCeiling)
	assert.Equal(t, 30, snap.TotalRows)
	assert.Equal(t, 20, snap.Attempted)
	assert.InDelta(t, 0.2, snap.ExhaustedRate, 0.0001)
	assert.Zero(t, src.gotLimit, "no run lookups when recentRuns is 0")
}

func TestCollector_RunMetrics(t *testing.T) {
	src := &mockSource{runs: []enrich.Summary{
		{RunID: "r3", Status: enrich.RunFailed},
		{RunID: "r2", Status: enrich.RunComplete},
		{RunID: "r1", Status: enrich.RunFailed},
	}}
	snap, err := NewCollector(src, 3).Collect(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 5, src.gotLimit)
	assert.Equal(t, 3, snap.RecentRuns)
	assert.Equal(t, 2, snap.RecentFailed)
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, "r3", snap.LastRun.RunID)
}

func TestCollector_Errors(t *testing.T) {
	_, err := NewCollector(&mockSource{phaseErr: errors.New("down")}, 3).Collect(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase counts")

	_, err = NewCollector(&mockSource{runsErr: errors.New("down")}, 3).Collect(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}
