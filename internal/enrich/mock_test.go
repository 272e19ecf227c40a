package enrich

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SelectEligible(ctx context.Context, q EligibilityQuery) ([]Candidate, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Candidate), args.Error(1)
}

func (m *mockStore) SelectByHandles(ctx context.Context, handles []string, ceiling int) ([]Candidate, error) {
	args := m.Called(ctx, handles, ceiling)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Candidate), args.Error(1)
}

func (m *mockStore) UpsertStates(ctx context.Context, states []State) (int64, error) {
	args := m.Called(ctx, states)
	return args.Get(0).(int64), args.Error(1)
}

// --- Gateway Mock ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) FetchProfiles(ctx context.Context, urls []string) ([]Profile, error) {
	args := m.Called(ctx, urls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Profile), args.Error(1)
}

// --- RunLog Mock ---

type mockRunLog struct {
	mock.Mock
}

func (m *mockRunLog) StartRun(ctx context.Context, s *Summary) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockRunLog) FinishRun(ctx context.Context, s *Summary) error {
	return m.Called(ctx, s).Error(0)
}

// --- Recorder Mock ---

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordRun(ctx context.Context, s *Summary, elapsed time.Duration) {
	m.Called(ctx, s, elapsed)
}
