package apify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	getRunFunc func(ctx context.Context, runID string, waitSecs int) (*Run, error)
}

func (m *mockClient) StartRun(context.Context, string, any) (*Run, error) {
	return nil, nil
}

func (m *mockClient) GetRun(ctx context.Context, runID string, waitSecs int) (*Run, error) {
	return m.getRunFunc(ctx, runID, waitSecs)
}

func (m *mockClient) DatasetItems(context.Context, string) ([]json.RawMessage, error) {
	return nil, nil
}

func TestPollRun_SucceedsImmediately(t *testing.T) {
	mock := &mockClient{
		getRunFunc: func(_ context.Context, id string, _ int) (*Run, error) {
			return &Run{ID: id, Status: StatusSucceeded, DefaultDatasetID: "ds"}, nil
		},
	}

	run, err := PollRun(context.Background(), mock, "run-1", WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "ds", run.DefaultDatasetID)
}

func TestPollRun_SucceedsAfterRunning(t *testing.T) {
	var calls int
	mock := &mockClient{
		getRunFunc: func(_ context.Context, id string, waitSecs int) (*Run, error) {
			calls++
			assert.Equal(t, 5, waitSecs)
			if calls < 3 {
				return &Run{ID: id, Status: StatusRunning}, nil
			}
			return &Run{ID: id, Status: StatusSucceeded}, nil
		},
	}

	run, err := PollRun(context.Background(), mock, "run-1",
		WithPollInterval(time.Millisecond),
		WithPollCap(2*time.Millisecond),
		WithWaitForFinish(5),
	)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 3, calls)
}

func TestPollRun_RunFailed(t *testing.T) {
	mock := &mockClient{
		getRunFunc: func(_ context.Context, id string, _ int) (*Run, error) {
			return &Run{ID: id, Status: StatusTimedOut, StatusMessage: "actor timed out"}, nil
		},
	}

	run, err := PollRun(context.Background(), mock, "run-1", WithPollInterval(time.Millisecond))
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Contains(t, err.Error(), "TIMED-OUT")
}

func TestPollRun_GetRunError(t *testing.T) {
	mock := &mockClient{
		getRunFunc: func(context.Context, string, int) (*Run, error) {
			return nil, errors.New("boom")
		},
	}

	_, err := PollRun(context.Background(), mock, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll run run-1")
}

func TestPollRun_Timeout(t *testing.T) {
	mock := &mockClient{
		getRunFunc: func(_ context.Context, id string, _ int) (*Run, error) {
			return &Run{ID: id, Status: StatusRunning}, nil
		},
	}

	_, err := PollRun(context.Background(), mock, "run-1",
		WithPollInterval(5*time.Millisecond),
		WithPollTimeout(20*time.Millisecond),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
