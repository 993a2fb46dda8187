package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/aggregator/internal/domain"
)

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

type stubRefresher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (s *stubRefresher) RefreshAll(_ context.Context, userID string, window domain.Window) (domain.AggregatedStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID+"/"+string(window))
	return domain.AggregatedStats{UserID: userID, Window: window}, s.fail[userID]
}

func (s *stubRefresher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestRunOnceRefreshesEveryUserAndWindow(t *testing.T) {
	refresher := &stubRefresher{fail: map[string]error{"bob": errors.New("feed down")}}
	s := New(refresher, []string{"alice", "bob"}, WithWindows(domain.WindowWeek, domain.WindowYear), WithLogger(log.New(testWriter{t}, "", 0)))

	err := s.RunOnce(context.Background())

	require.Equal(t, []string{"alice/week", "alice/year", "bob/week", "bob/year"}, refresher.calls)
	require.Error(t, err)
	require.Contains(t, err.Error(), "refresh bob/week")
	require.Contains(t, err.Error(), "refresh bob/year")
	require.NotContains(t, err.Error(), "alice")
}

func TestRunOnceStopsWhenCancelled(t *testing.T) {
	refresher := &stubRefresher{}
	s := New(refresher, []string{"alice"}, WithLogger(log.New(testWriter{t}, "", 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, refresher.calls)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := New(&stubRefresher{}, nil, WithLogger(log.New(testWriter{t}, "", 0)))
	require.Error(t, s.Start("every now and then"))
}

func TestStartRunsOnSchedule(t *testing.T) {
	refresher := &stubRefresher{}
	s := New(refresher, []string{"alice"}, WithWindows(domain.WindowWeek), WithLogger(log.New(testWriter{t}, "", 0)))

	require.NoError(t, s.Start("@every 1s"))
	t.Cleanup(func() { <-s.Stop().Done() })

	require.Eventually(t, func() bool { return refresher.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
