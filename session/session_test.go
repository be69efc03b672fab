package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pendingCount(s *Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func TestSession(t *testing.T) {
	t.Run("Concurrent refreshes share one call", testSingleFlight)
	t.Run("Failed refresh rejects every waiter and clears the token", testRefreshFailure)
	t.Run("Waiters are resolved in arrival order", testFIFO)
	t.Run("Stale 401 after finished refresh reuses the new token", testStaleAfterRefresh)
	t.Run("Empty token from refresh is a failure", testEmptyToken)
	t.Run("Cancelled waiter leaves the queue without blocking the drain", testCancelledWaiter)
	t.Run("Reset fails queued waiters", testResetFailsWaiters)
	t.Run("Late 401 after a failed refresh gets the same failure", testLateAfterFailure)
	t.Run("New token after a failure allows another refresh", testRefreshAfterLogin)
}

func blockingRefresh(calls *int32, release <-chan struct{}, token string, err error) RefreshFunc {
	return func(ctx context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		<-release
		return token, err
	}
}

func testSingleFlight(t *testing.T) {
	s := New()
	s.SetToken("stale")
	var calls int32
	release := make(chan struct{})
	refresh := blockingRefresh(&calls, release, "fresh", nil)

	const n = 8
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = s.Refresh(context.Background(), "stale", refresh)
	}()
	require.Eventually(t, s.Refreshing, time.Second, time.Millisecond)
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Refresh(context.Background(), "stale", refresh)
		}(i)
	}
	require.Eventually(t, func() bool { return pendingCount(s) == n-1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Equal(t, 1, s.Refreshes())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "fresh", results[i])
	}
	require.Equal(t, "fresh", s.Token())
	require.False(t, s.Refreshing())
	require.Zero(t, pendingCount(s))
}

func testRefreshFailure(t *testing.T) {
	s := New()
	s.SetToken("stale")
	var calls int32
	release := make(chan struct{})
	refreshErr := errors.New("refresh cookie expired")
	refresh := blockingRefresh(&calls, release, "", refreshErr)

	errCh := make(chan error, 3)
	go func() {
		_, err := s.Refresh(context.Background(), "stale", refresh)
		errCh <- err
	}()
	require.Eventually(t, s.Refreshing, time.Second, time.Millisecond)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Refresh(context.Background(), "stale", refresh)
			errCh <- err
		}()
	}
	require.Eventually(t, func() bool { return pendingCount(s) == 2 }, time.Second, time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, <-errCh, refreshErr)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Empty(t, s.Token())
	require.False(t, s.Refreshing())
}

func testFIFO(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var calls int32
	refresh := blockingRefresh(&calls, release, "fresh", nil)

	go func() { _, _ = s.Refresh(context.Background(), "", refresh) }()
	require.Eventually(t, s.Refreshing, time.Second, time.Millisecond)

	var snapshots [][]chan refreshOutcome
	resolved := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func() {
			token, _ := s.Refresh(context.Background(), "", refresh)
			resolved <- token
		}()
		require.Eventually(t, func() bool { return pendingCount(s) == i+1 }, time.Second, time.Millisecond)
		s.mu.Lock()
		snapshots = append(snapshots, append([]chan refreshOutcome(nil), s.pending...))
		s.mu.Unlock()
	}
	// later arrivals only ever append behind earlier ones
	for i := 1; i < len(snapshots); i++ {
		require.Equal(t, snapshots[i-1], snapshots[i][:i])
	}

	close(release)
	for i := 0; i < 3; i++ {
		require.Equal(t, "fresh", <-resolved)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func testStaleAfterRefresh(t *testing.T) {
	s := New()
	s.SetToken("fresh")
	token, err := s.Refresh(context.Background(), "stale", func(ctx context.Context) (string, error) {
		t.Fatal("refresh must not be called")
		return "", nil
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", token)
	require.Zero(t, s.Refreshes())
}

func testEmptyToken(t *testing.T) {
	s := New()
	s.SetToken("stale")
	_, err := s.Refresh(context.Background(), "stale", func(ctx context.Context) (string, error) {
		return "", nil
	})
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.Empty(t, s.Token())
}

func testCancelledWaiter(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var calls int32
	refresh := blockingRefresh(&calls, release, "fresh", nil)

	done := make(chan struct{})
	go func() {
		_, _ = s.Refresh(context.Background(), "", refresh)
		close(done)
	}()
	require.Eventually(t, s.Refreshing, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctx, "", refresh)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return pendingCount(s) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("leader blocked while draining a cancelled waiter")
	}
	require.Equal(t, "fresh", s.Token())
}

func testResetFailsWaiters(t *testing.T) {
	s := New()
	s.SetToken("stale")
	release := make(chan struct{})
	defer close(release)
	var calls int32
	refresh := blockingRefresh(&calls, release, "fresh", nil)

	go func() { _, _ = s.Refresh(context.Background(), "stale", refresh) }()
	require.Eventually(t, s.Refreshing, time.Second, time.Millisecond)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background(), "stale", refresh)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return pendingCount(s) == 1 }, time.Second, time.Millisecond)

	s.Reset()
	require.ErrorIs(t, <-errCh, ErrRefreshFailed)
	require.Empty(t, s.Token())
}

func testLateAfterFailure(t *testing.T) {
	s := New()
	s.SetToken("stale")
	refreshErr := errors.New("refresh cookie expired")
	var calls int32
	refresh := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", refreshErr
	}

	_, err := s.Refresh(context.Background(), "stale", refresh)
	require.ErrorIs(t, err, refreshErr)
	for i := 0; i < 3; i++ {
		_, err = s.Refresh(context.Background(), "stale", refresh)
		require.ErrorIs(t, err, refreshErr)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Equal(t, 1, s.Refreshes())
}

func testRefreshAfterLogin(t *testing.T) {
	s := New()
	s.SetToken("stale")
	var calls int32
	_, err := s.Refresh(context.Background(), "stale", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", ErrRefreshFailed
	})
	require.ErrorIs(t, err, ErrRefreshFailed)

	s.SetToken("stale")
	token, err := s.Refresh(context.Background(), "stale", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", nil
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", token)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDefaultReset(t *testing.T) {
	Default().SetToken("token")
	Reset()
	require.Empty(t, Default().Token())
}
