// Package session holds the process-wide access token and coordinates token
// refreshes so that concurrent 401s share a single refresh call.
package session

import (
	"context"
	"errors"
	"sync"

	"catcare.com/client/logger"
	"github.com/rs/zerolog"
)

// ErrRefreshFailed is returned to queued callers when the refresh they were
// waiting on failed without an error of its own.
var ErrRefreshFailed = errors.New("token refresh failed")

// RefreshFunc obtains a new access token from the backend.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenStore is the in-memory holder of the current access token.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

func (store *TokenStore) Token() string {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.token
}

func (store *TokenStore) SetToken(token string) {
	store.mu.Lock()
	store.token = token
	store.mu.Unlock()
}

func (store *TokenStore) Clear() {
	store.SetToken("")
}

type refreshOutcome struct {
	token string
	err   error
}

// Session pairs a TokenStore with the refresh state: the refreshing flag and
// the FIFO list of callers waiting on the refresh in flight.
type Session struct {
	tokens TokenStore

	mu         sync.Mutex
	refreshing bool
	pending    []chan refreshOutcome
	refreshes  int

	// failedFor is the token the last failed refresh tried to replace.
	failedFor string
	failedErr error

	sessionLogger zerolog.Logger
}

func New() *Session {
	return &Session{sessionLogger: logger.NewLogger("Session")}
}

var defaultSession = New()

// Default returns the process-wide session.
func Default() *Session {
	return defaultSession
}

// Reset clears the process-wide session. Tests call it between cases.
func Reset() {
	defaultSession.Reset()
}

func (s *Session) Token() string {
	return s.tokens.Token()
}

// SetToken stores a token obtained outside a refresh, e.g. on login. It
// forgets any earlier refresh failure.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.forgetFailure()
	s.tokens.SetToken(token)
	s.mu.Unlock()
}

// Clear drops the token, e.g. on logout.
func (s *Session) Clear() {
	s.mu.Lock()
	s.forgetFailure()
	s.tokens.Clear()
	s.mu.Unlock()
}

func (s *Session) forgetFailure() {
	s.failedFor = ""
	s.failedErr = nil
}

// Reset drops the token and any refresh bookkeeping. Waiters still queued are
// failed so nobody blocks on a cycle that will never finish.
func (s *Session) Reset() {
	s.mu.Lock()
	waiters := s.pending
	s.pending = nil
	s.refreshing = false
	s.refreshes = 0
	s.forgetFailure()
	s.tokens.Clear()
	s.mu.Unlock()
	for _, waiter := range waiters {
		waiter <- refreshOutcome{err: ErrRefreshFailed}
	}
}

// Refreshing reports whether a refresh call is outstanding.
func (s *Session) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing
}

// Pending reports how many callers wait on the refresh in flight.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Refreshes reports how many refresh calls this session has issued.
func (s *Session) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// Refresh returns a token to replay a request that got a 401 while carrying
// staleToken. At most one refresh runs at a time; callers arriving while it
// runs are queued and resolved in arrival order with its outcome. A caller
// whose request raced with an already finished refresh gets that refresh's
// outcome without another call: the current token, or the error it failed with.
func (s *Session) Refresh(ctx context.Context, staleToken string, refresh RefreshFunc) (string, error) {
	s.mu.Lock()
	current := s.tokens.Token()
	if current != "" && current != staleToken {
		s.mu.Unlock()
		return current, nil
	}
	if current == "" && s.failedErr != nil && staleToken == s.failedFor {
		err := s.failedErr
		s.mu.Unlock()
		return "", err
	}
	if s.refreshing {
		waiter := make(chan refreshOutcome, 1)
		s.pending = append(s.pending, waiter)
		queued := len(s.pending)
		s.mu.Unlock()
		s.sessionLogger.Debug().Int("queue_position", queued).Msg("Refresh in flight, waiting")
		select {
		case outcome := <-waiter:
			return outcome.token, outcome.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.refreshing = true
	s.refreshes++
	s.mu.Unlock()

	s.sessionLogger.Info().Msg("Refreshing access token")
	token, err := refresh(context.WithoutCancel(ctx))
	if err == nil && token == "" {
		err = ErrRefreshFailed
	}

	s.mu.Lock()
	if err != nil {
		s.tokens.Clear()
		s.failedFor, s.failedErr = staleToken, err
	} else {
		s.forgetFailure()
		s.tokens.SetToken(token)
	}
	s.refreshing = false
	waiters := s.pending
	s.pending = nil
	s.mu.Unlock()

	if err != nil {
		s.sessionLogger.Err(err).Int("rejected", len(waiters)).Msg("Token refresh failed")
		token = ""
	} else {
		s.sessionLogger.Info().Int("resumed", len(waiters)).Msg("Token refreshed")
	}
	for _, waiter := range waiters {
		waiter <- refreshOutcome{token: token, err: err}
	}
	return token, err
}
