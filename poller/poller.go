// Package poller drives step 2 of a diagnosis until the category is ready,
// the fetch fails, or the attempt budget runs out.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"catcare.com/client/apiclient"
	"catcare.com/client/diagnosis"
	"catcare.com/client/logger"
	"catcare.com/client/utils"
	"github.com/jonboulle/clockwork"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

type State int

const (
	Idle State = iota
	Polling
	Resolved
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no more attempts follow in this state.
func (s State) Terminal() bool {
	return s == Resolved || s == Failed || s == TimedOut
}

// ErrAlreadyPolling is returned by Start while a previous run is still polling.
var ErrAlreadyPolling = errors.New("poller is already polling")

// TimeoutError is handed to OnTimeout once the attempt budget is spent.
type TimeoutError struct {
	DiagnosisID string
	Attempts    int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("diagnosis %s still processing after %d attempts", e.DiagnosisID, e.Attempts)
}

type Config struct {
	Interval    time.Duration `envconfig:"CATCARE_POLL_INTERVAL" default:"3s"`
	MaxAttempts int           `envconfig:"CATCARE_POLL_MAX_ATTEMPTS" default:"20"`
}

func DefaultConfig() Config {
	return Config{Interval: 3 * time.Second, MaxAttempts: 20}
}

func ReadConfig() (Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

type CategoryFetcher interface {
	FetchCategory(ctx context.Context, diagnosisID string) (diagnosis.CategoryResult, error)
}

// Checkpoints persists the attempt counter of a diagnosis so that a restarted
// process resumes the budget instead of starting over.
type Checkpoints interface {
	Claim(ctx context.Context, diagnosisID string) (release func() error, err error)
	Load(ctx context.Context, diagnosisID string) (int, error)
	Save(ctx context.Context, diagnosisID string, attempts int) error
	Clear(ctx context.Context, diagnosisID string) error
}

// Callbacks are invoked from the polling goroutine. Exactly one of OnResolved,
// OnFailed and OnTimeout fires per run, unless the run is stopped first.
type Callbacks struct {
	OnResolved func(category diagnosis.Category)
	OnFailed   func(err error)
	OnTimeout  func(err *TimeoutError)
	OnProgress func(attempt, budget int)
}

type Option func(*Poller)

func WithClock(clock clockwork.Clock) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

func WithCheckpoints(checkpoints Checkpoints) Option {
	return func(p *Poller) {
		p.checkpoints = checkpoints
	}
}

func WithLogger(pollerLogger zerolog.Logger) Option {
	return func(p *Poller) {
		p.pollerLogger = pollerLogger
	}
}

type run struct {
	diagnosisID string
	callbacks   Callbacks
	stop        chan struct{}
}

type Poller struct {
	fetcher      CategoryFetcher
	config       Config
	clock        clockwork.Clock
	checkpoints  Checkpoints
	pollerLogger zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	current  *run
}

func New(fetcher CategoryFetcher, config Config, opts ...Option) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	p := &Poller{
		fetcher:      fetcher,
		config:       config,
		clock:        clockwork.NewRealClock(),
		pollerLogger: logger.NewLogger("Diagnosis poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts reports how many fetches the current or last run has issued,
// including attempts resumed from a checkpoint.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Start makes the first attempt right away and keeps polling every interval
// while the category is pending. Cancelling ctx stops the run like Stop does.
func (p *Poller) Start(ctx context.Context, diagnosisID string, callbacks Callbacks) error {
	if strings.TrimSpace(diagnosisID) == "" {
		return &apiclient.ValidationError{Field: "diagnosisId", Message: "diagnosis id is empty"}
	}
	p.mu.Lock()
	if p.state == Polling {
		p.mu.Unlock()
		return ErrAlreadyPolling
	}
	r := &run{diagnosisID: diagnosisID, callbacks: callbacks, stop: make(chan struct{})}
	p.state = Polling
	p.attempts = 0
	p.current = r
	p.mu.Unlock()

	release, resumed, err := p.restore(ctx, diagnosisID)
	if err != nil {
		p.mu.Lock()
		if p.current == r {
			p.state = Idle
			p.current = nil
		}
		p.mu.Unlock()
		return err
	}
	p.mu.Lock()
	if p.current == r {
		p.attempts = resumed
	}
	p.mu.Unlock()

	p.pollerLogger.Info().
		Str("diagnosis_id", diagnosisID).
		Int("resumed_attempts", resumed).
		Int("budget", p.config.MaxAttempts).
		Dur("interval", p.config.Interval).
		Msg("Polling started")
	go p.loop(ctx, r, release)
	return nil
}

// Stop abandons the current run. A fetch already in flight finishes on its
// own and its result is discarded. Stop is a no-op unless polling.
func (p *Poller) Stop() {
	p.mu.Lock()
	r := p.current
	if p.state != Polling || r == nil {
		p.mu.Unlock()
		return
	}
	p.state = Idle
	p.current = nil
	close(r.stop)
	p.mu.Unlock()
	p.pollerLogger.Info().Str("diagnosis_id", r.diagnosisID).Msg("Polling stopped")
}

func (p *Poller) restore(ctx context.Context, diagnosisID string) (func() error, int, error) {
	if p.checkpoints == nil {
		return func() error { return nil }, 0, nil
	}
	release, err := p.checkpoints.Claim(ctx, diagnosisID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to claim diagnosis %s: %w", diagnosisID, err)
	}
	attempts, err := p.checkpoints.Load(ctx, diagnosisID)
	if err != nil {
		_ = release()
		return nil, 0, fmt.Errorf("failed to load checkpoint of diagnosis %s: %w", diagnosisID, err)
	}
	return release, attempts, nil
}

func (p *Poller) loop(ctx context.Context, r *run, release func() error) {
	defer func() {
		if err := release(); err != nil {
			p.pollerLogger.Warn().Err(err).Str("diagnosis_id", r.diagnosisID).Msg("Could not release claim")
		}
	}()

	if !p.attempt(ctx, r) {
		return
	}
	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			p.abandon(r)
			return
		case <-ticker.Chan():
			if !p.attempt(ctx, r) {
				return
			}
		}
	}
}

// attempt issues one fetch and reports whether polling should go on.
func (p *Poller) attempt(ctx context.Context, r *run) bool {
	p.mu.Lock()
	if p.current != r {
		p.mu.Unlock()
		return false
	}
	if p.attempts >= p.config.MaxAttempts {
		attempts := p.attempts
		p.mu.Unlock()
		p.timeout(ctx, r, attempts)
		return false
	}
	p.attempts++
	attempt := p.attempts
	p.mu.Unlock()

	if p.checkpoints != nil {
		if err := p.checkpoints.Save(ctx, r.diagnosisID, attempt); err != nil {
			p.pollerLogger.Warn().Err(err).Str("diagnosis_id", r.diagnosisID).Msg("Could not save checkpoint")
		}
		// Stop may have landed while Save blocked
		if !p.active(r) {
			return false
		}
	}
	if r.callbacks.OnProgress != nil {
		r.callbacks.OnProgress(attempt, p.config.MaxAttempts)
	}
	if !p.active(r) {
		return false
	}

	result, err := p.fetch(ctx, r.diagnosisID)
	if err == nil && !result.IsPending() && result.Category == nil {
		err = fmt.Errorf("diagnosis %s resolved without a category", r.diagnosisID)
	}
	if err != nil {
		if ctx.Err() != nil {
			p.abandon(r)
			return false
		}
		p.finish(ctx, r, Failed, func() {
			p.pollerLogger.Err(err).Str("diagnosis_id", r.diagnosisID).Int("attempt", attempt).Msg("Polling failed")
			if r.callbacks.OnFailed != nil {
				r.callbacks.OnFailed(err)
			}
		})
		return false
	}
	if !result.IsPending() {
		category := *result.Category
		p.finish(ctx, r, Resolved, func() {
			p.pollerLogger.Info().
				Str("diagnosis_id", r.diagnosisID).
				Str("category", category.Category).
				Int("attempt", attempt).
				Msg("Category resolved")
			if r.callbacks.OnResolved != nil {
				r.callbacks.OnResolved(category)
			}
		})
		return false
	}
	p.pollerLogger.Debug().Str("diagnosis_id", r.diagnosisID).Int("attempt", attempt).Msg("Category pending")
	if attempt >= p.config.MaxAttempts {
		p.timeout(ctx, r, attempt)
		return false
	}
	return true
}

func (p *Poller) active(r *run) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current == r
}

func (p *Poller) fetch(ctx context.Context, diagnosisID string) (result diagnosis.CategoryResult, err error) {
	defer utils.RecoverWithError(&err)
	return p.fetcher.FetchCategory(ctx, diagnosisID)
}

func (p *Poller) timeout(ctx context.Context, r *run, attempts int) {
	timeoutErr := &TimeoutError{DiagnosisID: r.diagnosisID, Attempts: attempts}
	p.finish(ctx, r, TimedOut, func() {
		p.pollerLogger.Warn().Str("diagnosis_id", r.diagnosisID).Int("attempts", attempts).Msg("Polling timed out")
		if r.callbacks.OnTimeout != nil {
			r.callbacks.OnTimeout(timeoutErr)
		}
	})
}

// finish moves the run into a terminal state and fires notify, unless the run
// was stopped or replaced in the meantime.
func (p *Poller) finish(ctx context.Context, r *run, state State, notify func()) {
	p.mu.Lock()
	if p.current != r || p.state != Polling {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.current = nil
	p.mu.Unlock()

	if p.checkpoints != nil {
		if err := p.checkpoints.Clear(context.WithoutCancel(ctx), r.diagnosisID); err != nil {
			p.pollerLogger.Warn().Err(err).Str("diagnosis_id", r.diagnosisID).Msg("Could not clear checkpoint")
		}
	}
	notify()
}

func (p *Poller) abandon(r *run) {
	p.mu.Lock()
	if p.current != r {
		p.mu.Unlock()
		return
	}
	p.state = Idle
	p.current = nil
	p.mu.Unlock()
	p.pollerLogger.Info().Str("diagnosis_id", r.diagnosisID).Msg("Polling cancelled")
}
