package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/metrics"
)

// State is the transport lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// ErrNotStopped is returned by Start when the transport is already starting
// or running.
var ErrNotStopped = errors.New("telegram: transport is not stopped")

// LifecycleOptions parameterize start retries.
type LifecycleOptions struct {
	// Retries is the number of extra attempts after the first failure.
	Retries int
	// Backoff is the pause between attempts.
	Backoff time.Duration
	Metrics *metrics.Metrics
}

// Lifecycle is the single owner of the transport state. Start attempts are
// retried Retries times with a fixed Backoff.
type Lifecycle struct {
	opts  LifecycleOptions
	mu    sync.Mutex
	state State
}

// NewLifecycle returns a stopped lifecycle.
func NewLifecycle(opts LifecycleOptions) *Lifecycle {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	l := &Lifecycle{opts: opts}
	opts.Metrics.SetTransportState(int(StateStopped))
	return l
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lifecycle) set(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.opts.Metrics.SetTransportState(int(s))
}

// Start moves Stopped to Starting and calls start until it succeeds, the
// attempts are exhausted or ctx is done. Success leaves the lifecycle
// Running; failure puts it back to Stopped.
func (l *Lifecycle) Start(ctx context.Context, start func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return ErrNotStopped
	}
	l.state = StateStarting
	l.mu.Unlock()
	l.opts.Metrics.SetTransportState(int(StateStarting))

	attempts := l.opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		began := time.Now()
		lastErr = start(ctx)
		l.opts.Metrics.ObserveTransportStart(lastErr)
		if lastErr == nil {
			l.set(StateRunning)
			logger.Info(ctx, "tg", "transport.start",
				slog.String("status", "ok"),
				slog.Int("attempt", attempt),
				slog.Duration("took", logger.Took(began)),
			)
			return nil
		}
		logger.Warn(ctx, "tg", "transport.start",
			slog.String("status", "error"),
			slog.Int("attempt", attempt),
			slog.Int("attempts", attempts),
			slog.String("err", lastErr.Error()),
		)
		if attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, l.opts.Backoff); err != nil {
			lastErr = err
			break
		}
	}
	l.set(StateStopped)
	return fmt.Errorf("telegram: start failed after %d attempt(s): %w", attempts, lastErr)
}

// Stop marks the transport stopped. It is safe to call in any state.
func (l *Lifecycle) Stop() {
	l.set(StateStopped)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
