// Package engine connects a chat transport to the dialog router: it
// serializes messages per client, loads and caches sessions, persists the
// resulting transitions and hands replies back to the transport.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/dialog/catalog"
	"github.com/m3rciful/flowbot/core/dialog/progress"
	"github.com/m3rciful/flowbot/core/dialog/router"
	"github.com/m3rciful/flowbot/core/dialog/session"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/metrics"
)

const component = "dialog.engine"

// Transport delivers inbound messages and accepts replies. Send may queue;
// delivery retries are the transport's concern.
type Transport interface {
	OnMessage(handler func(ctx context.Context, msg dialog.IncomingMessage))
	Send(ctx context.Context, msg dialog.OutgoingMessage) error
}

// Options wires the engine's collaborators. Catalog, Router and Tracker are
// required.
type Options struct {
	Catalog  *catalog.Catalog
	Router   *router.Router
	Tracker  *progress.Tracker
	Sessions session.Store
	Metrics  *metrics.Metrics

	// RetryMessage is sent when the stored session cannot be loaded and the
	// message is not processed. Empty means stay silent.
	RetryMessage string

	// OnInconsistency is called when a transition was applied in memory but
	// could not be persisted, or when a stored session could not be loaded.
	OnInconsistency func(ctx context.Context, clientID int64, err error)
}

// Engine handles inbound messages. It is safe for concurrent use; messages
// of the same client are processed one at a time.
type Engine struct {
	catalog  *catalog.Catalog
	router   *router.Router
	tracker  *progress.Tracker
	sessions session.Store
	metrics  *metrics.Metrics
	locks    *session.Serializer
	retry    string

	// dirty holds clients whose cached session is ahead of storage.
	dirtyMu sync.Mutex
	dirty   map[int64]struct{}

	onInconsistency func(ctx context.Context, clientID int64, err error)
	transport       Transport
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, errors.New("engine: catalog is required")
	}
	if opts.Router == nil {
		return nil, errors.New("engine: router is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("engine: tracker is required")
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	return &Engine{
		catalog:         opts.Catalog,
		router:          opts.Router,
		tracker:         opts.Tracker,
		sessions:        sessions,
		metrics:         opts.Metrics,
		locks:           session.NewSerializer(),
		retry:           opts.RetryMessage,
		dirty:           make(map[int64]struct{}),
		onInconsistency: opts.OnInconsistency,
	}, nil
}

// Attach registers the engine as the transport's message handler and uses
// the transport for replies.
func (e *Engine) Attach(t Transport) {
	e.transport = t
	t.OnMessage(func(ctx context.Context, msg dialog.IncomingMessage) {
		_ = e.Handle(ctx, msg)
	})
}

// Handle processes one message end to end. The returned error reports
// persistence or locking problems. Replies are sent regardless of failures
// to persist the new session, but a session that cannot be loaded stops the
// message: routing it against a blank session would lose the client's place.
func (e *Engine) Handle(ctx context.Context, msg dialog.IncomingMessage) error {
	start := time.Now()
	unlock, err := e.locks.Lock(ctx, msg.ClientID)
	if err != nil {
		return fmt.Errorf("lock client %d: %w", msg.ClientID, err)
	}
	defer unlock()

	sess, persistErr, err := e.load(ctx, msg)
	if err != nil {
		e.inconsistent(ctx, msg.ClientID, err)
		if e.retry != "" {
			e.send(ctx, []dialog.OutgoingMessage{{ClientID: msg.ClientID, Text: e.retry}})
		}
		took := time.Since(start)
		e.metrics.ObserveMessage("load_failed", took)
		logger.Info(ctx, component, "dialog.handle",
			slog.String("status", logger.Status(err)),
			slog.Int64("client_id", msg.ClientID),
			slog.String("outcome", "load_failed"),
			slog.Duration("took", logger.RoundMS(took)),
		)
		return err
	}

	snap := e.catalog.Snapshot()
	out := e.router.Handle(ctx, snap, msg, sess)

	next := out.Session
	e.sessions.Put(next)
	for _, ev := range out.Events {
		e.metrics.IncEvent(string(ev.Kind))
		if err := e.tracker.OnSessionMutated(ctx, &next, ev); err != nil {
			persistErr = errors.Join(persistErr, err)
		}
	}
	if persistErr == nil && len(out.Events) == 0 && e.isDirty(msg.ClientID) {
		persistErr = e.tracker.SaveSession(ctx, next)
	}
	e.settle(next, persistErr)

	if persistErr != nil {
		e.inconsistent(ctx, msg.ClientID, persistErr)
	}

	sent := e.send(ctx, out.Messages)

	took := time.Since(start)
	e.metrics.ObserveMessage(string(out.Kind), took)
	logger.Info(ctx, component, "dialog.handle",
		slog.String("status", logger.Status(persistErr)),
		slog.Int64("client_id", msg.ClientID),
		slog.String("outcome", string(out.Kind)),
		slog.Int64("command_id", out.CommandID),
		slog.Int64("flow_id", next.FlowID),
		slog.Int64("step_id", next.StepID),
		slog.Int("events", len(out.Events)),
		slog.Int("messages", sent),
		slog.Int("config_errors", len(out.Errors)),
		slog.Uint64("catalog_version", snap.Version),
		slog.Duration("took", logger.RoundMS(took)),
	)
	return persistErr
}

// Session returns the cached session of a client, if any.
func (e *Engine) Session(clientID int64) (dialog.Session, bool) {
	return e.sessions.Get(clientID)
}

// Forget drops a cached session so the next message reloads it from storage.
// Transitions that were never persisted are lost.
func (e *Engine) Forget(clientID int64) {
	e.dirtyMu.Lock()
	delete(e.dirty, clientID)
	e.dirtyMu.Unlock()
	e.sessions.Delete(clientID)
	e.metrics.SetCachedSessions(e.sessions.Len())
}

// load returns the cached session or the stored one. First-time clients are
// registered with an open dialog; a failed registration is returned as regErr
// and the session is still usable. err means the session is unknown.
func (e *Engine) load(ctx context.Context, msg dialog.IncomingMessage) (s dialog.Session, regErr, err error) {
	if s, ok := e.sessions.Get(msg.ClientID); ok {
		return s, nil, nil
	}
	s, known, err := e.tracker.LoadSession(ctx, msg)
	if err != nil {
		return dialog.Session{}, nil, err
	}
	if !known {
		regErr = e.tracker.RegisterClient(ctx, msg, s)
	}
	return s, regErr, nil
}

// settle updates the cache after a turn. A session storage has not caught up
// with stays cached and dirty. Clean idle sessions are evicted, since storage
// holds the same state and the next message reloads it.
func (e *Engine) settle(s dialog.Session, persistErr error) {
	e.dirtyMu.Lock()
	if persistErr != nil {
		e.dirty[s.ClientID] = struct{}{}
	} else {
		delete(e.dirty, s.ClientID)
	}
	e.dirtyMu.Unlock()

	if persistErr == nil && s.State() == dialog.StateIdle {
		e.sessions.Delete(s.ClientID)
	} else {
		e.sessions.Put(s)
	}
	e.metrics.SetCachedSessions(e.sessions.Len())
}

func (e *Engine) isDirty(clientID int64) bool {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	_, ok := e.dirty[clientID]
	return ok
}

func (e *Engine) inconsistent(ctx context.Context, clientID int64, err error) {
	e.metrics.IncInconsistency()
	logger.Error(ctx, component, "inconsistency",
		slog.Int64("client_id", clientID),
		slog.String("err", err.Error()),
	)
	if e.onInconsistency != nil {
		e.onInconsistency(ctx, clientID, err)
	}
}

func (e *Engine) send(ctx context.Context, msgs []dialog.OutgoingMessage) int {
	if e.transport == nil {
		if len(msgs) > 0 {
			logger.Warn(ctx, component, "send.no_transport", slog.Int("messages", len(msgs)))
		}
		return 0
	}
	sent := 0
	for _, m := range msgs {
		err := e.transport.Send(ctx, m)
		e.metrics.IncSend(err)
		if err != nil {
			logger.Warn(ctx, component, "send.failed",
				slog.Int64("client_id", m.ClientID),
				slog.String("err", err.Error()),
			)
			continue
		}
		sent++
	}
	return sent
}
