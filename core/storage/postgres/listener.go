package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/m3rciful/flowbot/core/logger"
)

// CatalogChannel is the NOTIFY channel the migration triggers publish on
// whenever commands, flows or steps change.
const CatalogChannel = "dialog_catalog"

// Listener turns PostgreSQL notifications into reload signals.
type Listener struct {
	dsn     string
	channel string
	out     chan struct{}
}

// NewListener prepares a listener on channel. Nothing connects until Run.
func NewListener(dsn, channel string) *Listener {
	if channel == "" {
		channel = CatalogChannel
	}
	return &Listener{dsn: dsn, channel: channel, out: make(chan struct{}, 1)}
}

// C delivers one value per burst of notifications. A reconnect also
// produces a value because notifications sent while disconnected are lost.
func (l *Listener) C() <-chan struct{} {
	return l.out
}

// Run listens until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	pl := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		attrs := []slog.Attr{slog.String("channel", l.channel), slog.String("state", listenerEvent(ev))}
		if err != nil {
			attrs = append(attrs, slog.String("err", err.Error()))
			logger.Warn(ctx, component, "listener.event", attrs...)
			return
		}
		logger.Debug(ctx, component, "listener.event", attrs...)
	})
	defer pl.Close()

	if err := pl.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	logger.Info(ctx, component, "listener.start", slog.String("channel", l.channel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-pl.Notify:
			if n != nil {
				logger.Debug(ctx, component, "listener.notify",
					slog.String("channel", n.Channel),
					slog.String("payload", n.Extra),
				)
			}
			l.signal()
		case <-ping.C:
			if err := pl.Ping(); err != nil {
				logger.Warn(ctx, component, "listener.ping", slog.String("err", err.Error()))
			}
		}
	}
}

func (l *Listener) signal() {
	select {
	case l.out <- struct{}{}:
	default:
	}
}

func listenerEvent(ev pq.ListenerEventType) string {
	switch ev {
	case pq.ListenerEventConnected:
		return "connected"
	case pq.ListenerEventDisconnected:
		return "disconnected"
	case pq.ListenerEventReconnected:
		return "reconnected"
	case pq.ListenerEventConnectionAttemptFailed:
		return "attempt_failed"
	}
	return "unknown"
}
