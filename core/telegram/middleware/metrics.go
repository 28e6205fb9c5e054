package middleware

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/metrics"
)

// UpdateKind classifies an update the way rate limit exclusions and metrics
// name it.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// UpdateMetricsMiddleware counts received updates by kind. A nil m disables
// counting.
func UpdateMetricsMiddleware(m *metrics.Metrics) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			m.IncUpdate(UpdateKind(c.Update()))
			return next(c)
		}
	}
}
