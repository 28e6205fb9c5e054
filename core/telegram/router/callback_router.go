package router

import (
	"time"

	tg "github.com/m3rciful/flowbot/core/telegram"
	"github.com/m3rciful/flowbot/core/telegram/callbacks"
	"github.com/m3rciful/flowbot/core/telegram/middleware"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// CallbackRoutes routes dialog button presses to the transport. Telebot
// dispatches data carrying the transport's unique to the first route; the
// generic OnCallback route catches the rest.
func CallbackRoutes(t *tg.Transport) []tg.Route {
	if t == nil {
		return nil
	}
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}
		key := callbacks.CallbackKey(c)
		extras := []slog.Attr{slog.String("cb_key", key)}
		return handleWithSummary(c, "callback."+normalizeHandlerName(key), start, "", "", func() error {
			return t.HandleCallback(c)
		}, extras...)
	}
	wrapped := middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler))
	return []tg.Route{
		{Endpoint: "\f" + t.Unique(), Handler: wrapped},
		{Endpoint: tele.OnCallback, Handler: wrapped},
	}
}
