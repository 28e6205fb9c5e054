package router

import (
	"time"

	tg "github.com/m3rciful/flowbot/core/telegram"
	"github.com/m3rciful/flowbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls fallback behaviour for non-text updates.
type TextOptions struct {
	// UnsupportedMedia answers photos, documents and other media the
	// dialog cannot take as an answer.
	UnsupportedMedia tele.HandlerFunc
}

var mediaEndpoints = []string{
	tele.OnPhoto,
	tele.OnDocument,
	tele.OnVoice,
	tele.OnVideo,
	tele.OnAudio,
	tele.OnSticker,
	tele.OnLocation,
	tele.OnContact,
}

// TextRoutes forwards every text message to the dialog transport.
func TextRoutes(t *tg.Transport, opts TextOptions) []tg.Route {
	if t == nil {
		return nil
	}
	handler := func(c tele.Context) error {
		start := time.Now()
		return handleWithSummary(c, "dialog.text", start, "", "", func() error {
			return t.HandleText(c)
		})
	}

	routes := []tg.Route{{
		Endpoint: tele.OnText,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}}

	if opts.UnsupportedMedia != nil {
		media := func(c tele.Context) error {
			start := time.Now()
			return handleWithSummary(c, "unsupported_media", start, "", "", func() error {
				return opts.UnsupportedMedia(c)
			})
		}
		wrapped := middleware.RecoverMiddleware(middleware.LoggerMiddleware(media))
		for _, ep := range mediaEndpoints {
			routes = append(routes, tg.Route{Endpoint: ep, Handler: wrapped})
		}
	}
	return routes
}
