package helpers

import (
	"context"

	"github.com/m3rciful/flowbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "logger_ctx"

// Identity carries the identifiers logged for every update.
type Identity struct {
	UpdateID int
	UserID   int64
	ChatID   int64
}

// IdentityOf extracts update, sender and chat identifiers. Callback updates
// resolve the chat through the message the button belongs to.
func IdentityOf(c tele.Context) Identity {
	if c == nil {
		return Identity{}
	}
	id := Identity{UpdateID: c.Update().ID}
	if user := c.Sender(); user != nil {
		id.UserID = user.ID
	}
	if chat := c.Chat(); chat != nil {
		id.ChatID = chat.ID
	}
	return id
}

// StoreContext caches ctx on the update for later handlers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom returns the context cached by StoreContext.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the cached update context or builds one carrying the
// rid, update metadata and the tg component logger.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}
	if c == nil {
		return context.Background()
	}

	id := IdentityOf(c)
	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(id.UpdateID, id.ChatID, id.UserID)
	}

	ctx := logger.WithRID(context.Background(), rid)
	ctx = logger.WithUpdateMeta(ctx, id.UpdateID, id.UserID, id.ChatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler tags the update context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}
