package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/flowbot/core/telegram/helpers"
	"github.com/m3rciful/flowbot/core/telegram/keyboard"
	tgsender "github.com/m3rciful/flowbot/core/telegram/sender"
)

var (
	// ErrNotBound is returned by Send before Bind.
	ErrNotBound = errors.New("telegram: transport not bound to a bot")
	// ErrEmptyText is returned for replies Telegram would reject.
	ErrEmptyText = errors.New("telegram: empty message text")
)

// Sender is the part of *tele.Bot the transport sends through.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Transport carries dialog messages over Telegram. Inbound updates reach it
// through HandleText and HandleCallback; replies go out through the sender
// dispatcher, ordered per client.
type Transport struct {
	unique string

	mu      sync.RWMutex
	bot     Sender
	disp    *tgsender.Dispatcher
	handler func(ctx context.Context, msg dialog.IncomingMessage)
}

// NewTransport returns an unbound transport. unique prefixes the callback
// data of dialog buttons; empty selects callbacks.DialogUnique.
func NewTransport(unique string) *Transport {
	if unique == "" {
		unique = callbacks.DialogUnique
	}
	return &Transport{unique: unique}
}

// Unique returns the callback prefix of dialog buttons.
func (t *Transport) Unique() string { return t.unique }

// Bind attaches the bot and dispatcher used for replies. A nil dispatcher
// sends synchronously.
func (t *Transport) Bind(bot Sender, disp *tgsender.Dispatcher) {
	t.mu.Lock()
	t.bot = bot
	t.disp = disp
	t.mu.Unlock()
}

// OnMessage registers the inbound message handler.
func (t *Transport) OnMessage(handler func(ctx context.Context, msg dialog.IncomingMessage)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// Send delivers msg to the client's private chat.
func (t *Transport) Send(ctx context.Context, msg dialog.OutgoingMessage) error {
	t.mu.RLock()
	bot, disp := t.bot, t.disp
	t.mu.RUnlock()
	if bot == nil {
		return ErrNotBound
	}
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyText
	}

	opts := &tele.SendOptions{}
	if markup := keyboard.FromDialog(msg.Buttons, t.unique); markup != nil {
		opts.ReplyMarkup = markup
	}
	run := func() error {
		_, err := bot.Send(tele.ChatID(msg.ClientID), msg.Text, opts)
		return err
	}
	if disp == nil {
		return run()
	}
	if err := disp.EnqueueKeyed(ctx, msg.ClientID, "dialog.reply", "sendMessage", run); err != nil {
		if errors.Is(err, tgsender.ErrQueueFull) || errors.Is(err, tgsender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", "dialog.reply"),
				slog.Int64("client_id", msg.ClientID),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// HandleText forwards a text message to the dialog handler.
func (t *Transport) HandleText(c tele.Context) error {
	msg, ok := t.incoming(c)
	if !ok {
		return nil
	}
	msg.Text = c.Text()
	if m := c.Message(); m != nil && m.Unixtime > 0 {
		msg.Timestamp = m.Time()
	}
	return t.dispatch(tghelpers.WithHandler(c, "dialog.text"), msg)
}

// HandleCallback acknowledges a button press and forwards its value.
// Presses of buttons that were not rendered by this transport are ignored.
func (t *Transport) HandleCallback(c tele.Context) error {
	_ = c.Respond()
	if key := callbacks.CallbackKey(c); key != "" && key != t.unique {
		logger.Debug(tghelpers.BuildContext(c), "tg", "callback.foreign", slog.String("cb_key", key))
		return nil
	}
	payload := callbacks.CallbackPayload(c)
	if payload == "" {
		return nil
	}
	msg, ok := t.incoming(c)
	if !ok {
		return nil
	}
	msg.CallbackData = payload
	return t.dispatch(tghelpers.WithHandler(c, "dialog.callback"), msg)
}

// incoming builds the message envelope. Only private chats are dialogs: the
// client ID doubles as the chat replies are sent to.
func (t *Transport) incoming(c tele.Context) (dialog.IncomingMessage, bool) {
	user := c.Sender()
	if user == nil || user.IsBot {
		return dialog.IncomingMessage{}, false
	}
	if chat := c.Chat(); chat != nil && chat.Type != tele.ChatPrivate {
		logger.Debug(tghelpers.BuildContext(c), "tg", "update.skip",
			slog.String("reason", "not_private"),
			slog.String("chat_type", string(chat.Type)),
		)
		return dialog.IncomingMessage{}, false
	}
	return dialog.IncomingMessage{
		ClientID:  user.ID,
		Timestamp: time.Now(),
		Username:  user.Username,
		FirstName: user.FirstName,
	}, true
}

func (t *Transport) dispatch(ctx context.Context, msg dialog.IncomingMessage) error {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()
	if h == nil {
		logger.Warn(ctx, "tg", "update.skip", slog.String("reason", "no_handler"))
		return nil
	}
	h(ctx, msg)
	return nil
}
