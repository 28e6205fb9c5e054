package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/metrics"
	tgsender "github.com/m3rciful/flowbot/core/telegram/sender"
)

type sent struct {
	to   string
	text string
	opts *tele.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sent{to: to.Recipient(), text: what.(string)}
	if len(opts) > 0 {
		s.opts, _ = opts[0].(*tele.SendOptions)
	}
	f.sent = append(f.sent, s)
	return &tele.Message{}, f.err
}

// testBot answers every API call with ok so callback acknowledgements stay
// off the network.
func testBot(t *testing.T) *tele.Bot {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	t.Cleanup(srv.Close)
	b, err := tele.NewBot(tele.Settings{URL: srv.URL, Token: "1:test", Offline: true})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	return b
}

func privateText(b *tele.Bot, userID int64, text string) tele.Context {
	return b.NewContext(tele.Update{ID: 10, Message: &tele.Message{
		Sender:   &tele.User{ID: userID, Username: "ann", FirstName: "Ann"},
		Chat:     &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		Text:     text,
		Unixtime: 1700000000,
	}})
}

func TestSendRequiresBind(t *testing.T) {
	tr := NewTransport("")
	if err := tr.Send(context.Background(), dialog.OutgoingMessage{ClientID: 1, Text: "hi"}); !errors.Is(err, ErrNotBound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendRendersButtons(t *testing.T) {
	fs := &fakeSender{}
	tr := NewTransport("")
	tr.Bind(fs, nil)

	err := tr.Send(context.Background(), dialog.OutgoingMessage{
		ClientID: 42,
		Text:     "Pick one",
		Buttons:  [][]dialog.Button{{{Label: "A", Value: "a"}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0].to != "42" || fs.sent[0].text != "Pick one" {
		t.Fatalf("sent = %+v", fs.sent)
	}
	markup := fs.sent[0].opts.ReplyMarkup
	if markup == nil || markup.InlineKeyboard[0][0].Data != "a" || markup.InlineKeyboard[0][0].Unique != "dlg" {
		t.Fatalf("markup = %+v", markup)
	}

	if err := tr.Send(context.Background(), dialog.OutgoingMessage{ClientID: 42, Text: "  "}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("empty err = %v", err)
	}
}

func TestSendThroughDispatcherKeepsOrder(t *testing.T) {
	fs := &fakeSender{}
	disp := tgsender.NewDispatcher(tgsender.Options{Workers: 3})
	tr := NewTransport("")
	tr.Bind(fs, disp)
	for _, text := range []string{"one", "two", "three"} {
		if err := tr.Send(context.Background(), dialog.OutgoingMessage{ClientID: 7, Text: text}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	disp.Close()
	if len(fs.sent) != 3 || fs.sent[0].text != "one" || fs.sent[2].text != "three" {
		t.Fatalf("sent = %+v", fs.sent)
	}
	if fs.sent[0].opts.ReplyMarkup != nil {
		t.Fatal("plain text must not carry markup")
	}
}

func TestHandleTextBuildsIncomingMessage(t *testing.T) {
	b := testBot(t)
	tr := NewTransport("")
	var got []dialog.IncomingMessage
	tr.OnMessage(func(_ context.Context, msg dialog.IncomingMessage) { got = append(got, msg) })

	if err := tr.HandleText(privateText(b, 5, "hello")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got = %+v", got)
	}
	m := got[0]
	if m.ClientID != 5 || m.Text != "hello" || m.Username != "ann" || m.FirstName != "Ann" || m.IsCallback() {
		t.Fatalf("msg = %+v", m)
	}
	if !m.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp = %v", m.Timestamp)
	}

	group := b.NewContext(tele.Update{Message: &tele.Message{
		Sender: &tele.User{ID: 5},
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatGroup},
		Text:   "hello",
	}})
	_ = tr.HandleText(group)
	if len(got) != 1 {
		t.Fatal("group messages must be ignored")
	}
}

func TestHandleCallbackForwardsDialogButtons(t *testing.T) {
	b := testBot(t)
	tr := NewTransport("")
	var got []dialog.IncomingMessage
	tr.OnMessage(func(_ context.Context, msg dialog.IncomingMessage) { got = append(got, msg) })

	press := func(data string) tele.Context {
		return b.NewContext(tele.Update{Callback: &tele.Callback{
			ID:     "cb",
			Sender: &tele.User{ID: 9},
			Data:   data,
		}})
	}
	_ = tr.HandleCallback(press("\fdlg|flow:3"))
	_ = tr.HandleCallback(press("\fother|x"))
	_ = tr.HandleCallback(press("\fdlg|"))

	if len(got) != 1 || got[0].CallbackData != "flow:3" || got[0].ClientID != 9 {
		t.Fatalf("got = %+v", got)
	}
}

func TestLifecycleRetriesStart(t *testing.T) {
	m := metrics.New()
	lc := NewLifecycle(LifecycleOptions{Retries: 2, Backoff: time.Millisecond, Metrics: m})
	calls := 0
	err := lc.Start(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("getMe failed")
		}
		return nil
	})
	if err != nil || calls != 3 || lc.State() != StateRunning {
		t.Fatalf("err = %v, calls = %d, state = %s", err, calls, lc.State())
	}
	if err := lc.Start(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrNotStopped) {
		t.Fatalf("second start err = %v", err)
	}
	lc.Stop()
	if lc.State() != StateStopped {
		t.Fatalf("state = %s", lc.State())
	}
}

func TestLifecycleGivesUp(t *testing.T) {
	lc := NewLifecycle(LifecycleOptions{Retries: 1})
	boom := errors.New("boom")
	calls := 0
	err := lc.Start(context.Background(), func(context.Context) error { calls++; return boom })
	if !errors.Is(err, boom) || calls != 2 || lc.State() != StateStopped {
		t.Fatalf("err = %v, calls = %d, state = %s", err, calls, lc.State())
	}
}

func TestLifecycleStopsOnCancel(t *testing.T) {
	lc := NewLifecycle(LifecycleOptions{Retries: 5, Backoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := lc.Start(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

type fakeSetter struct {
	menus [][]tele.Command
}

func (f *fakeSetter) SetCommands(opts ...interface{}) error {
	f.menus = append(f.menus, opts[0].([]tele.Command))
	return nil
}

func TestRegistryMenu(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterAdminCommand("/reload", "Reload")
	reg.RegisterAdminCommand("reload", "no slash")

	setter := &fakeSetter{}
	SetupCommands(setter, reg)
	if len(setter.menus) != 1 || len(setter.menus[0]) != 0 {
		t.Fatalf("initial menus = %+v", setter.menus)
	}

	reg.SetMenu(context.Background(), []dialog.Command{
		{Pattern: "/Start", Description: "Begin"},
		{Pattern: "/help"},
		{Pattern: "/start"},
		{Pattern: "/with space"},
		{Pattern: "hello"},
	})
	if len(setter.menus) != 2 {
		t.Fatalf("menus = %+v", setter.menus)
	}
	menu := setter.menus[1]
	if len(menu) != 2 || menu[0].Text != "help" || menu[0].Description != "/help" || menu[1].Text != "start" || menu[1].Description != "Begin" {
		t.Fatalf("menu = %+v", menu)
	}
	if all := reg.ListCommands(true); len(all) != 3 {
		t.Fatalf("with admin = %+v", all)
	}
}

func TestBuildPoller(t *testing.T) {
	lp, ok := BuildPoller(PollerOptions{}).(*tele.LongPoller)
	if !ok || lp.Timeout != defaultLongPollTimeout {
		t.Fatalf("poller = %#v", lp)
	}
	wh, ok := BuildPoller(PollerOptions{RunMode: "Webhook", Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://x"}}).(*tele.Webhook)
	if !ok || wh.Listen != "0.0.0.0:8443" || wh.Endpoint.PublicURL != "https://x" {
		t.Fatalf("webhook = %#v", wh)
	}
	if c := BuildHTTPClient(50 * time.Second); c.Timeout < 55*time.Second {
		t.Fatalf("client timeout = %v", c.Timeout)
	}
}
