package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/dialog/catalog"
	"github.com/m3rciful/flowbot/core/dialog/progress"
	tg "github.com/m3rciful/flowbot/core/telegram"
)

type stubReloader struct{}

func (stubReloader) Reload(context.Context) (*catalog.Snapshot, error) {
	return catalog.Build(nil, nil), nil
}

type stubLister struct{}

func (stubLister) ClientResponses(context.Context, int64) ([]progress.Structured, error) {
	return nil, nil
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	if routes := AdminRoutes(AdminRouteOptions{Catalog: stubReloader{}}); routes != nil {
		t.Fatalf("routes without admin = %+v", routes)
	}
	reg := tg.NewRegistry()
	routes := AdminRoutes(AdminRouteOptions{AdminID: 1, Catalog: stubReloader{}, Responses: stubLister{}, Registry: reg})
	if len(routes) != 2 || routes[0].Endpoint != "/reload" || routes[1].Endpoint != "/responses" {
		t.Fatalf("routes = %+v", routes)
	}
	if len(reg.ListCommands(true)) != 2 || len(reg.ListCommands(false)) != 0 {
		t.Fatalf("registry = %+v", reg.ListCommands(true))
	}
}

func TestAdminRoutesForwardNonAdmins(t *testing.T) {
	b, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	forwarded := 0
	routes := AdminRoutes(AdminRouteOptions{
		AdminID:  1,
		Catalog:  stubReloader{},
		Fallback: func(tele.Context) error { forwarded++; return nil },
	})
	c := b.NewContext(tele.Update{ID: 3, Message: &tele.Message{
		Sender: &tele.User{ID: 2},
		Chat:   &tele.Chat{ID: 2, Type: tele.ChatPrivate},
		Text:   "/reload",
	}})
	if err := routes[0].Handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if forwarded != 1 {
		t.Fatalf("forwarded = %d", forwarded)
	}
}

func TestReloadSummaryListsErrors(t *testing.T) {
	snap := catalog.Build([]dialog.Command{
		{ID: 1, Pattern: "(", MatchType: dialog.MatchRegex, IsActive: true},
	}, nil)
	out := reloadSummary(snap)
	if !strings.HasPrefix(out, "Catalog v0: 0 commands, 0 flows, 1 config errors") || !strings.Contains(out, "\n- ") {
		t.Fatalf("summary = %q", out)
	}
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}
	got := splitText("aaaa\nbbbb\ncccc", 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("lines = %q", got)
	}
	got = splitText(strings.Repeat("é", 6), 5)
	for _, part := range got {
		if len(part) > 5 || !strings.HasPrefix(part, "é") {
			t.Fatalf("runes split badly: %q", got)
		}
	}
	if strings.Join(got, "") != strings.Repeat("é", 6) {
		t.Fatalf("lost text: %q", got)
	}
}

func TestCallbackRoutes(t *testing.T) {
	routes := CallbackRoutes(tg.NewTransport(""))
	if len(routes) != 2 || routes[0].Endpoint != "\fdlg" || routes[1].Endpoint != tele.OnCallback {
		t.Fatalf("routes = %+v", routes)
	}
	if CallbackRoutes(nil) != nil || TextRoutes(nil, TextOptions{}) != nil {
		t.Fatal("nil transport must yield no routes")
	}
	text := TextRoutes(tg.NewTransport(""), TextOptions{UnsupportedMedia: func(tele.Context) error { return nil }})
	if len(text) != 1+len(mediaEndpoints) {
		t.Fatalf("text routes = %d", len(text))
	}
}

func TestDeriveErrorCode(t *testing.T) {
	if got := deriveErrorCode(&dialog.FlowConfigError{}); got != "FLOWCONFIGERROR" {
		t.Fatalf("code = %q", got)
	}
	if deriveErrorCode(nil) != "" || deriveErrorCode(errors.New("x")) == "" {
		t.Fatal("unexpected codes")
	}
}
