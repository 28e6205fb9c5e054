package helpers

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
)

func TestIdentityOfCallbackUsesMessageChat(t *testing.T) {
	b, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	c := b.NewContext(tele.Update{ID: 7, Callback: &tele.Callback{
		Sender:  &tele.User{ID: 11},
		Message: &tele.Message{Chat: &tele.Chat{ID: 22}},
	}})
	id := IdentityOf(c)
	if id.UpdateID != 7 || id.UserID != 11 || id.ChatID != 22 {
		t.Fatalf("identity = %+v", id)
	}
	if IdentityOf(nil) != (Identity{}) {
		t.Fatal("nil context must yield zero identity")
	}
}

func TestBuildContextIsCached(t *testing.T) {
	b, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	c := b.NewContext(tele.Update{ID: 3, Message: &tele.Message{
		Sender: &tele.User{ID: 5},
		Chat:   &tele.Chat{ID: 5},
	}})

	ctx := WithHandler(c, "dialog.text")
	if logger.HandlerFrom(ctx) != "dialog.text" {
		t.Fatalf("handler = %q", logger.HandlerFrom(ctx))
	}
	if logger.RIDFrom(ctx) != logger.BuildRID(3, 5, 5) {
		t.Fatalf("rid = %q", logger.RIDFrom(ctx))
	}
	if again := BuildContext(c); logger.HandlerFrom(again) != "dialog.text" {
		t.Fatal("BuildContext must return the cached context")
	}

	fresh := b.NewContext(tele.Update{ID: 4})
	fresh.Set("rid", "custom")
	if got := logger.RIDFrom(BuildContext(fresh)); got != "custom" {
		t.Fatalf("rid = %q, want custom", got)
	}
}
