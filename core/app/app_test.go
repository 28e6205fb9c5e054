package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m3rciful/flowbot/core/bootstrap"
	coreconfig "github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/dialog"
	coretelegram "github.com/m3rciful/flowbot/core/telegram"
)

const seedDoc = `
flows:
  - name: Intro
    default: true
    steps:
      - key: name
        question: What's your name?
      - key: bye
        question: Bye {{name}}
        type: final
commands:
  - pattern: /start
    description: Start over
    action:
      type: startFlow
      flow: Intro
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedDoc), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	core := &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "x", AdminID: 99},
		Dialog:   coreconfig.DialogConfig{Storage: coreconfig.StorageMemory, SeedFile: path},
	}
	if err := coreconfig.Normalize(core); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return &Config{Core: core}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t), Options{Bootstrap: bootstrap.Options{
		LoggerInit: func(*coreconfig.Config) error { return nil },
	}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewSeedsAndLoadsCatalog(t *testing.T) {
	a := newTestApp(t)
	snap := a.Catalog().Snapshot()
	if snap.Version != 1 || snap.DefaultFlowID == 0 || snap.Commands.Len() != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	menu := a.Registry().ListCommands(false)
	if len(menu) != 1 || menu[0].Text != "start" || menu[0].Description != "Start over" {
		t.Fatalf("menu = %+v", menu)
	}
}

func TestEngineRunsSeededFlow(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	msg := dialog.IncomingMessage{ClientID: 5, Text: "/start", Timestamp: time.Now()}
	// The transport is unbound in tests, so replies fail to send; the
	// session must still advance.
	_ = a.Engine().Handle(ctx, msg)
	sess, ok := a.Engine().Session(5)
	if !ok || sess.FlowID != a.Catalog().Snapshot().DefaultFlowID || sess.StepID == 0 {
		t.Fatalf("session = %+v", sess)
	}
}

func TestTelegramRunOptions(t *testing.T) {
	a := newTestApp(t)
	opts, err := a.TelegramRunOptions()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Transport == nil || opts.Registry != a.Registry() || opts.OnStart == nil || opts.OnStop == nil {
		t.Fatalf("options = %+v", opts)
	}
	endpoints := map[interface{}]bool{}
	for _, r := range opts.Routes {
		endpoints[r.Endpoint] = true
	}
	for _, ep := range []string{"/reload", "/responses", "\fdlg"} {
		if !endpoints[ep] {
			t.Fatalf("missing route %q in %+v", ep, endpoints)
		}
	}
	if err := opts.OnStart(context.Background(), coretelegram.Runtime{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := opts.OnStop(context.Background(), coretelegram.Runtime{}); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestLoadConfigReadsDatabaseSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
telegram:
  token: t
dialog:
  storage: postgres
database:
  host: db
  name: flows
  user: bot
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DB_PASSWORD", "secret")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Host != "db" || cfg.Database.Password != "secret" || cfg.CoreConfig().Telegram.Token != "t" {
		t.Fatalf("cfg = %+v", cfg.Database)
	}

	if err := os.WriteFile(path, []byte("telegram:\n  token: t\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected missing database error")
	}
}
