// Package app wires storage, the dialog engine and the Telegram transport
// into a runnable bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/bootstrap"
	"github.com/m3rciful/flowbot/core/dialog/catalog"
	"github.com/m3rciful/flowbot/core/dialog/engine"
	"github.com/m3rciful/flowbot/core/dialog/progress"
	"github.com/m3rciful/flowbot/core/dialog/router"
	"github.com/m3rciful/flowbot/core/dialog/seed"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/metrics"
	"github.com/m3rciful/flowbot/core/storage/postgres"
	coretelegram "github.com/m3rciful/flowbot/core/telegram"
	tghelpers "github.com/m3rciful/flowbot/core/telegram/helpers"
	tgrouter "github.com/m3rciful/flowbot/core/telegram/router"
	tgsender "github.com/m3rciful/flowbot/core/telegram/sender"
)

const component = "app"

// Options override infrastructure steps, mainly for tests.
type Options struct {
	Bootstrap bootstrap.Options
}

// App owns the long-lived components of a running bot.
type App struct {
	cfg *Config

	res       *bootstrap.Result
	metrics   *metrics.Metrics
	catalog   *catalog.Catalog
	tracker   *progress.Tracker
	engine    *engine.Engine
	transport *coretelegram.Transport
	registry  *coretelegram.Registry
	listener  *postgres.Listener

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New bootstraps storage, loads the catalog and wires the engine to a
// Telegram transport. The bot itself is started by RunTelegram.
func New(ctx context.Context, cfg *Config, opts Options) (*App, error) {
	if cfg == nil || cfg.Core == nil {
		return nil, errors.New("app: nil config")
	}
	core := cfg.Core

	bopts := opts.Bootstrap
	bopts.Config = core
	bopts.Database = cfg.Database
	if core.Dialog.SeedFile != "" {
		file, err := seed.Load(core.Dialog.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		bopts.Modules.Seeders = append(bopts.Modules.Seeders, seed.Seeder{File: file})
	}
	res, err := bootstrap.Run(ctx, bopts)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		res:       res,
		metrics:   metrics.New(),
		transport: coretelegram.NewTransport(""),
		registry:  coretelegram.NewRegistry(),
	}

	var src catalog.Source = catalog.FromRepositories(res.Storage)
	if res.Postgres != nil {
		src = res.Postgres
		if core.Dialog.Listen {
			a.listener = postgres.NewListener(cfg.Database.DSN(), postgres.CatalogChannel)
		}
	}
	a.catalog = catalog.New(src)
	a.catalog.OnResult = a.metrics.ObserveReload
	a.catalog.OnReload = func(ctx context.Context, s *catalog.Snapshot) {
		a.registry.SetMenu(ctx, s.Commands.Menu())
	}
	if _, err := a.catalog.Reload(ctx); err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("app: initial catalog load: %w", err)
	}

	a.tracker = progress.New(res.Storage)
	a.engine, err = engine.New(engine.Options{
		Catalog: a.catalog,
		Router: router.New(router.Options{
			FallbackMessage:    core.Dialog.FallbackMessage,
			InvalidMessage:     core.Dialog.InvalidMessage,
			UnavailableMessage: core.Dialog.UnavailableMessage,
			InvitationButton:   core.Dialog.InvitationButton,
			ContinueButton:     core.Dialog.ContinueButton,
		}),
		Tracker:      a.tracker,
		Metrics:      a.metrics,
		RetryMessage: core.Dialog.RetryMessage,
	})
	if err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.engine.Attach(a.transport)
	return a, nil
}

// Engine returns the dialog engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Catalog returns the definition catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Registry returns the command menu registry.
func (a *App) Registry() *coretelegram.Registry { return a.registry }

// Metrics returns the metrics collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// TelegramRunOptions describes the bot for RunTelegram.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.Core
	sender := core.Dialog.Sender

	routes := tgrouter.AdminRoutes(tgrouter.AdminRouteOptions{
		AdminID:   core.Telegram.AdminID,
		Catalog:   a.catalog,
		Responses: a.tracker,
		Registry:  a.registry,
		Fallback:  a.transport.HandleText,
	})
	routes = append(routes, tgrouter.CallbackRoutes(a.transport)...)
	routes = append(routes, tgrouter.TextRoutes(a.transport, tgrouter.TextOptions{
		UnsupportedMedia: a.unsupportedMedia,
	})...)

	return coretelegram.RunOptions{
		Config:    core,
		Registry:  a.registry,
		Transport: a.transport,
		Metrics:   a.metrics,
		DispatcherOptions: tgsender.Options{
			Workers:      sender.Workers,
			QueueSize:    sender.QueueSize,
			MaxRetries:   sender.MaxRetries,
			RetryBackoff: sender.RetryBackoff(),
			MaxDuration:  sender.MaxDuration(),
		},
		Middlewares: coretelegram.DefaultMiddlewares(core, a.metrics, nil),
		Routes:      routes,
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) unsupportedMedia(c tele.Context) error {
	text := a.cfg.Core.Dialog.InvalidMessage
	if text == "" {
		text = "Please answer with a text message."
	}
	return tghelpers.SendText(c, text)
}

// onStart launches the background loops: catalog watching, the database
// listener and the metrics server.
func (a *App) onStart(ctx context.Context, _ coretelegram.Runtime) error {
	bg, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	core := a.cfg.Core

	var notify <-chan struct{}
	if a.listener != nil {
		notify = a.listener.C()
		a.goLoop(func() {
			if err := a.listener.Run(bg); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(bg, component, "listener.stop", slog.String("err", err.Error()))
			}
		})
	}
	if notify != nil || core.Dialog.ReloadInterval() > 0 {
		a.goLoop(func() { a.catalog.Watch(bg, core.Dialog.ReloadInterval(), notify) })
	}
	if core.Metrics.Listen != "" {
		a.goLoop(func() { _ = a.metrics.Serve(bg, core.Metrics.Listen) })
	}
	logger.Info(ctx, component, "app.start",
		slog.String("storage", core.Dialog.Storage),
		slog.Bool("listen", a.listener != nil),
		slog.Duration("reload_interval", core.Dialog.ReloadInterval()),
		slog.String("metrics", core.Metrics.Listen),
	)
	return nil
}

func (a *App) goLoop(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) onStop(context.Context, coretelegram.Runtime) error {
	return a.Close()
}

// Close stops the background loops and releases storage.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.closeErr = a.res.Close()
	})
	return a.closeErr
}
