package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m3rciful/flowbot/core/dialog/catalog"
	"github.com/m3rciful/flowbot/core/dialog/progress"
	"github.com/m3rciful/flowbot/core/logger"
	tg "github.com/m3rciful/flowbot/core/telegram"
	tghelpers "github.com/m3rciful/flowbot/core/telegram/helpers"
	"github.com/m3rciful/flowbot/core/telegram/middleware"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

const (
	// maxReplyLen stays under Telegram's 4096 character message limit.
	maxReplyLen     = 4000
	maxListedErrors = 10
)

// Reloader rebuilds the dialog catalog.
type Reloader interface {
	Reload(ctx context.Context) (*catalog.Snapshot, error)
}

// ResponseLister returns the stored answers of a client.
type ResponseLister interface {
	ClientResponses(ctx context.Context, clientID int64) ([]progress.Structured, error)
}

// AdminRouteOptions configures the admin commands.
type AdminRouteOptions struct {
	AdminID   int64
	Catalog   Reloader
	Responses ResponseLister
	Registry  *tg.Registry
	// Fallback receives the command when a non-admin sends it, so dialog
	// commands with the same text keep working.
	Fallback tele.HandlerFunc
}

type adminCommand struct {
	name, description string
	handler           tele.HandlerFunc
}

// AdminRoutes prepares /reload and /responses for the configured admin. No
// routes are returned without an admin ID.
func AdminRoutes(opts AdminRouteOptions) []tg.Route {
	if opts.AdminID == 0 {
		return nil
	}

	var cmds []adminCommand
	if opts.Catalog != nil {
		cmds = append(cmds, adminCommand{"/reload", "Reload commands and flows", reloadHandler(opts.Catalog)})
	}
	if opts.Responses != nil {
		cmds = append(cmds, adminCommand{"/responses", "Show answers of a client", responsesHandler(opts.Responses)})
	}

	adminOpts := middleware.AdminOptions{AdminID: opts.AdminID, OnReject: opts.Fallback}
	routes := make([]tg.Route, 0, len(cmds))
	for _, cmd := range cmds {
		cmd := cmd
		h := func(c tele.Context) error {
			return handleWithSummary(c, "admin."+normalizeHandlerName(cmd.name), time.Now(), "", "", func() error {
				return cmd.handler(c)
			})
		}
		h = middleware.AdminOnlyMiddleware(adminOpts)(h)
		h = middleware.LoggerMiddleware(h)
		h = middleware.RecoverMiddleware(h)
		routes = append(routes, tg.Route{Endpoint: cmd.name, Handler: h})
		if opts.Registry != nil {
			opts.Registry.RegisterAdminCommand(cmd.name, cmd.description)
		}
	}

	logger.Info(context.Background(), "tg.wire", "tg.wire",
		slog.String("status", "complete"),
		slog.Int("admin_commands", len(routes)),
	)
	return routes
}

func reloadHandler(cat Reloader) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		snap, err := cat.Reload(ctx)
		if err != nil {
			return tghelpers.SendText(c, "Reload failed: "+err.Error())
		}
		return sendChunks(c, reloadSummary(snap))
	}
}

func reloadSummary(snap *catalog.Snapshot) string {
	var b strings.Builder
	errs := snap.Errors()
	fmt.Fprintf(&b, "Catalog v%d: %d commands, %d flows, %d config errors",
		snap.Version, snap.Commands.Len(), len(snap.FlowIDs()), len(errs))
	for i, e := range errs {
		if i == maxListedErrors {
			fmt.Fprintf(&b, "\n... and %d more", len(errs)-maxListedErrors)
			break
		}
		b.WriteString("\n- ")
		b.WriteString(e.Error())
	}
	return b.String()
}

func responsesHandler(lister ResponseLister) tele.HandlerFunc {
	return func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return tghelpers.SendText(c, "Usage: /responses <client id>")
		}
		clientID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return tghelpers.SendText(c, "Client id must be a number")
		}
		list, err := lister.ClientResponses(tghelpers.BuildContext(c), clientID)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return tghelpers.SendText(c, fmt.Sprintf("No responses for client %d", clientID))
		}
		parts := make([]string, 0, len(list))
		for _, s := range list {
			parts = append(parts, fmt.Sprintf("#%d %s", s.Response.ID, progress.FormatResponses(s)))
		}
		return sendChunks(c, strings.Join(parts, "\n\n"))
	}
}

func sendChunks(c tele.Context, text string) error {
	for _, chunk := range splitText(text, maxReplyLen) {
		if err := tghelpers.SendText(c, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts text into pieces of at most limit bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitText(text string, limit int) []string {
	var out []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
