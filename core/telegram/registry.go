package telegram

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/logger"
)

const maxCommandDescription = 256

var commandNameRe = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// CommandSetter publishes the command menu. *tele.Bot implements it.
type CommandSetter interface {
	SetCommands(opts ...interface{}) error
}

// Registry holds the bot command menu. Dialog commands come from the
// catalog and are replaced on every reload; admin commands are registered
// once and stay hidden from the public menu.
type Registry struct {
	mu     sync.RWMutex
	dialog []tele.Command
	admin  map[string]string
	setter CommandSetter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{admin: make(map[string]string)}
}

// RegisterAdminCommand records a hidden admin command.
func (r *Registry) RegisterAdminCommand(name, description string) {
	text, ok := commandName(name)
	if !ok || description == "" {
		logger.Warn(context.Background(), "tg.wire", "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.admin[text]; exists {
		logger.Warn(context.Background(), "tg.wire", "register.command.duplicate", slog.String("name", name))
		return
	}
	r.admin[text] = description
}

// SetMenu replaces the dialog commands with the slash commands in cmds and
// publishes the menu when a setter is attached. Patterns Telegram would
// reject are skipped.
func (r *Registry) SetMenu(ctx context.Context, cmds []dialog.Command) {
	seen := make(map[string]struct{}, len(cmds))
	menu := make([]tele.Command, 0, len(cmds))
	for _, cmd := range cmds {
		text, ok := commandName(cmd.Pattern)
		if !ok {
			logger.Debug(ctx, "tg.wire", "register.command.skip",
				slog.String("name", cmd.Pattern),
				slog.String("reason", "not_a_menu_command"),
			)
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		desc := strings.TrimSpace(cmd.Description)
		if desc == "" {
			desc = "/" + text
		}
		if len(desc) > maxCommandDescription {
			desc = desc[:maxCommandDescription]
		}
		menu = append(menu, tele.Command{Text: text, Description: desc})
	}
	sort.Slice(menu, func(i, j int) bool { return menu[i].Text < menu[j].Text })

	r.mu.Lock()
	r.dialog = menu
	setter := r.setter
	r.mu.Unlock()
	if setter != nil {
		publish(ctx, setter, menu)
	}
}

// ListCommands returns the public menu, optionally with admin commands.
func (r *Registry) ListCommands(withAdmin bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := append([]tele.Command(nil), r.dialog...)
	if withAdmin {
		for text, desc := range r.admin {
			list = append(list, tele.Command{Text: text, Description: desc})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	}
	return list
}

// SetupCommands attaches the setter and publishes the current menu.
func SetupCommands(setter CommandSetter, reg *Registry) {
	if setter == nil || reg == nil {
		return
	}
	reg.mu.Lock()
	reg.setter = setter
	reg.mu.Unlock()
	InitBotCommands(setter, reg)
}

// InitBotCommands sets the Telegram bot commands shown in the command menu.
func InitBotCommands(setter CommandSetter, reg *Registry) {
	publish(context.Background(), setter, reg.ListCommands(false))
}

func publish(ctx context.Context, setter CommandSetter, menu []tele.Command) {
	if err := setter.SetCommands(menu); err != nil {
		logger.Error(ctx, "tg.wire", "register.commands.set_failed", slog.String("err", err.Error()))
		return
	}
	logger.Info(ctx, "tg.wire", "register.commands.set", slog.Int("commands", len(menu)))
}

// commandName turns "/Start" into "start" when it is a valid menu command.
func commandName(pattern string) (string, bool) {
	p := strings.TrimSpace(pattern)
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	name := strings.ToLower(strings.TrimPrefix(p, "/"))
	return name, commandNameRe.MatchString(name)
}
