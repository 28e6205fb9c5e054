// Package commands resolves incoming text to the registered command that
// should handle it.
package commands

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/logger"
)

const component = "dialog.commands"

type entry struct {
	cmd     dialog.Command
	pattern string
	re      *regexp.Regexp
}

// Table is an immutable, precedence-ordered set of active commands.
type Table struct {
	entries []entry
	errs    []error
}

// New builds a table from cmds. Inactive commands are dropped. Regex commands
// whose pattern does not compile are logged, reported by Errors and never match.
func New(cmds []dialog.Command) *Table {
	t := &Table{entries: make([]entry, 0, len(cmds))}
	for _, cmd := range cmds {
		if !cmd.IsActive {
			continue
		}
		e := entry{cmd: cmd}
		switch cmd.MatchType {
		case dialog.MatchExact, dialog.MatchContains:
			e.pattern = Normalize(cmd.Pattern)
			if e.pattern == "" {
				continue
			}
		case dialog.MatchRegex:
			re, err := regexp.Compile(cmd.Pattern)
			if err != nil {
				perr := &dialog.CommandPatternError{CommandID: cmd.ID, Pattern: cmd.Pattern, Err: err}
				t.errs = append(t.errs, perr)
				logger.Warn(context.Background(), component, "command.pattern.invalid",
					slog.Int64("command_id", cmd.ID),
					slog.String("pattern", logger.SanitizeLimit(cmd.Pattern, 128)),
					slog.String("err", err.Error()),
				)
				continue
			}
			e.re = re
		default:
			logger.Warn(context.Background(), component, "command.match_type.unknown",
				slog.Int64("command_id", cmd.ID),
				slog.String("match_type", string(cmd.MatchType)),
			)
			continue
		}
		t.entries = append(t.entries, e)
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i].cmd, t.entries[j].cmd
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if sa, sb := a.MatchType.Specificity(), b.MatchType.Specificity(); sa != sb {
			return sa > sb
		}
		return a.ID < b.ID
	})
	return t
}

// Match returns the highest-precedence active command matching text.
func (t *Table) Match(text string) (dialog.Command, bool) {
	return t.MatchWhere(text, nil)
}

// MatchWhere is Match restricted to the commands keep accepts. Rejected
// entries are skipped before precedence applies, so the best accepted match
// wins. A nil keep accepts every command.
func (t *Table) MatchWhere(text string, keep func(dialog.Command) bool) (dialog.Command, bool) {
	if t == nil {
		return dialog.Command{}, false
	}
	raw := strings.TrimSpace(text)
	if raw == "" {
		return dialog.Command{}, false
	}
	norm := Normalize(raw)
	for _, e := range t.entries {
		if keep != nil && !keep(e.cmd) {
			continue
		}
		switch e.cmd.MatchType {
		case dialog.MatchExact:
			if norm == e.pattern {
				return e.cmd, true
			}
		case dialog.MatchContains:
			if norm != "" && strings.Contains(norm, e.pattern) {
				return e.cmd, true
			}
		case dialog.MatchRegex:
			if e.re.MatchString(raw) {
				return e.cmd, true
			}
		}
	}
	return dialog.Command{}, false
}

// Len returns the number of matchable commands.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Errors lists pattern errors found while building the table.
func (t *Table) Errors() []error {
	if t == nil {
		return nil
	}
	return append([]error(nil), t.errs...)
}

// Menu returns active exact slash commands in precedence order, suitable for
// a transport command menu.
func (t *Table) Menu() []dialog.Command {
	if t == nil {
		return nil
	}
	var out []dialog.Command
	for _, e := range t.entries {
		if e.cmd.MatchType != dialog.MatchExact {
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(e.cmd.Pattern), "/") {
			continue
		}
		out = append(out, e.cmd)
	}
	return out
}

// Normalize trims s, lowercases it and, for slash-style input, strips the
// leading slash and any @botname suffix of the command token.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "/") {
		s = strings.TrimPrefix(s, "/")
		head, tail, hasTail := strings.Cut(s, " ")
		if at := strings.IndexByte(head, '@'); at > 0 {
			head = head[:at]
		}
		s = head
		if hasTail {
			s = head + " " + tail
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// IsSlashCommand reports whether text uses the explicit command prefix.
func IsSlashCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}
