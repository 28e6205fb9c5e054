// Package keyboard builds Telegram reply markup.
package keyboard

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/dialog"
)

// InlineBtn describes one inline button. URL buttons ignore Unique and Data.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
	URL    string
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				r = append(r, *markup.URL(btn.Text, btn.URL).Inline())
				continue
			}
			r = append(r, *markup.Data(btn.Text, btn.Unique, btn.Data).Inline())
		}
		if len(r) > 0 {
			inline = append(inline, r)
		}
	}
	markup.InlineKeyboard = inline
	return markup
}

// FromDialog converts dialog button rows into an inline keyboard whose
// callback data carries each button value under unique. It returns nil when
// there are no buttons.
func FromDialog(rows [][]dialog.Button, unique string) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]InlineBtn, 0, len(rows))
	for _, row := range rows {
		r := make([]InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, InlineBtn{Text: b.Label, Unique: unique, Data: b.Value, URL: b.URL})
		}
		out = append(out, r)
	}
	return InlineButtonsRows(out...)
}
