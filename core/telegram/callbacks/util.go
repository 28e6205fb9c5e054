// Package callbacks decodes Telegram callback data.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// DialogUnique is the unique prefix of buttons rendered from dialog options.
const DialogUnique = "dlg"

// ParseCallbackData parses Telebot's \f<unique>|<payload> encoding. Data
// without the leading form feed is returned whole as the payload.
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	raw := cb.Data
	if !strings.HasPrefix(raw, "\f") {
		return "", raw
	}
	parts := strings.SplitN(strings.TrimPrefix(raw, "\f"), "|", 2)
	unique := strings.TrimSpace(parts[0])
	payload := ""
	if len(parts) == 2 {
		payload = parts[1]
	}
	return unique, payload
}

// CallbackKey returns cb.Unique if present; otherwise parses from Data.
func CallbackKey(c tele.Context) string {
	cb := c.Callback()
	if cb == nil {
		return ""
	}
	if cb.Unique != "" {
		return cb.Unique
	}
	k, _ := ParseCallbackData(cb)
	return k
}

// CallbackPayload returns the payload. Telebot has already split Data when
// the unique matched a registered endpoint.
func CallbackPayload(c tele.Context) string {
	cb := c.Callback()
	if cb == nil {
		return ""
	}
	if cb.Unique != "" {
		return cb.Data
	}
	_, payload := ParseCallbackData(cb)
	return payload
}
