package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		data, unique, payload string
	}{
		{"\fdlg|flow:2", "dlg", "flow:2"},
		{"\fdlg|a|b", "dlg", "a|b"},
		{"\fdlg", "dlg", ""},
		{"plain", "", "plain"},
	}
	for _, tc := range cases {
		u, p := ParseCallbackData(&tele.Callback{Data: tc.data})
		if u != tc.unique || p != tc.payload {
			t.Fatalf("%q -> (%q, %q), want (%q, %q)", tc.data, u, p, tc.unique, tc.payload)
		}
	}
	if u, p := ParseCallbackData(nil); u != "" || p != "" {
		t.Fatal("nil callback should parse empty")
	}
}
