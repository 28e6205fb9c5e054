package keyboard

import (
	"testing"

	"github.com/m3rciful/flowbot/core/dialog"
)

func TestFromDialogBuildsDataAndURLButtons(t *testing.T) {
	markup := FromDialog([][]dialog.Button{
		{{Label: "Yes", Value: "y"}, {Label: "No", Value: "n"}},
		{{Label: "Docs", URL: "https://example.com"}},
		{},
	}, "dlg")
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d", len(markup.InlineKeyboard))
	}
	yes := markup.InlineKeyboard[0][0]
	if yes.Text != "Yes" || yes.Unique != "dlg" || yes.Data != "y" {
		t.Fatalf("yes = %+v", yes)
	}
	docs := markup.InlineKeyboard[1][0]
	if docs.URL != "https://example.com" || docs.Data != "" {
		t.Fatalf("docs = %+v", docs)
	}
}

func TestFromDialogEmpty(t *testing.T) {
	if FromDialog(nil, "dlg") != nil {
		t.Fatal("expected nil markup")
	}
}
