package postgres

import (
	"testing"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
)

func TestClientRowKeepsSessionColumns(t *testing.T) {
	in := dialog.Client{ID: 7, DialogOpen: true, CurrentFlowID: 2, CurrentStepID: 0, FlowData: dialog.FlowData{"name": "Anna"}}
	row, err := toClientRow(in)
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if !row.CurrentFlowID.Valid || row.CurrentStepID.Valid {
		t.Fatalf("zero ids must be NULL: %+v", row)
	}
	out, err := row.model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if out.CurrentFlowID != 2 || out.FlowData["name"] != "Anna" || !out.DialogOpen {
		t.Fatalf("client = %+v", out)
	}
}

func TestClientRowNilFlowDataStoresObject(t *testing.T) {
	row, err := toClientRow(dialog.Client{ID: 1})
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if string(row.FlowData) != "{}" {
		t.Fatalf("flow_data = %s", row.FlowData)
	}
}

func TestStepRowLeavesBrokenRuleToGraph(t *testing.T) {
	row := stepRow{
		ID:           3,
		ResponseType: "text",
		Options:      []byte(`[{"label":"Yes","value":"y","nextStepId":4}]`),
		Config:       []byte(`{"saveAs":"x","validate":{"kind":"regex","pattern":"("}}`),
	}
	st, err := row.model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if st.Config.SaveAs != "x" || st.Config.Validate == nil || len(st.Options) != 1 || st.Options[0].NextStepID != 4 {
		t.Fatalf("step = %+v", st)
	}
}

func TestStepRowRejectsMalformedJSON(t *testing.T) {
	if _, err := (stepRow{ID: 1, Options: []byte(`{`)}).model(); err == nil {
		t.Fatal("expected options error")
	}
}

func TestCommandRowRoundTripsAction(t *testing.T) {
	in := dialog.Command{ID: 5, Pattern: "/join", MatchType: dialog.MatchExact, IsActive: true,
		Action: dialog.SendFlowInvitation{FlowID: 2, Message: "Join?", ButtonText: "Go"}}
	row, err := toCommandRow(in)
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	out, err := row.model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	inv, ok := out.Action.(dialog.SendFlowInvitation)
	if !ok || inv.FlowID != 2 || inv.ButtonText != "Go" {
		t.Fatalf("action = %#v", out.Action)
	}

	row.Action = nil
	out, err = row.model()
	if err != nil || out.Action != nil {
		t.Fatalf("nil action = %#v, %v", out.Action, err)
	}
}

func TestResponseRowDecodesStepKeys(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	row, err := toResponseRow(dialog.FlowResponse{ID: 1, Responses: map[int64]any{10: "a", 11: true}, Completed: true, CompletedAt: &at})
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	out, err := row.model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if out.Responses[10] != "a" || out.Responses[11] != true || out.CompletedAt == nil || !out.CompletedAt.Equal(at) {
		t.Fatalf("response = %+v", out)
	}
}

func TestListenerSignalCoalesces(t *testing.T) {
	l := NewListener("", "")
	if l.channel != CatalogChannel {
		t.Fatalf("channel = %q", l.channel)
	}
	l.signal()
	l.signal()
	<-l.C()
	select {
	case <-l.C():
		t.Fatal("signals should coalesce")
	default:
	}
}
