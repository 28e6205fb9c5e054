package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/storage"
)

func TestSaveAssignsIDsAndFindCopies(t *testing.T) {
	st := New()
	ctx := context.Background()
	c := dialog.Client{ID: 100, FlowData: dialog.FlowData{"k": "v"}}
	if err := st.Clients.Save(ctx, &c); err != nil {
		t.Fatalf("save: %v", err)
	}
	c.FlowData["k"] = "mutated"
	got, err := st.Clients.Find(ctx, 100)
	if err != nil || got.FlowData["k"] != "v" {
		t.Fatalf("find = %+v, %v", got, err)
	}

	cmd := dialog.Command{Pattern: "/a", MatchType: dialog.MatchExact}
	if err := st.Commands.Save(ctx, &cmd); err != nil || cmd.ID != 1 {
		t.Fatalf("command id = %d, %v", cmd.ID, err)
	}
	if _, err := st.Commands.Find(ctx, 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing find err = %v", err)
	}
	if err := st.Commands.Delete(ctx, cmd.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Commands.Delete(ctx, cmd.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestListFilters(t *testing.T) {
	st := New()
	ctx := context.Background()
	for _, active := range []bool{true, false, true} {
		f := dialog.Flow{Name: "f", IsActive: active}
		_ = st.Flows.Save(ctx, &f)
	}
	all, _ := st.Flows.List(ctx, false)
	active, _ := st.Flows.List(ctx, true)
	if len(all) != 3 || len(active) != 2 || active[1].ID != 3 {
		t.Fatalf("all=%d active=%+v", len(all), active)
	}

	for _, idx := range []int{3, 1, 2} {
		s := dialog.Step{FlowID: 1, OrderIndex: idx}
		_ = st.Steps.Save(ctx, &s)
	}
	steps, _ := st.Steps.ListByFlow(ctx, 1)
	if len(steps) != 3 || steps[0].OrderIndex != 1 || steps[2].OrderIndex != 3 {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestResponseAnswersAndCompletion(t *testing.T) {
	st := New()
	ctx := context.Background()
	r := dialog.FlowResponse{ClientID: 1, FlowID: 1}
	_ = st.Responses.Save(ctx, &r)
	if err := st.Responses.SetAnswer(ctx, r.ID, 5, "a"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := st.Responses.SetAnswer(ctx, r.ID, 5, "b"); err != nil {
		t.Fatalf("set answer again: %v", err)
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := st.Responses.Complete(ctx, r.ID, at); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := st.Responses.Find(ctx, r.ID)
	if got.Responses[5] != "b" || !got.Completed || !got.CompletedAt.Equal(at) {
		t.Fatalf("response = %+v", got)
	}
	if err := st.Responses.SetAnswer(ctx, 99, 1, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing response err = %v", err)
	}
}

func TestFailWrites(t *testing.T) {
	st := New()
	ctx := context.Background()
	boom := errors.New("boom")
	st.FailWrites(boom)
	c := dialog.Client{ID: 1}
	if err := st.Clients.Save(ctx, &c); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	st.FailWrites(nil)
	if err := st.Clients.Save(ctx, &c); err != nil {
		t.Fatalf("err after reset = %v", err)
	}
}

func TestLoadFlowAttachesSteps(t *testing.T) {
	st := New()
	ctx := context.Background()
	f := dialog.Flow{Name: "f", IsActive: true}
	_ = st.Flows.Save(ctx, &f)
	s := dialog.Step{FlowID: f.ID, OrderIndex: 1}
	_ = st.Steps.Save(ctx, &s)
	got, err := storage.LoadFlow(ctx, st.Set(), f.ID)
	if err != nil || len(got.Steps) != 1 {
		t.Fatalf("load flow = %+v, %v", got, err)
	}
}
