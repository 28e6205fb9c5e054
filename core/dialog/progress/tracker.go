// Package progress records session transitions as durable flow responses
// and renders stored responses for review.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/storage"
)

const component = "dialog.progress"

// Tracker persists sessions and their flow responses.
type Tracker struct {
	repos storage.Set
	now   func() time.Time
}

// New returns a Tracker writing through repos.
func New(repos storage.Set) *Tracker {
	return &Tracker{repos: repos, now: time.Now}
}

// OnSessionMutated applies one event to the durable record and saves the
// session. It owns s.ResponseID: set when a flow starts and cleared when the
// flow ends. Failures are returned as *dialog.PersistenceError.
func (t *Tracker) OnSessionMutated(ctx context.Context, s *dialog.Session, ev dialog.Event) error {
	at := ev.At
	if at.IsZero() {
		at = t.now()
	}

	var errs []error
	switch ev.Kind {
	case dialog.EventFlowStarted:
		resp := dialog.FlowResponse{ClientID: s.ClientID, FlowID: ev.FlowID, Responses: map[int64]any{}, CreatedAt: at, UpdatedAt: at}
		if err := t.repos.Responses.Save(ctx, &resp); err != nil {
			s.ResponseID = 0
			errs = append(errs, t.fail("create response", s.ClientID, err))
		} else {
			s.ResponseID = resp.ID
		}
	case dialog.EventAnswerAccepted:
		if err := t.ensureResponse(ctx, s, ev, at); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.repos.Responses.SetAnswer(ctx, s.ResponseID, ev.StepID, ev.Value); err != nil {
			errs = append(errs, t.fail("record answer", s.ClientID, err))
		}
	case dialog.EventFlowCompleted:
		if s.ResponseID != 0 {
			if err := t.repos.Responses.Complete(ctx, s.ResponseID, at); err != nil {
				errs = append(errs, t.fail("complete response", s.ClientID, err))
			}
		}
		s.ResponseID = 0
	case dialog.EventFlowCancelled, dialog.EventSessionReset:
		s.ResponseID = 0
	}

	if err := t.SaveSession(ctx, *s); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil || logger.ShouldSampleDebugFor("progress." + string(ev.Kind)) {
		logger.Debug(ctx, component, "progress.event",
			slog.String("status", logger.Status(err)),
			slog.String("kind", string(ev.Kind)),
			slog.Int64("client_id", s.ClientID),
			slog.Int64("flow_id", ev.FlowID),
			slog.Int64("step_id", ev.StepID),
			slog.Int64("response_id", s.ResponseID),
		)
	}
	return err
}

// ensureResponse creates the response lazily when the start of the flow
// could not be recorded, so later answers are not lost.
func (t *Tracker) ensureResponse(ctx context.Context, s *dialog.Session, ev dialog.Event, at time.Time) error {
	if s.ResponseID != 0 {
		return nil
	}
	resp := dialog.FlowResponse{ClientID: s.ClientID, FlowID: ev.FlowID, Responses: map[int64]any{}, CreatedAt: at, UpdatedAt: at}
	if err := t.repos.Responses.Save(ctx, &resp); err != nil {
		return t.fail("create response", s.ClientID, err)
	}
	s.ResponseID = resp.ID
	return nil
}

// SaveSession writes the session columns of the client, creating the client
// when it does not exist yet.
func (t *Tracker) SaveSession(ctx context.Context, s dialog.Session) error {
	client, err := t.repos.Clients.Find(ctx, s.ClientID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		client = dialog.Client{ID: s.ClientID, CreatedAt: t.now()}
	case err != nil:
		return t.fail("load client", s.ClientID, err)
	}
	client.ApplySession(s)
	client.UpdatedAt = t.now()
	if err := t.repos.Clients.Save(ctx, &client); err != nil {
		return t.fail("save session", s.ClientID, err)
	}
	return nil
}

// LoadSession returns the stored session of a client. Unknown clients get a
// fresh open session and known reports false. On error the returned session
// is empty and must not be routed.
func (t *Tracker) LoadSession(ctx context.Context, msg dialog.IncomingMessage) (s dialog.Session, known bool, err error) {
	client, err := t.repos.Clients.Find(ctx, msg.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return dialog.NewSession(msg.ClientID), false, nil
	}
	if err != nil {
		return dialog.Session{}, false, t.fail("load session", msg.ClientID, err)
	}
	return client.Session(), true, nil
}

// RegisterClient stores a new client with its profile fields.
func (t *Tracker) RegisterClient(ctx context.Context, msg dialog.IncomingMessage, s dialog.Session) error {
	now := t.now()
	client := dialog.Client{ID: msg.ClientID, Username: msg.Username, FirstName: msg.FirstName, CreatedAt: now, UpdatedAt: now}
	client.ApplySession(s)
	if err := t.repos.Clients.Save(ctx, &client); err != nil {
		return t.fail("register client", msg.ClientID, err)
	}
	logger.Info(ctx, component, "client.registered", slog.Int64("client_id", msg.ClientID))
	return nil
}

func (t *Tracker) fail(op string, clientID int64, err error) error {
	return &dialog.PersistenceError{Op: op, ClientID: clientID, Err: err}
}

// Answer is one recorded answer joined to its step.
type Answer struct {
	StepID     int64
	OrderIndex int
	Question   string
	Value      any
}

// Structured is a response with its answers in step order.
type Structured struct {
	Response dialog.FlowResponse
	FlowName string
	Answers  []Answer
}

// StructuredResponses joins the answers of a response to the questions of
// its flow, ordered by orderIndex. Answers to steps that were deleted since
// are kept at the end with an empty question.
func (t *Tracker) StructuredResponses(ctx context.Context, responseID int64) (Structured, error) {
	resp, err := t.repos.Responses.Find(ctx, responseID)
	if err != nil {
		return Structured{}, fmt.Errorf("load response %d: %w", responseID, err)
	}
	out := Structured{Response: resp}
	if flow, err := t.repos.Flows.Find(ctx, resp.FlowID); err == nil {
		out.FlowName = flow.Name
	}
	steps, err := t.repos.Steps.ListByFlow(ctx, resp.FlowID)
	if err != nil {
		return Structured{}, fmt.Errorf("load steps of flow %d: %w", resp.FlowID, err)
	}

	seen := make(map[int64]bool, len(resp.Responses))
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].OrderIndex < steps[j].OrderIndex })
	for _, st := range steps {
		v, ok := resp.Responses[st.ID]
		if !ok {
			continue
		}
		seen[st.ID] = true
		out.Answers = append(out.Answers, Answer{StepID: st.ID, OrderIndex: st.OrderIndex, Question: st.Question, Value: v})
	}
	var orphans []int64
	for id := range resp.Responses {
		if !seen[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	for _, id := range orphans {
		out.Answers = append(out.Answers, Answer{StepID: id, Value: resp.Responses[id]})
	}
	return out, nil
}

// FormatResponses renders a structured response as plain text, one
// "question: answer" line per answer.
func FormatResponses(s Structured) string {
	var b strings.Builder
	if s.FlowName != "" {
		b.WriteString(s.FlowName)
		if s.Response.Completed {
			b.WriteString(" (completed)")
		}
		b.WriteString("\n")
	}
	for _, a := range s.Answers {
		q := a.Question
		if q == "" {
			q = fmt.Sprintf("step %d", a.StepID)
		}
		fmt.Fprintf(&b, "%s: %s\n", q, dialog.FormatValue(a.Value))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ClientResponses lists the responses of a client in structured form.
func (t *Tracker) ClientResponses(ctx context.Context, clientID int64) ([]Structured, error) {
	list, err := t.repos.Responses.ListByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list responses of client %d: %w", clientID, err)
	}
	out := make([]Structured, 0, len(list))
	for _, r := range list {
		s, err := t.StructuredResponses(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
