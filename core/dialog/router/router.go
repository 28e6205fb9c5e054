// Package router decides what the bot does with one inbound message: run a
// command, advance the active flow or fall back, producing the next session,
// the replies and the session events to persist.
package router

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/dialog/catalog"
	"github.com/m3rciful/flowbot/core/dialog/commands"
	"github.com/m3rciful/flowbot/core/dialog/graph"
	"github.com/m3rciful/flowbot/core/dialog/validate"
	"github.com/m3rciful/flowbot/core/logger"
)

const component = "dialog.router"

const (
	// InvitationPrefix prefixes the callback data of flow invitation buttons.
	InvitationPrefix = "flow:"
	// ContinueValue is the callback data of continue buttons.
	ContinueValue = "next"
)

// Kind labels how a message was handled.
type Kind string

const (
	KindDropped  Kind = "dropped"
	KindCommand  Kind = "command"
	KindInvite   Kind = "invitation"
	KindAnswer   Kind = "answer"
	KindInvalid  Kind = "invalid"
	KindFallback Kind = "fallback"
	KindIgnored  Kind = "ignored"
)

// Options carries the texts the router needs when no definition supplies one.
type Options struct {
	// FallbackMessage answers idle messages that match no command. Empty
	// means stay silent.
	FallbackMessage string
	// InvalidMessage is sent on a rejected answer when the step has no
	// errorMessage of its own.
	InvalidMessage string
	// UnavailableMessage is sent when a command starts a flow that is not
	// active. Empty means stay silent.
	UnavailableMessage string
	// InvitationButton labels invitation buttons without their own text.
	InvitationButton string
	// ContinueButton labels the continue button of nextStep and url steps.
	ContinueButton string
}

func (o *Options) applyDefaults() {
	if o.InvalidMessage == "" {
		o.InvalidMessage = "Sorry, I could not accept that answer."
	}
	if o.InvitationButton == "" {
		o.InvitationButton = "Start"
	}
	if o.ContinueButton == "" {
		o.ContinueButton = "Continue"
	}
}

// Outcome is the result of routing one message. Session is the session to
// keep; Events are ordered as they happened.
type Outcome struct {
	Session  dialog.Session
	Messages []dialog.OutgoingMessage
	Events   []dialog.Event
	Kind     Kind
	// CommandID is set when a command handled the message.
	CommandID int64
	// Errors holds configuration problems met while routing. They never stop
	// the message from being handled.
	Errors []error
}

// Router is stateless apart from its options and safe for concurrent use.
type Router struct {
	opts Options
}

// New returns a Router.
func New(opts Options) *Router {
	opts.applyDefaults()
	return &Router{opts: opts}
}

type turn struct {
	r    *Router
	ctx  context.Context
	snap *catalog.Snapshot
	msg  dialog.IncomingMessage
	out  *Outcome
}

// Handle routes msg for the client whose current session is sess. It never
// fails: problems with definitions are logged, reported in Outcome.Errors and
// routed around.
func (r *Router) Handle(ctx context.Context, snap *catalog.Snapshot, msg dialog.IncomingMessage, sess dialog.Session) Outcome {
	if snap == nil {
		snap = catalog.Build(nil, nil)
	}
	sess = sess.Clone()
	sess.ClientID = msg.ClientID
	out := Outcome{Session: sess, Kind: KindIgnored}
	t := &turn{r: r, ctx: ctx, snap: snap, msg: msg, out: &out}

	if !sess.DialogOpen {
		out.Kind = KindDropped
		logger.Debug(ctx, component, "dialog.closed", slog.Int64("client_id", msg.ClientID))
		return out
	}

	g, step, inFlow := t.current()
	text := strings.TrimSpace(msg.Text)

	if text != "" && (!inFlow || commands.IsSlashCommand(text)) {
		var keep func(dialog.Command) bool
		if inFlow {
			keep = interrupts
		}
		if cmd, ok := snap.Commands.MatchWhere(text, keep); ok {
			t.command(cmd, g, step, inFlow)
			return out
		}
	}

	if flowID, ok := invitation(msg.CallbackData); ok {
		if _, isOption := step.Option(msg.CallbackData); !inFlow || !isOption {
			out.Kind = KindInvite
			t.startFlow(flowID, "", g, step, inFlow)
			return out
		}
	}

	if inFlow {
		t.answer(g, step)
		return out
	}

	if r.opts.FallbackMessage != "" {
		out.Kind = KindFallback
		t.send(dialog.Render(r.opts.FallbackMessage, out.Session.Data), nil)
	}
	return out
}

// interrupts reports whether cmd may preempt an active flow. Contains
// commands never do.
func interrupts(cmd dialog.Command) bool {
	return cmd.MatchType != dialog.MatchContains
}

// current resolves the session's flow pointers against the snapshot. A
// session pointing at a flow or step that no longer exists is reset.
func (t *turn) current() (*graph.Graph, dialog.Step, bool) {
	s := &t.out.Session
	if s.State() != dialog.StateInFlow {
		return nil, dialog.Step{}, false
	}
	g, ok := t.snap.Flow(s.FlowID)
	var step dialog.Step
	if ok {
		step, ok = g.Step(s.StepID)
	}
	if ok {
		return g, step, true
	}
	logger.Warn(t.ctx, component, "session.reset",
		slog.Int64("client_id", s.ClientID),
		slog.Int64("flow_id", s.FlowID),
		slog.Int64("step_id", s.StepID),
	)
	t.event(dialog.EventSessionReset, s.FlowID, s.StepID, nil)
	s.Leave()
	return nil, dialog.Step{}, false
}

func (t *turn) command(cmd dialog.Command, g *graph.Graph, step dialog.Step, inFlow bool) {
	t.out.Kind = KindCommand
	t.out.CommandID = cmd.ID
	data := t.out.Session.Data
	logger.Debug(t.ctx, component, "command.matched",
		slog.Int64("command_id", cmd.ID),
		slog.String("match_type", string(cmd.MatchType)),
		slog.Bool("in_flow", inFlow),
	)

	switch a := cmd.Action.(type) {
	case nil:
		if cmd.Response != "" {
			t.send(dialog.Render(cmd.Response, data), nil)
		}
	case dialog.CancelFlow:
		if inFlow {
			t.cancel(g, step)
		}
		text := a.Message
		if text == "" {
			text = cmd.Response
		}
		if text != "" {
			t.send(dialog.Render(text, t.out.Session.Data), nil)
		}
	case dialog.StartFlow:
		t.startFlow(a.FlowID, cmd.Response, g, step, inFlow)
	case dialog.SendMessage:
		t.send(dialog.Render(a.Message, data), nil)
	case dialog.SendFlowInvitation:
		t.invite(a, cmd.Response)
	}
}

func (t *turn) invite(a dialog.SendFlowInvitation, static string) {
	text := a.Message
	if text == "" {
		text = static
	}
	g, ok := t.snap.Flow(a.FlowID)
	if !ok {
		t.unavailable(a.FlowID, static)
		return
	}
	label := a.ButtonText
	if label == "" {
		label = t.r.opts.InvitationButton
	}
	if text == "" {
		text = t.snap.FlowName(g.FlowID())
	}
	btn := dialog.Button{Label: label, Value: InvitationPrefix + strconv.FormatInt(g.FlowID(), 10)}
	t.send(dialog.Render(text, t.out.Session.Data), [][]dialog.Button{{btn}})
}

func (t *turn) unavailable(flowID int64, static string) {
	logger.Warn(t.ctx, component, "flow.unavailable", slog.Int64("flow_id", flowID))
	text := static
	if text == "" {
		text = t.r.opts.UnavailableMessage
	}
	if text != "" {
		t.send(dialog.Render(text, t.out.Session.Data), nil)
	}
}

func (t *turn) cancel(g *graph.Graph, step dialog.Step) {
	t.event(dialog.EventFlowCancelled, g.FlowID(), step.ID, nil)
	t.out.Session.Leave()
}

// startFlow abandons any active flow and enters flowID at its entry step.
// intro, when set, is sent before the first question.
func (t *turn) startFlow(flowID int64, intro string, cur *graph.Graph, curStep dialog.Step, inFlow bool) {
	g, ok := t.snap.Flow(flowID)
	if !ok {
		t.unavailable(flowID, intro)
		return
	}
	if inFlow {
		t.cancel(cur, curStep)
	}
	s := &t.out.Session
	if intro != "" {
		t.send(dialog.Render(intro, s.Data), nil)
	}

	res, err := g.Entry(s.Data)
	if err != nil {
		t.configError(err)
		res = graph.Resolution{Step: g.FirstStep()}
	}
	s.FlowID = g.FlowID()
	if res.Completed {
		t.event(dialog.EventFlowStarted, g.FlowID(), 0, nil)
		t.complete(g, 0)
		return
	}
	s.StepID = res.Step.ID
	t.event(dialog.EventFlowStarted, g.FlowID(), res.Step.ID, nil)
	logger.Debug(t.ctx, component, "flow.started",
		slog.Int64("client_id", s.ClientID),
		slog.Int64("flow_id", g.FlowID()),
		slog.Int64("step_id", res.Step.ID),
	)
	t.present(g, res.Step)
}

func (t *turn) answer(g *graph.Graph, step dialog.Step) {
	s := &t.out.Session
	res := validate.Validate(step, t.msg)
	if !res.OK() {
		t.out.Kind = KindInvalid
		if logger.ShouldSampleDebugFor("answer.rejected." + string(res.Reason)) {
			logger.Debug(t.ctx, component, "answer.rejected",
				slog.Int64("client_id", s.ClientID),
				slog.Int64("flow_id", g.FlowID()),
				slog.Int64("step_id", step.ID),
				slog.String("reason", string(res.Reason)),
			)
		}
		text := step.Config.ErrorMessage
		if text == "" {
			text = t.r.opts.InvalidMessage
		}
		t.send(dialog.Render(text, s.Data), nil)
		t.ask(step)
		return
	}

	t.out.Kind = KindAnswer
	if key := step.Config.SaveAs; key != "" {
		if s.Data == nil {
			s.Data = dialog.FlowData{}
		}
		s.Data[key] = res.Value
	}
	t.event(dialog.EventAnswerAccepted, g.FlowID(), step.ID, res.Value)

	next, err := g.ResolveNext(step, res.Value, res.Button, s.Data)
	if err != nil {
		t.configError(err)
		next = g.NextInOrder(step)
	}
	if next.Completed {
		t.complete(g, step.ID)
		return
	}
	s.StepID = next.Step.ID
	t.present(g, next.Step)
}

// present asks step and, for a final step, completes the flow right away.
func (t *turn) present(g *graph.Graph, step dialog.Step) {
	t.ask(step)
	if step.IsFinal() {
		t.complete(g, step.ID)
	}
}

func (t *turn) complete(g *graph.Graph, stepID int64) {
	s := &t.out.Session
	t.event(dialog.EventFlowCompleted, g.FlowID(), stepID, nil)
	logger.Debug(t.ctx, component, "flow.completed",
		slog.Int64("client_id", s.ClientID),
		slog.Int64("flow_id", g.FlowID()),
	)
	s.Leave()
}

func (t *turn) ask(step dialog.Step) {
	t.send(dialog.Render(step.Question, t.out.Session.Data), t.buttons(step))
}

func (t *turn) buttons(step dialog.Step) [][]dialog.Button {
	data := t.out.Session.Data
	var rows [][]dialog.Button
	switch step.ResponseType {
	case dialog.ResponseCallback, dialog.ResponseKeyboard:
		for _, opt := range step.Options {
			rows = append(rows, []dialog.Button{{Label: dialog.Render(opt.Label, data), Value: opt.Value, URL: opt.URL}})
		}
	case dialog.ResponseURL:
		for _, opt := range step.Options {
			if opt.URL == "" {
				continue
			}
			rows = append(rows, []dialog.Button{{Label: dialog.Render(opt.Label, data), URL: opt.URL}})
		}
		rows = append(rows, []dialog.Button{t.continueButton(step)})
	case dialog.ResponseNextStep:
		rows = append(rows, []dialog.Button{t.continueButton(step)})
	}
	return rows
}

func (t *turn) continueButton(step dialog.Step) dialog.Button {
	label := step.Config.ButtonText
	if label == "" {
		label = t.r.opts.ContinueButton
	}
	return dialog.Button{Label: label, Value: ContinueValue}
}

func (t *turn) send(text string, buttons [][]dialog.Button) {
	if text == "" && len(buttons) == 0 {
		return
	}
	t.out.Messages = append(t.out.Messages, dialog.OutgoingMessage{
		ClientID: t.msg.ClientID,
		Text:     text,
		Buttons:  buttons,
	})
}

func (t *turn) event(kind dialog.EventKind, flowID, stepID int64, value any) {
	at := t.msg.Timestamp
	t.out.Events = append(t.out.Events, dialog.Event{Kind: kind, FlowID: flowID, StepID: stepID, Value: value, At: at})
}

func (t *turn) configError(err error) {
	t.out.Errors = append(t.out.Errors, err)
	logger.Warn(t.ctx, component, "flow.config_error",
		slog.Int64("client_id", t.out.Session.ClientID),
		slog.String("err", err.Error()),
	)
}

func invitation(data string) (int64, bool) {
	raw, ok := strings.CutPrefix(data, InvitationPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
