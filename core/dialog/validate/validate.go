// Package validate checks a raw inbound message against the step it answers.
package validate

import (
	"strings"

	"github.com/m3rciful/flowbot/core/dialog"
)

// Reason explains why an answer was rejected.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonEmpty         Reason = "empty"
	ReasonRule          Reason = "rule"
	ReasonUnknownOption Reason = "unknown_option"
)

// Result is the outcome of validating one message. A zero Reason means the
// answer was accepted and Value holds what should be recorded. Button is the
// option value chosen, used for branch selection.
type Result struct {
	Value  any
	Button string
	Reason Reason
}

// OK reports whether the answer was accepted.
func (r Result) OK() bool { return r.Reason == ReasonNone }

func invalid(r Reason) Result { return Result{Reason: r} }

// Validate dispatches on the step's response type.
func Validate(step dialog.Step, msg dialog.IncomingMessage) Result {
	switch step.ResponseType {
	case dialog.ResponseText:
		return text(step, msg)
	case dialog.ResponseCallback, dialog.ResponseKeyboard:
		return choice(step, msg)
	case dialog.ResponseURL, dialog.ResponseNextStep:
		return Result{Value: acknowledged(msg), Button: msg.CallbackData}
	case dialog.ResponseFinal:
		return Result{Value: acknowledged(msg)}
	}
	return text(step, msg)
}

func text(step dialog.Step, msg dialog.IncomingMessage) Result {
	in := strings.TrimSpace(msg.Text)
	if in == "" {
		in = strings.TrimSpace(msg.CallbackData)
	}
	if in == "" {
		if step.IsRequired {
			return invalid(ReasonEmpty)
		}
		return Result{Value: ""}
	}
	if rule := step.Config.Validate; rule != nil && !rule.Check(in) {
		return invalid(ReasonRule)
	}
	return Result{Value: in}
}

func choice(step dialog.Step, msg dialog.IncomingMessage) Result {
	if msg.IsCallback() {
		if opt, ok := step.Option(msg.CallbackData); ok {
			return Result{Value: opt.Value, Button: opt.Value}
		}
		return invalid(ReasonUnknownOption)
	}
	if step.ResponseType == dialog.ResponseKeyboard {
		if opt, ok := step.OptionByLabel(msg.Text); ok {
			return Result{Value: opt.Value, Button: opt.Value}
		}
	}
	if strings.TrimSpace(msg.Text) == "" {
		return invalid(ReasonEmpty)
	}
	return invalid(ReasonUnknownOption)
}

func acknowledged(msg dialog.IncomingMessage) string {
	if msg.IsCallback() {
		return msg.CallbackData
	}
	return strings.TrimSpace(msg.Text)
}
