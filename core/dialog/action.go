package dialog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActionType names a command action in its stored JSON form.
type ActionType string

const (
	ActionCancelFlow         ActionType = "cancelFlow"
	ActionStartFlow          ActionType = "startFlow"
	ActionSendMessage        ActionType = "sendMessage"
	ActionSendFlowInvitation ActionType = "sendFlowInvitation"
)

// Action is the closed set of command side effects. Implementations are
// CancelFlow, StartFlow, SendMessage and SendFlowInvitation.
type Action interface {
	Type() ActionType
	isAction()
}

// CancelFlow leaves the active flow and optionally says so.
type CancelFlow struct {
	Message string
}

// StartFlow enters a flow at its first step. FlowID 0 selects the default flow.
type StartFlow struct {
	FlowID int64
}

// SendMessage replies without touching the session.
type SendMessage struct {
	Message string
}

// SendFlowInvitation replies with a button that starts the flow when pressed.
// FlowID 0 selects the default flow.
type SendFlowInvitation struct {
	FlowID     int64
	Message    string
	ButtonText string
}

func (CancelFlow) Type() ActionType         { return ActionCancelFlow }
func (StartFlow) Type() ActionType          { return ActionStartFlow }
func (SendMessage) Type() ActionType        { return ActionSendMessage }
func (SendFlowInvitation) Type() ActionType { return ActionSendFlowInvitation }

func (CancelFlow) isAction()         {}
func (StartFlow) isAction()          {}
func (SendMessage) isAction()        {}
func (SendFlowInvitation) isAction() {}

type actionDoc struct {
	Type       ActionType `json:"type"`
	FlowID     int64      `json:"flowId,omitempty"`
	Message    string     `json:"message,omitempty"`
	ButtonText string     `json:"buttonText,omitempty"`
}

// ParseAction decodes a stored action document. An empty or null document
// yields a nil action.
func ParseAction(raw []byte) (Action, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("{}")) {
		return nil, nil
	}
	var doc actionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	return doc.action()
}

func (d actionDoc) action() (Action, error) {
	switch d.Type {
	case ActionCancelFlow:
		return CancelFlow{Message: d.Message}, nil
	case ActionStartFlow:
		if d.FlowID < 0 {
			return nil, fmt.Errorf("startFlow: negative flowId %d", d.FlowID)
		}
		return StartFlow{FlowID: d.FlowID}, nil
	case ActionSendMessage:
		if d.Message == "" {
			return nil, fmt.Errorf("sendMessage: message is required")
		}
		return SendMessage{Message: d.Message}, nil
	case ActionSendFlowInvitation:
		if d.FlowID < 0 {
			return nil, fmt.Errorf("sendFlowInvitation: negative flowId %d", d.FlowID)
		}
		return SendFlowInvitation{FlowID: d.FlowID, Message: d.Message, ButtonText: d.ButtonText}, nil
	case "":
		return nil, fmt.Errorf("action type is required")
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, d.Type)
}

// MarshalAction encodes an action into its stored JSON form. A nil action
// encodes as nil.
func MarshalAction(a Action) ([]byte, error) {
	var doc actionDoc
	switch v := a.(type) {
	case nil:
		return nil, nil
	case CancelFlow:
		doc = actionDoc{Type: ActionCancelFlow, Message: v.Message}
	case StartFlow:
		doc = actionDoc{Type: ActionStartFlow, FlowID: v.FlowID}
	case SendMessage:
		doc = actionDoc{Type: ActionSendMessage, Message: v.Message}
	case SendFlowInvitation:
		doc = actionDoc{Type: ActionSendFlowInvitation, FlowID: v.FlowID, Message: v.Message, ButtonText: v.ButtonText}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
	return json.Marshal(doc)
}
