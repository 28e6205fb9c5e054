// Package dialog defines the data model shared by the flow engine: commands,
// flows and their steps, per-client sessions, durable flow responses and the
// messages exchanged with a chat transport.
package dialog

import (
	"strings"
	"time"
)

// MatchType selects how a command pattern is compared with incoming text.
type MatchType string

const (
	// MatchExact requires case-insensitive equality with the normalized text.
	MatchExact MatchType = "exact"
	// MatchContains requires the pattern to appear in the normalized text.
	MatchContains MatchType = "contains"
	// MatchRegex tests the pattern as a regular expression against raw text.
	MatchRegex MatchType = "regex"
)

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	switch m {
	case MatchExact, MatchContains, MatchRegex:
		return true
	}
	return false
}

// Specificity ranks match types for tie-breaking; higher wins.
func (m MatchType) Specificity() int {
	switch m {
	case MatchExact:
		return 3
	case MatchContains:
		return 2
	case MatchRegex:
		return 1
	}
	return 0
}

// Command is a standalone trigger mapped to a canned response or a flow action.
type Command struct {
	ID          int64
	Pattern     string
	MatchType   MatchType
	Priority    int
	IsActive    bool
	Action      Action
	Response    string
	Description string
	CreatedAt   time.Time
}

// ResponseType describes what a step expects from the user.
type ResponseType string

const (
	ResponseText     ResponseType = "text"
	ResponseCallback ResponseType = "callback"
	ResponseURL      ResponseType = "url"
	ResponseNextStep ResponseType = "nextStep"
	ResponseKeyboard ResponseType = "keyboard"
	ResponseFinal    ResponseType = "final"
)

// Valid reports whether r is a known response type.
func (r ResponseType) Valid() bool {
	switch r {
	case ResponseText, ResponseCallback, ResponseURL, ResponseNextStep, ResponseKeyboard, ResponseFinal:
		return true
	}
	return false
}

// AwaitsChoice reports whether the step expects one of its options.
func (r ResponseType) AwaitsChoice() bool {
	return r == ResponseCallback || r == ResponseKeyboard
}

// Option is a selectable answer rendered as a button.
type Option struct {
	Label      string `json:"label"`
	Value      string `json:"value"`
	URL        string `json:"url,omitempty"`
	NextStepID int64  `json:"nextStepId,omitempty"`
}

// StepConfig carries optional per-step behaviour.
type StepConfig struct {
	SaveAs       string     `json:"saveAs,omitempty"`
	Validate     *Rule      `json:"validate,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	SkipIf       *Condition `json:"skipIf,omitempty"`
	// ButtonText labels the continue button of nextStep steps.
	ButtonText string `json:"buttonText,omitempty"`
}

// Step is one prompt within a flow.
type Step struct {
	ID           int64
	FlowID       int64
	OrderIndex   int
	Question     string
	ResponseType ResponseType
	IsRequired   bool
	Options      []Option
	Config       StepConfig
	// NextStepID is 0 when the step follows the default orderIndex path.
	NextStepID int64
}

// IsFinal reports whether the step terminates its flow.
func (s Step) IsFinal() bool {
	return s.ResponseType == ResponseFinal
}

// Option returns the option whose value equals v.
func (s Step) Option(v string) (Option, bool) {
	for _, opt := range s.Options {
		if opt.Value == v {
			return opt, true
		}
	}
	return Option{}, false
}

// OptionByLabel returns the option whose label or value equals v, ignoring case.
func (s Step) OptionByLabel(v string) (Option, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Option{}, false
	}
	for _, opt := range s.Options {
		if strings.EqualFold(opt.Label, v) || strings.EqualFold(opt.Value, v) {
			return opt, true
		}
	}
	return Option{}, false
}

// Flow is a named sequence of steps representing a guided conversation.
type Flow struct {
	ID        int64
	Name      string
	IsActive  bool
	IsDefault bool
	Steps     []Step
	CreatedAt time.Time
}

// Client is the persisted chat participant the session is derived from.
type Client struct {
	ID                int64
	Username          string
	FirstName         string
	DialogOpen        bool
	CurrentFlowID     int64
	CurrentStepID     int64
	CurrentResponseID int64
	FlowData          FlowData
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session projects the conversational part of the client.
func (c Client) Session() Session {
	data := c.FlowData.Clone()
	if data == nil {
		data = FlowData{}
	}
	return Session{
		ClientID:   c.ID,
		FlowID:     c.CurrentFlowID,
		StepID:     c.CurrentStepID,
		ResponseID: c.CurrentResponseID,
		Data:       data,
		DialogOpen: c.DialogOpen,
	}
}

// ApplySession copies session fields back onto the client.
func (c *Client) ApplySession(s Session) {
	c.ID = s.ClientID
	c.CurrentFlowID = s.FlowID
	c.CurrentStepID = s.StepID
	c.CurrentResponseID = s.ResponseID
	c.FlowData = s.Data.Clone()
	c.DialogOpen = s.DialogOpen
}

// FlowResponse is the durable record of a client's run through a flow.
type FlowResponse struct {
	ID          int64
	ClientID    int64
	FlowID      int64
	Responses   map[int64]any
	Completed   bool
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IncomingMessage is one inbound chat event.
type IncomingMessage struct {
	ClientID     int64
	Text         string
	CallbackData string
	Timestamp    time.Time

	Username  string
	FirstName string
}

// IsCallback reports whether the message came from a button press.
func (m IncomingMessage) IsCallback() bool {
	return m.CallbackData != ""
}

// Button is a single inline button. URL buttons open a link instead of
// sending Value back.
type Button struct {
	Label string
	Value string
	URL   string
}

// OutgoingMessage is a reply handed to the chat transport.
type OutgoingMessage struct {
	ClientID int64
	Text     string
	Buttons  [][]Button
}
