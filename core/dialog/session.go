package dialog

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// State is the router-visible lifecycle of a session.
type State string

const (
	// StateIdle means no flow is active.
	StateIdle State = "idle"
	// StateInFlow means the client is expected to answer StepID.
	StateInFlow State = "in_flow"
	// StateCompleted is transient: the flow just finished and the session
	// returns to idle once progress is persisted.
	StateCompleted State = "completed"
)

// Session is the per-client pointer into a flow plus accumulated answers.
// FlowID and StepID are 0 while idle.
type Session struct {
	ClientID   int64
	FlowID     int64
	StepID     int64
	ResponseID int64
	Data       FlowData
	DialogOpen bool
}

// NewSession returns an idle session with the dialog open.
func NewSession(clientID int64) Session {
	return Session{ClientID: clientID, Data: FlowData{}, DialogOpen: true}
}

// State derives the lifecycle state from the flow pointers.
func (s Session) State() State {
	if s.FlowID != 0 && s.StepID != 0 {
		return StateInFlow
	}
	return StateIdle
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s Session) Clone() Session {
	out := s
	out.Data = s.Data.Clone()
	if out.Data == nil {
		out.Data = FlowData{}
	}
	return out
}

// Leave clears the flow pointers. Captured data is kept. ResponseID belongs
// to the progress tracker, which clears it when it closes the response.
func (s *Session) Leave() {
	s.FlowID = 0
	s.StepID = 0
}

// EventKind enumerates session transitions persisted by the progress tracker.
type EventKind string

const (
	EventFlowStarted    EventKind = "flowStarted"
	EventAnswerAccepted EventKind = "answerAccepted"
	EventFlowCompleted  EventKind = "flowCompleted"
	EventFlowCancelled  EventKind = "flowCancelled"
	EventSessionReset   EventKind = "sessionReset"
)

// Event describes one session transition produced while handling a message.
type Event struct {
	Kind   EventKind
	FlowID int64
	StepID int64
	Value  any
	At     time.Time
}

// FlowData holds answers captured during flows keyed by SaveAs identifiers.
// Values are JSON scalars or arrays.
type FlowData map[string]any

// Clone copies the map. Array values are shared.
func (d FlowData) Clone() FlowData {
	if d == nil {
		return nil
	}
	out := make(FlowData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Lookup returns the formatted value stored under key.
func (d FlowData) Lookup(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", false
	}
	return FormatValue(v), true
}

// Keys returns the stored keys sorted.
func (d FlowData) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatValue renders an answer value as display text. Arrays join with ", ".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, FormatValue(item))
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
