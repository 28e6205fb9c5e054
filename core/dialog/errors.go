package dialog

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandPattern marks a command whose regex pattern does not compile.
	ErrCommandPattern = errors.New("invalid command pattern")
	// ErrFlowConfig marks a flow whose steps cannot be traversed as configured.
	ErrFlowConfig = errors.New("invalid flow configuration")
	// ErrPersistence marks a repository failure while recording a transition.
	ErrPersistence = errors.New("persistence failed")
	// ErrUnknownAction marks an action document with an unsupported type.
	ErrUnknownAction = errors.New("unknown command action")
	// ErrNotFound is returned by repositories for missing records.
	ErrNotFound = errors.New("not found")
)

// CommandPatternError reports a regex command that can never match.
type CommandPatternError struct {
	CommandID int64
	Pattern   string
	Err       error
}

func (e *CommandPatternError) Error() string {
	return fmt.Sprintf("command %d: invalid pattern %q: %v", e.CommandID, e.Pattern, e.Err)
}

func (e *CommandPatternError) Unwrap() error { return e.Err }

// Is matches ErrCommandPattern.
func (e *CommandPatternError) Is(target error) bool { return target == ErrCommandPattern }

// FlowConfigError reports a structural problem in a flow definition.
type FlowConfigError struct {
	FlowID  int64
	StepID  int64
	Field   string
	Message string
}

func (e *FlowConfigError) Error() string {
	switch {
	case e.StepID != 0 && e.Field != "":
		return fmt.Sprintf("flow %d step %d: %s: %s", e.FlowID, e.StepID, e.Field, e.Message)
	case e.StepID != 0:
		return fmt.Sprintf("flow %d step %d: %s", e.FlowID, e.StepID, e.Message)
	}
	return fmt.Sprintf("flow %d: %s", e.FlowID, e.Message)
}

// Is matches ErrFlowConfig.
func (e *FlowConfigError) Is(target error) bool { return target == ErrFlowConfig }

// Code exposes a stable identifier for log summaries.
func (e *FlowConfigError) Code() string { return "flow_config" }

// PersistenceError wraps a repository failure with the operation that failed.
// The in-memory transition it belongs to has already been applied.
type PersistenceError struct {
	Op       string
	ClientID int64
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for client %d: %v", e.Op, e.ClientID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Code exposes a stable identifier for log summaries.
func (e *PersistenceError) Code() string { return "persistence" }
