// Package storage declares the repository capabilities the dialog engine
// consumes. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
)

// ErrNotFound is returned by Find for missing records.
var ErrNotFound = dialog.ErrNotFound

// Repository is the common CRUD surface of every entity store. Save inserts
// when the record's ID is zero and assigns the new ID in place.
type Repository[T any, K comparable] interface {
	Find(ctx context.Context, id K) (T, error)
	Save(ctx context.Context, v *T) error
	Delete(ctx context.Context, id K) error
}

// Clients stores chat participants and their session columns.
type Clients interface {
	Repository[dialog.Client, int64]
}

// Commands stores command definitions.
type Commands interface {
	Repository[dialog.Command, int64]
	List(ctx context.Context, activeOnly bool) ([]dialog.Command, error)
}

// Flows stores flow headers. Steps are loaded separately.
type Flows interface {
	Repository[dialog.Flow, int64]
	List(ctx context.Context, activeOnly bool) ([]dialog.Flow, error)
}

// Steps stores flow steps.
type Steps interface {
	Repository[dialog.Step, int64]
	ListByFlow(ctx context.Context, flowID int64) ([]dialog.Step, error)
}

// Responses stores durable flow runs.
type Responses interface {
	Repository[dialog.FlowResponse, int64]
	// SetAnswer writes responses[stepID] = value; repeating it is harmless.
	SetAnswer(ctx context.Context, id, stepID int64, value any) error
	Complete(ctx context.Context, id int64, at time.Time) error
	ListByClient(ctx context.Context, clientID int64) ([]dialog.FlowResponse, error)
}

// Set bundles the repositories of one backend.
type Set struct {
	Clients   Clients
	Commands  Commands
	Flows     Flows
	Steps     Steps
	Responses Responses
}

// LoadFlow returns a flow with its steps attached.
func LoadFlow(ctx context.Context, s Set, id int64) (dialog.Flow, error) {
	flow, err := s.Flows.Find(ctx, id)
	if err != nil {
		return dialog.Flow{}, err
	}
	flow.Steps, err = s.Steps.ListByFlow(ctx, id)
	if err != nil {
		return dialog.Flow{}, err
	}
	return flow, nil
}
