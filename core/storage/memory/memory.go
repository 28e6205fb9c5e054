// Package memory provides map-backed repositories for tests and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/storage"
)

type table[T any] struct {
	mu    sync.RWMutex
	rows  map[int64]T
	last  int64
	id    func(*T) *int64
	clone func(T) T
	// fail, when set, is returned by every write. Tests use it to simulate
	// an unavailable database.
	fail error
}

func newTable[T any](id func(*T) *int64, clone func(T) T) *table[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &table[T]{rows: make(map[int64]T), id: id, clone: clone}
}

func (t *table[T]) Find(_ context.Context, id int64) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, storage.ErrNotFound
	}
	return t.clone(v), nil
}

func (t *table[T]) Save(_ context.Context, v *T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	id := t.id(v)
	if *id == 0 {
		t.last++
		*id = t.last
	} else if *id > t.last {
		t.last = *id
	}
	t.rows[*id] = t.clone(*v)
	return nil
}

func (t *table[T]) Delete(_ context.Context, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	if _, ok := t.rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

func (t *table[T]) list(keep func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int64, 0, len(t.rows))
	for id, v := range t.rows {
		if keep == nil || keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.clone(t.rows[id]))
	}
	return out
}

// ClientRepo stores clients in memory.
type ClientRepo struct{ *table[dialog.Client] }

// CommandRepo stores commands in memory.
type CommandRepo struct{ *table[dialog.Command] }

// FlowRepo stores flow headers in memory.
type FlowRepo struct{ *table[dialog.Flow] }

// StepRepo stores steps in memory.
type StepRepo struct{ *table[dialog.Step] }

// ResponseRepo stores flow responses in memory.
type ResponseRepo struct{ *table[dialog.FlowResponse] }

// Store holds one in-memory repository per entity.
type Store struct {
	Clients   *ClientRepo
	Commands  *CommandRepo
	Flows     *FlowRepo
	Steps     *StepRepo
	Responses *ResponseRepo
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Clients: &ClientRepo{newTable(func(c *dialog.Client) *int64 { return &c.ID }, func(c dialog.Client) dialog.Client {
			c.FlowData = c.FlowData.Clone()
			return c
		})},
		Commands: &CommandRepo{newTable[dialog.Command](func(c *dialog.Command) *int64 { return &c.ID }, nil)},
		Flows: &FlowRepo{newTable(func(f *dialog.Flow) *int64 { return &f.ID }, func(f dialog.Flow) dialog.Flow {
			f.Steps = nil
			return f
		})},
		Steps: &StepRepo{newTable(func(s *dialog.Step) *int64 { return &s.ID }, func(s dialog.Step) dialog.Step {
			s.Options = append([]dialog.Option(nil), s.Options...)
			return s
		})},
		Responses: &ResponseRepo{newTable(func(r *dialog.FlowResponse) *int64 { return &r.ID }, copyResponse)},
	}
}

// Set exposes the store through the storage capability interfaces.
func (s *Store) Set() storage.Set {
	return storage.Set{
		Clients:   s.Clients,
		Commands:  s.Commands,
		Flows:     s.Flows,
		Steps:     s.Steps,
		Responses: s.Responses,
	}
}

// FailWrites makes every write of every repository return err until called
// again with nil.
func (s *Store) FailWrites(err error) {
	for _, mu := range []*sync.RWMutex{&s.Clients.mu, &s.Commands.mu, &s.Flows.mu, &s.Steps.mu, &s.Responses.mu} {
		mu.Lock()
	}
	s.Clients.fail = err
	s.Commands.fail = err
	s.Flows.fail = err
	s.Steps.fail = err
	s.Responses.fail = err
	for _, mu := range []*sync.RWMutex{&s.Clients.mu, &s.Commands.mu, &s.Flows.mu, &s.Steps.mu, &s.Responses.mu} {
		mu.Unlock()
	}
}

func copyResponse(r dialog.FlowResponse) dialog.FlowResponse {
	if r.Responses != nil {
		m := make(map[int64]any, len(r.Responses))
		for k, v := range r.Responses {
			m[k] = v
		}
		r.Responses = m
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	return r
}

// List returns commands ordered by ID.
func (r *CommandRepo) List(_ context.Context, activeOnly bool) ([]dialog.Command, error) {
	return r.list(func(c dialog.Command) bool { return !activeOnly || c.IsActive }), nil
}

// List returns flow headers ordered by ID.
func (r *FlowRepo) List(_ context.Context, activeOnly bool) ([]dialog.Flow, error) {
	return r.list(func(f dialog.Flow) bool { return !activeOnly || f.IsActive }), nil
}

// ListByFlow returns the steps of a flow ordered by orderIndex.
func (r *StepRepo) ListByFlow(_ context.Context, flowID int64) ([]dialog.Step, error) {
	steps := r.list(func(s dialog.Step) bool { return s.FlowID == flowID })
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].OrderIndex < steps[j].OrderIndex })
	return steps, nil
}

// SetAnswer records one answer on a response.
func (r *ResponseRepo) SetAnswer(_ context.Context, id, stepID int64, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	resp, ok := r.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	resp = copyResponse(resp)
	if resp.Responses == nil {
		resp.Responses = make(map[int64]any)
	}
	resp.Responses[stepID] = value
	resp.UpdatedAt = time.Now()
	r.rows[id] = resp
	return nil
}

// Complete marks a response as completed at the given time.
func (r *ResponseRepo) Complete(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	resp, ok := r.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	resp = copyResponse(resp)
	resp.Completed = true
	resp.CompletedAt = &at
	resp.UpdatedAt = at
	r.rows[id] = resp
	return nil
}

// ListByClient returns a client's responses ordered by ID.
func (r *ResponseRepo) ListByClient(_ context.Context, clientID int64) ([]dialog.FlowResponse, error) {
	return r.list(func(resp dialog.FlowResponse) bool { return resp.ClientID == clientID }), nil
}
