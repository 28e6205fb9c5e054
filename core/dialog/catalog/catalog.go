// Package catalog builds immutable snapshots of the command table and flow
// graphs and swaps them in atomically when definitions change.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/dialog/commands"
	"github.com/m3rciful/flowbot/core/dialog/graph"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/storage"
)

const component = "dialog.catalog"

// Source supplies the active definitions a snapshot is built from.
type Source interface {
	ActiveCommands(ctx context.Context) ([]dialog.Command, error)
	// ActiveFlows returns active flows with their steps attached.
	ActiveFlows(ctx context.Context) ([]dialog.Flow, error)
}

// Snapshot is one consistent view of commands and flows. It is never
// mutated after Build returns.
type Snapshot struct {
	Commands      *commands.Table
	DefaultFlowID int64
	Version       uint64
	BuiltAt       time.Time

	flows  map[int64]*graph.Graph
	names  map[int64]string
	errors []error
}

// Build constructs a snapshot from definitions. Inactive flows and flows
// without usable steps are left out; every problem found is kept in Errors.
func Build(cmds []dialog.Command, flows []dialog.Flow) *Snapshot {
	s := &Snapshot{
		Commands: commands.New(cmds),
		BuiltAt:  time.Now(),
		flows:    make(map[int64]*graph.Graph, len(flows)),
		names:    make(map[int64]string, len(flows)),
	}
	s.errors = append(s.errors, s.Commands.Errors()...)

	sorted := append([]dialog.Flow(nil), flows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, f := range sorted {
		if !f.IsActive {
			continue
		}
		g, err := graph.New(f)
		if err != nil {
			s.errors = append(s.errors, err)
		}
		if g == nil {
			continue
		}
		s.errors = append(s.errors, g.Warnings()...)
		s.flows[f.ID] = g
		s.names[f.ID] = f.Name
		if f.IsDefault {
			if s.DefaultFlowID == 0 {
				s.DefaultFlowID = f.ID
			} else {
				s.errors = append(s.errors, &dialog.FlowConfigError{FlowID: f.ID, Field: "isDefault", Message: fmt.Sprintf("flow %d is already the default", s.DefaultFlowID)})
			}
		}
	}
	return s
}

// Flow returns the graph of an active flow. ID 0 selects the default flow.
func (s *Snapshot) Flow(id int64) (*graph.Graph, bool) {
	if s == nil {
		return nil, false
	}
	if id == 0 {
		id = s.DefaultFlowID
	}
	g, ok := s.flows[id]
	return g, ok
}

// FlowName returns the display name of an active flow.
func (s *Snapshot) FlowName(id int64) string {
	if s == nil {
		return ""
	}
	return s.names[id]
}

// FlowIDs lists active flows in ascending order.
func (s *Snapshot) FlowIDs() []int64 {
	if s == nil {
		return nil
	}
	ids := make([]int64, 0, len(s.flows))
	for id := range s.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Errors lists the configuration problems found while building.
func (s *Snapshot) Errors() []error {
	if s == nil {
		return nil
	}
	return append([]error(nil), s.errors...)
}

// Catalog owns the current snapshot.
type Catalog struct {
	src     Source
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	reload  sync.Mutex

	// OnReload, when set, is called after every successful swap.
	OnReload func(ctx context.Context, s *Snapshot)
	// OnResult, when set, is called after every reload attempt with its error
	// and the number of configuration problems in the new snapshot.
	OnResult func(err error, configErrors int)
}

// New returns a catalog holding an empty snapshot until Reload succeeds.
func New(src Source) *Catalog {
	c := &Catalog{src: src}
	c.current.Store(Build(nil, nil))
	return c
}

// Snapshot returns the current snapshot without locking.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload rebuilds the snapshot from the source and swaps it in. On error the
// previous snapshot stays current.
func (c *Catalog) Reload(ctx context.Context) (*Snapshot, error) {
	c.reload.Lock()
	defer c.reload.Unlock()

	start := time.Now()
	snap, err := c.load(ctx)
	if c.OnResult != nil {
		n := 0
		if snap != nil {
			n = len(snap.errors)
		}
		c.OnResult(err, n)
	}
	if err != nil {
		logger.Error(ctx, component, "catalog.reload",
			slog.String("status", "error"),
			slog.String("err", err.Error()),
			slog.Duration("took", logger.Took(start)),
		)
		return c.Snapshot(), err
	}

	snap.Version = c.version.Add(1)
	c.current.Store(snap)

	for _, e := range snap.errors {
		logger.Warn(ctx, component, "catalog.config_error", slog.String("err", e.Error()))
	}
	logger.Info(ctx, component, "catalog.reload",
		slog.String("status", "ok"),
		slog.Uint64("version", snap.Version),
		slog.Int("commands", snap.Commands.Len()),
		slog.Int("flows", len(snap.flows)),
		slog.Int64("default_flow_id", snap.DefaultFlowID),
		slog.Int("config_errors", len(snap.errors)),
		slog.Duration("took", logger.Took(start)),
	)
	if c.OnReload != nil {
		c.OnReload(ctx, snap)
	}
	return snap, nil
}

func (c *Catalog) load(ctx context.Context) (*Snapshot, error) {
	if c.src == nil {
		return nil, errors.New("catalog: nil source")
	}
	cmds, err := c.src.ActiveCommands(ctx)
	if err != nil {
		return nil, fmt.Errorf("load commands: %w", err)
	}
	flows, err := c.src.ActiveFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	return Build(cmds, flows), nil
}

// Watch reloads on every tick of interval and on every value received from
// notify until ctx is done. A zero interval disables the timer; a nil notify
// disables notifications.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration, notify <-chan struct{}) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = c.Reload(ctx)
		case _, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			logger.Debug(ctx, component, "catalog.notify")
			_, _ = c.Reload(ctx)
		}
	}
}

// ValidateFlow reports every configuration problem of flow, warnings
// included, as joined FlowConfigErrors. It is meant for admin saves.
func ValidateFlow(flow dialog.Flow) error {
	g, err := graph.New(flow)
	errs := []error{err}
	if g != nil {
		errs = append(errs, g.Warnings()...)
	}
	return errors.Join(errs...)
}

type repoSource struct {
	cmds  storage.Commands
	flows storage.Flows
	steps storage.Steps
}

// FromRepositories adapts repositories into a Source.
func FromRepositories(set storage.Set) Source {
	return repoSource{cmds: set.Commands, flows: set.Flows, steps: set.Steps}
}

func (r repoSource) ActiveCommands(ctx context.Context) ([]dialog.Command, error) {
	return r.cmds.List(ctx, true)
}

func (r repoSource) ActiveFlows(ctx context.Context) ([]dialog.Flow, error) {
	flows, err := r.flows.List(ctx, true)
	if err != nil {
		return nil, err
	}
	for i := range flows {
		steps, err := r.steps.ListByFlow(ctx, flows[i].ID)
		if err != nil {
			return nil, fmt.Errorf("flow %d steps: %w", flows[i].ID, err)
		}
		flows[i].Steps = steps
	}
	return flows, nil
}
