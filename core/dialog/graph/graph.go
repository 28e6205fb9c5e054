// Package graph turns a flow's steps into an immutable, validated transition
// graph and resolves the next step for a captured answer.
package graph

import (
	"errors"
	"sort"

	"github.com/m3rciful/flowbot/core/dialog"
)

// Resolution is the outcome of a traversal: either a step to present or the
// end of the flow.
type Resolution struct {
	Step      dialog.Step
	Completed bool
}

// Graph is an arena of steps indexed by ID with their orderIndex sequence.
// It is safe for concurrent use once built.
type Graph struct {
	flowID   int64
	steps    map[int64]dialog.Step
	order    []int64
	pos      map[int64]int
	warnings []error
}

// New validates flow and builds its graph. Edges that point outside the flow,
// leave a final step or carry an invalid skip condition are dropped so the
// graph stays traversable along orderIndex; every such problem is returned
// joined as FlowConfigErrors. The graph is nil only when the flow has no
// usable steps.
func New(flow dialog.Flow) (*Graph, error) {
	g := &Graph{
		flowID: flow.ID,
		steps:  make(map[int64]dialog.Step, len(flow.Steps)),
		pos:    make(map[int64]int, len(flow.Steps)),
	}
	var errs []error
	cfgErr := func(stepID int64, field, msg string) {
		errs = append(errs, &dialog.FlowConfigError{FlowID: flow.ID, StepID: stepID, Field: field, Message: msg})
	}

	for _, st := range flow.Steps {
		if st.ID == 0 {
			cfgErr(0, "id", "step without id")
			continue
		}
		if _, dup := g.steps[st.ID]; dup {
			cfgErr(st.ID, "id", "duplicate step id")
			continue
		}
		if !st.ResponseType.Valid() {
			cfgErr(st.ID, "responseType", "unknown response type "+string(st.ResponseType))
			st.ResponseType = dialog.ResponseText
		}
		st.Options = append([]dialog.Option(nil), st.Options...)
		if st.Config.Validate != nil {
			rule := *st.Config.Validate
			if err := rule.Compile(); err != nil {
				cfgErr(st.ID, "config.validate", err.Error())
				st.Config.Validate = nil
			} else {
				st.Config.Validate = &rule
			}
		}
		if st.Config.SkipIf != nil {
			if err := st.Config.SkipIf.Validate(); err != nil {
				cfgErr(st.ID, "config.skipIf", err.Error())
				st.Config.SkipIf = nil
			}
		}
		g.steps[st.ID] = st
		g.order = append(g.order, st.ID)
	}
	if len(g.order) == 0 {
		errs = append(errs, &dialog.FlowConfigError{FlowID: flow.ID, Message: "flow has no steps"})
		return nil, errors.Join(errs...)
	}

	sort.SliceStable(g.order, func(i, j int) bool {
		a, b := g.steps[g.order[i]], g.steps[g.order[j]]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		return a.ID < b.ID
	})
	for i, id := range g.order {
		g.pos[id] = i
		if i > 0 && g.steps[g.order[i-1]].OrderIndex == g.steps[id].OrderIndex {
			cfgErr(id, "orderIndex", "duplicate orderIndex")
		}
	}

	for _, id := range g.order {
		st := g.steps[id]
		if st.IsFinal() {
			if st.NextStepID != 0 {
				cfgErr(id, "nextStepId", "final step has an outgoing edge")
				st.NextStepID = 0
			}
			for i := range st.Options {
				if st.Options[i].NextStepID != 0 {
					cfgErr(id, "options", "final step option has an outgoing edge")
					st.Options[i].NextStepID = 0
				}
			}
		}
		if st.NextStepID != 0 {
			if _, ok := g.steps[st.NextStepID]; !ok {
				cfgErr(id, "nextStepId", "references unknown step")
				st.NextStepID = 0
			}
		}
		for i := range st.Options {
			if next := st.Options[i].NextStepID; next != 0 {
				if _, ok := g.steps[next]; !ok {
					cfgErr(id, "options", "option "+st.Options[i].Value+" references unknown step")
					st.Options[i].NextStepID = 0
				}
			}
		}
		g.steps[id] = st
	}

	if !g.finalReachable() {
		g.warnings = append(g.warnings, &dialog.FlowConfigError{FlowID: flow.ID, Message: "no reachable final step"})
	}
	return g, errors.Join(errs...)
}

func (g *Graph) finalReachable() bool {
	seen := make(map[int64]bool, len(g.order))
	queue := []int64{g.order[0]}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		st := g.steps[id]
		if st.IsFinal() {
			return true
		}
		if next, ok := g.followDefault(st); ok {
			queue = append(queue, next.ID)
		}
		for _, opt := range st.Options {
			if opt.NextStepID != 0 {
				queue = append(queue, opt.NextStepID)
			}
		}
	}
	return false
}

// FlowID returns the flow the graph was built from.
func (g *Graph) FlowID() int64 { return g.flowID }

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.order) }

// Warnings lists non-fatal findings such as an unreachable final step.
func (g *Graph) Warnings() []error { return append([]error(nil), g.warnings...) }

// Step returns the step with the given id.
func (g *Graph) Step(id int64) (dialog.Step, bool) {
	st, ok := g.steps[id]
	return st, ok
}

// Steps returns all steps in orderIndex order.
func (g *Graph) Steps() []dialog.Step {
	out := make([]dialog.Step, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.steps[id])
	}
	return out
}

// FirstStep returns the step with the lowest orderIndex.
func (g *Graph) FirstStep() dialog.Step {
	return g.steps[g.order[0]]
}

// Entry resolves where a new run of the flow starts, honouring skipIf on the
// first steps.
func (g *Graph) Entry(data dialog.FlowData) (Resolution, error) {
	return g.skip(g.FirstStep(), data)
}

// ResolveNext picks the step after current. A final step completes the flow.
// Otherwise a button whose option carries an edge wins, then the step's own
// NextStepID, then orderIndex. Candidates whose skipIf holds against data are
// passed over; a skip chain longer than the flow is a FlowConfigError.
func (g *Graph) ResolveNext(current dialog.Step, answer any, button string, data dialog.FlowData) (Resolution, error) {
	if current.IsFinal() {
		return Resolution{Completed: true}, nil
	}
	cur, ok := g.steps[current.ID]
	if !ok {
		return Resolution{}, &dialog.FlowConfigError{FlowID: g.flowID, StepID: current.ID, Message: "step is not part of the flow"}
	}
	if button != "" {
		if opt, ok := cur.Option(button); ok && opt.NextStepID != 0 {
			return g.skip(g.steps[opt.NextStepID], data)
		}
	}
	next, ok := g.followDefault(cur)
	if !ok {
		return Resolution{Completed: true}, nil
	}
	return g.skip(next, data)
}

// NextInOrder returns the step after current by orderIndex, ignoring explicit
// edges and skip conditions.
func (g *Graph) NextInOrder(current dialog.Step) Resolution {
	if current.IsFinal() {
		return Resolution{Completed: true}
	}
	if next, ok := g.orderNext(current.ID); ok {
		return Resolution{Step: next}
	}
	return Resolution{Completed: true}
}

func (g *Graph) skip(cand dialog.Step, data dialog.FlowData) (Resolution, error) {
	for skipped := 0; ; skipped++ {
		if cand.Config.SkipIf == nil || !cand.Config.SkipIf.Holds(data) {
			return Resolution{Step: cand}, nil
		}
		if skipped >= len(g.order) {
			return Resolution{}, &dialog.FlowConfigError{
				FlowID:  g.flowID,
				StepID:  cand.ID,
				Field:   "config.skipIf",
				Message: "skip chain does not terminate",
			}
		}
		next, ok := g.skipTarget(cand)
		if !ok {
			return Resolution{Completed: true}, nil
		}
		cand = next
	}
}

// skipTarget is where a skipped step hands over. Unlike followDefault it lets
// a skipped final step fall through to the next step by orderIndex.
func (g *Graph) skipTarget(st dialog.Step) (dialog.Step, bool) {
	if st.NextStepID != 0 {
		next, ok := g.steps[st.NextStepID]
		return next, ok
	}
	return g.orderNext(st.ID)
}

func (g *Graph) followDefault(st dialog.Step) (dialog.Step, bool) {
	if st.NextStepID != 0 {
		next, ok := g.steps[st.NextStepID]
		return next, ok
	}
	if st.IsFinal() {
		return dialog.Step{}, false
	}
	return g.orderNext(st.ID)
}

func (g *Graph) orderNext(id int64) (dialog.Step, bool) {
	i, ok := g.pos[id]
	if !ok || i+1 >= len(g.order) {
		return dialog.Step{}, false
	}
	return g.steps[g.order[i+1]], true
}
