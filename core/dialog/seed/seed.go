// Package seed loads commands and flows from a YAML document into empty
// storage. Flows and steps are referenced by name and key instead of
// database IDs, which are only known after insertion.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/flowbot/core/bootstrap"
	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/storage"
)

// File is the seed document.
type File struct {
	Commands []Command `yaml:"commands"`
	Flows    []Flow    `yaml:"flows"`
}

// Command describes one command. Action flow references use the flow name.
type Command struct {
	Pattern     string  `yaml:"pattern"`
	Match       string  `yaml:"match"`
	Priority    int     `yaml:"priority"`
	Active      *bool   `yaml:"active"`
	Response    string  `yaml:"response"`
	Description string  `yaml:"description"`
	Action      *Action `yaml:"action"`
}

// Action is a command action with a symbolic flow reference.
type Action struct {
	Type       string `yaml:"type"`
	Flow       string `yaml:"flow"`
	Message    string `yaml:"message"`
	ButtonText string `yaml:"button_text"`
}

// Flow describes one flow and its steps in order.
type Flow struct {
	Name    string `yaml:"name"`
	Default bool   `yaml:"default"`
	Active  *bool  `yaml:"active"`
	Steps   []Step `yaml:"steps"`
}

// Step describes one step. Key names the step for next references and
// defaults to its position.
type Step struct {
	Key      string         `yaml:"key"`
	Question string         `yaml:"question"`
	Type     string         `yaml:"type"`
	Required bool           `yaml:"required"`
	Next     string         `yaml:"next"`
	Options  []Option       `yaml:"options"`
	Config   map[string]any `yaml:"config"`
}

// Option is a step option whose next target is a step key.
type Option struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
	URL   string `yaml:"url"`
	Next  string `yaml:"next"`
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Seeder writes a seed file into storage.Set repositories.
type Seeder struct {
	File *File
}

var _ bootstrap.Seeder = Seeder{}

// Seed inserts the document when no commands and no flows exist yet.
func (s Seeder) Seed(ctx context.Context, target bootstrap.Storage) error {
	set, ok := target.(storage.Set)
	if !ok {
		return fmt.Errorf("seed: unsupported storage %T", target)
	}
	if s.File == nil {
		return nil
	}
	start := time.Now()
	cmds, err := set.Commands.List(ctx, false)
	if err != nil {
		return fmt.Errorf("seed: list commands: %w", err)
	}
	flows, err := set.Flows.List(ctx, false)
	if err != nil {
		return fmt.Errorf("seed: list flows: %w", err)
	}
	if len(cmds) > 0 || len(flows) > 0 {
		logger.Info(ctx, "db.seed", "seed.skip",
			slog.Int("commands", len(cmds)),
			slog.Int("flows", len(flows)),
		)
		return nil
	}

	flowIDs := make(map[string]int64, len(s.File.Flows))
	steps := 0
	for _, f := range s.File.Flows {
		id, n, err := seedFlow(ctx, set, f)
		if err != nil {
			return fmt.Errorf("seed flow %q: %w", f.Name, err)
		}
		flowIDs[f.Name] = id
		steps += n
	}
	for i, c := range s.File.Commands {
		cmd, err := c.model(flowIDs)
		if err != nil {
			return fmt.Errorf("seed command %d (%s): %w", i, c.Pattern, err)
		}
		if err := set.Commands.Save(ctx, &cmd); err != nil {
			return fmt.Errorf("seed command %s: %w", c.Pattern, err)
		}
	}
	logger.Info(ctx, "db.seed", "seed.apply",
		slog.Int("commands", len(s.File.Commands)),
		slog.Int("flows", len(s.File.Flows)),
		slog.Int("steps", steps),
		slog.Duration("took", logger.Took(start)),
	)
	return nil
}

// seedFlow saves the flow and its steps, then wires next references once
// every step has an ID.
func seedFlow(ctx context.Context, set storage.Set, f Flow) (int64, int, error) {
	if f.Name == "" {
		return 0, 0, errors.New("name is required")
	}
	flow := dialog.Flow{Name: f.Name, IsActive: active(f.Active), IsDefault: f.Default}
	if err := set.Flows.Save(ctx, &flow); err != nil {
		return 0, 0, err
	}

	saved := make([]dialog.Step, len(f.Steps))
	keys := make(map[string]int64, len(f.Steps))
	for i, st := range f.Steps {
		step, err := st.model(flow.ID, i+1)
		if err != nil {
			return 0, 0, err
		}
		if err := set.Steps.Save(ctx, &step); err != nil {
			return 0, 0, err
		}
		key := st.Key
		if key == "" {
			key = fmt.Sprint(i + 1)
		}
		if _, dup := keys[key]; dup {
			return 0, 0, fmt.Errorf("duplicate step key %q", key)
		}
		keys[key] = step.ID
		saved[i] = step
	}

	for i, st := range f.Steps {
		step := saved[i]
		changed := false
		if st.Next != "" {
			id, ok := keys[st.Next]
			if !ok {
				return 0, 0, fmt.Errorf("step %d: unknown next %q", i+1, st.Next)
			}
			step.NextStepID = id
			changed = true
		}
		for j, opt := range st.Options {
			if opt.Next == "" {
				continue
			}
			id, ok := keys[opt.Next]
			if !ok {
				return 0, 0, fmt.Errorf("step %d option %s: unknown next %q", i+1, opt.Value, opt.Next)
			}
			step.Options[j].NextStepID = id
			changed = true
		}
		if changed {
			if err := set.Steps.Save(ctx, &step); err != nil {
				return 0, 0, err
			}
		}
	}
	return flow.ID, len(f.Steps), nil
}

func (s Step) model(flowID int64, order int) (dialog.Step, error) {
	rt := dialog.ResponseType(s.Type)
	if rt == "" {
		rt = dialog.ResponseText
	}
	if !rt.Valid() {
		return dialog.Step{}, fmt.Errorf("step %d: unknown type %q", order, s.Type)
	}
	var cfg dialog.StepConfig
	if len(s.Config) > 0 {
		raw, err := json.Marshal(s.Config)
		if err != nil {
			return dialog.Step{}, fmt.Errorf("step %d: encode config: %w", order, err)
		}
		if cfg, err = dialog.ParseStepConfig(raw); err != nil {
			return dialog.Step{}, fmt.Errorf("step %d: %w", order, err)
		}
	}
	opts := make([]dialog.Option, 0, len(s.Options))
	for _, o := range s.Options {
		value := o.Value
		if value == "" {
			value = o.Label
		}
		opts = append(opts, dialog.Option{Label: o.Label, Value: value, URL: o.URL})
	}
	return dialog.Step{
		FlowID:       flowID,
		OrderIndex:   order,
		Question:     s.Question,
		ResponseType: rt,
		IsRequired:   s.Required,
		Options:      opts,
		Config:       cfg,
	}, nil
}

func (c Command) model(flows map[string]int64) (dialog.Command, error) {
	match := dialog.MatchType(c.Match)
	if match == "" {
		match = dialog.MatchExact
	}
	if !match.Valid() {
		return dialog.Command{}, fmt.Errorf("unknown match %q", c.Match)
	}
	cmd := dialog.Command{
		Pattern:     c.Pattern,
		MatchType:   match,
		Priority:    c.Priority,
		IsActive:    active(c.Active),
		Response:    c.Response,
		Description: c.Description,
	}
	if c.Action == nil {
		return cmd, nil
	}
	doc := map[string]any{"type": c.Action.Type}
	if c.Action.Flow != "" {
		id, ok := flows[c.Action.Flow]
		if !ok {
			return dialog.Command{}, fmt.Errorf("unknown flow %q", c.Action.Flow)
		}
		doc["flowId"] = id
	}
	if c.Action.Message != "" {
		doc["message"] = c.Action.Message
	}
	if c.Action.ButtonText != "" {
		doc["buttonText"] = c.Action.ButtonText
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return dialog.Command{}, err
	}
	action, err := dialog.ParseAction(raw)
	if err != nil {
		return dialog.Command{}, err
	}
	cmd.Action = action
	return cmd, nil
}

func active(v *bool) bool {
	return v == nil || *v
}
