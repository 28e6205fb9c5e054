package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
)

// Row types mirror the table layout; jsonb columns travel as raw bytes and
// are decoded with the dialog package parsers.

type clientRow struct {
	ID                int64         `db:"id"`
	Username          string        `db:"username"`
	FirstName         string        `db:"first_name"`
	DialogOpen        bool          `db:"dialog_open"`
	CurrentFlowID     sql.NullInt64 `db:"current_flow_id"`
	CurrentStepID     sql.NullInt64 `db:"current_step_id"`
	CurrentResponseID sql.NullInt64 `db:"current_response_id"`
	FlowData          []byte        `db:"flow_data"`
	CreatedAt         time.Time     `db:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

func (r clientRow) model() (dialog.Client, error) {
	data, err := dialog.DecodeFlowData(r.FlowData)
	if err != nil {
		return dialog.Client{}, fmt.Errorf("client %d: %w", r.ID, err)
	}
	return dialog.Client{
		ID:                r.ID,
		Username:          r.Username,
		FirstName:         r.FirstName,
		DialogOpen:        r.DialogOpen,
		CurrentFlowID:     r.CurrentFlowID.Int64,
		CurrentStepID:     r.CurrentStepID.Int64,
		CurrentResponseID: r.CurrentResponseID.Int64,
		FlowData:          data,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

func toClientRow(c dialog.Client) (clientRow, error) {
	data := c.FlowData
	if data == nil {
		data = dialog.FlowData{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return clientRow{}, fmt.Errorf("encode flow data: %w", err)
	}
	return clientRow{
		ID:                c.ID,
		Username:          c.Username,
		FirstName:         c.FirstName,
		DialogOpen:        c.DialogOpen,
		CurrentFlowID:     nullID(c.CurrentFlowID),
		CurrentStepID:     nullID(c.CurrentStepID),
		CurrentResponseID: nullID(c.CurrentResponseID),
		FlowData:          raw,
	}, nil
}

type flowRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	IsActive  bool      `db:"is_active"`
	IsDefault bool      `db:"is_default"`
	CreatedAt time.Time `db:"created_at"`
}

func (r flowRow) model() dialog.Flow {
	return dialog.Flow{ID: r.ID, Name: r.Name, IsActive: r.IsActive, IsDefault: r.IsDefault, CreatedAt: r.CreatedAt}
}

type stepRow struct {
	ID           int64         `db:"id"`
	FlowID       int64         `db:"flow_id"`
	OrderIndex   int           `db:"order_index"`
	Question     string        `db:"question"`
	ResponseType string        `db:"response_type"`
	IsRequired   bool          `db:"is_required"`
	Options      []byte        `db:"options"`
	Config       []byte        `db:"config"`
	NextStepID   sql.NullInt64 `db:"next_step_id"`
}

// model decodes a step without compiling its rule or condition; the graph
// builder reports those per step instead of failing the whole flow.
func (r stepRow) model() (dialog.Step, error) {
	opts, err := dialog.ParseOptions(r.Options)
	if err != nil {
		return dialog.Step{}, fmt.Errorf("step %d: %w", r.ID, err)
	}
	var cfg dialog.StepConfig
	if len(r.Config) > 0 && string(r.Config) != "null" {
		if err := json.Unmarshal(r.Config, &cfg); err != nil {
			return dialog.Step{}, fmt.Errorf("step %d: decode config: %w", r.ID, err)
		}
	}
	return dialog.Step{
		ID:           r.ID,
		FlowID:       r.FlowID,
		OrderIndex:   r.OrderIndex,
		Question:     r.Question,
		ResponseType: dialog.ResponseType(r.ResponseType),
		IsRequired:   r.IsRequired,
		Options:      opts,
		Config:       cfg,
		NextStepID:   r.NextStepID.Int64,
	}, nil
}

func toStepRow(s dialog.Step) (stepRow, error) {
	opts := s.Options
	if opts == nil {
		opts = []dialog.Option{}
	}
	rawOpts, err := json.Marshal(opts)
	if err != nil {
		return stepRow{}, fmt.Errorf("encode options: %w", err)
	}
	rawCfg, err := json.Marshal(s.Config)
	if err != nil {
		return stepRow{}, fmt.Errorf("encode config: %w", err)
	}
	return stepRow{
		ID:           s.ID,
		FlowID:       s.FlowID,
		OrderIndex:   s.OrderIndex,
		Question:     s.Question,
		ResponseType: string(s.ResponseType),
		IsRequired:   s.IsRequired,
		Options:      rawOpts,
		Config:       rawCfg,
		NextStepID:   nullID(s.NextStepID),
	}, nil
}

type commandRow struct {
	ID          int64     `db:"id"`
	Pattern     string    `db:"pattern"`
	MatchType   string    `db:"match_type"`
	Priority    int       `db:"priority"`
	IsActive    bool      `db:"is_active"`
	Action      []byte    `db:"action"`
	Response    string    `db:"response"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r commandRow) model() (dialog.Command, error) {
	action, err := dialog.ParseAction(r.Action)
	if err != nil {
		return dialog.Command{}, fmt.Errorf("command %d: %w", r.ID, err)
	}
	return dialog.Command{
		ID:          r.ID,
		Pattern:     r.Pattern,
		MatchType:   dialog.MatchType(r.MatchType),
		Priority:    r.Priority,
		IsActive:    r.IsActive,
		Action:      action,
		Response:    r.Response,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func toCommandRow(c dialog.Command) (commandRow, error) {
	raw, err := dialog.MarshalAction(c.Action)
	if err != nil {
		return commandRow{}, err
	}
	return commandRow{
		ID:          c.ID,
		Pattern:     c.Pattern,
		MatchType:   string(c.MatchType),
		Priority:    c.Priority,
		IsActive:    c.IsActive,
		Action:      raw,
		Response:    c.Response,
		Description: c.Description,
	}, nil
}

type responseRow struct {
	ID          int64        `db:"id"`
	ClientID    int64        `db:"client_id"`
	FlowID      int64        `db:"flow_id"`
	Responses   []byte       `db:"responses"`
	Completed   bool         `db:"completed"`
	CompletedAt sql.NullTime `db:"completed_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r responseRow) model() (dialog.FlowResponse, error) {
	answers := map[int64]any{}
	if len(r.Responses) > 0 {
		if err := json.Unmarshal(r.Responses, &answers); err != nil {
			return dialog.FlowResponse{}, fmt.Errorf("response %d: decode answers: %w", r.ID, err)
		}
	}
	out := dialog.FlowResponse{
		ID:        r.ID,
		ClientID:  r.ClientID,
		FlowID:    r.FlowID,
		Responses: answers,
		Completed: r.Completed,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.CompletedAt.Valid {
		at := r.CompletedAt.Time
		out.CompletedAt = &at
	}
	return out, nil
}

func toResponseRow(f dialog.FlowResponse) (responseRow, error) {
	answers := f.Responses
	if answers == nil {
		answers = map[int64]any{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return responseRow{}, fmt.Errorf("encode answers: %w", err)
	}
	row := responseRow{
		ID:        f.ID,
		ClientID:  f.ClientID,
		FlowID:    f.FlowID,
		Responses: raw,
		Completed: f.Completed,
	}
	if f.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *f.CompletedAt, Valid: true}
	}
	return row, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func jsonValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	return raw, nil
}
