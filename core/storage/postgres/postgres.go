// Package postgres implements the storage repositories on PostgreSQL through
// sqlx. Schema changes live in the migrations directory and are applied by
// the database package.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/flowbot/core/dialog"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/storage"
)

const component = "storage.postgres"

// Store groups the repositories sharing one connection pool.
type Store struct {
	db *sqlx.DB

	Clients   *ClientRepo
	Commands  *CommandRepo
	Flows     *FlowRepo
	Steps     *StepRepo
	Responses *ResponseRepo
}

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:        db,
		Clients:   &ClientRepo{db: db},
		Commands:  &CommandRepo{db: db},
		Flows:     &FlowRepo{db: db},
		Steps:     &StepRepo{db: db},
		Responses: &ResponseRepo{db: db},
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

// ActiveCommands returns active commands. Rows whose action cannot be decoded
// are logged and left out so one bad row does not block a reload.
func (s *Store) ActiveCommands(ctx context.Context) ([]dialog.Command, error) {
	var rows []commandRow
	if err := s.db.SelectContext(ctx, &rows, selectCommands+` WHERE is_active ORDER BY id`); err != nil {
		return nil, fmt.Errorf("select commands: %w", err)
	}
	out := make([]dialog.Command, 0, len(rows))
	for _, r := range rows {
		c, err := r.model()
		if err != nil {
			logger.Warn(ctx, component, "command.decode", slog.Int64("command_id", r.ID), slog.String("err", err.Error()))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ActiveFlows returns active flows with their steps, loading all steps in one
// query.
func (s *Store) ActiveFlows(ctx context.Context) ([]dialog.Flow, error) {
	flows, err := s.Flows.List(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(flows) == 0 {
		return flows, nil
	}
	ids := make([]int64, len(flows))
	index := make(map[int64]int, len(flows))
	for i, f := range flows {
		ids[i] = f.ID
		index[f.ID] = i
	}
	var rows []stepRow
	err = s.db.SelectContext(ctx, &rows,
		selectSteps+` WHERE flow_id = ANY($1) ORDER BY flow_id, order_index, id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("select steps: %w", err)
	}
	for _, r := range rows {
		st, err := r.model()
		if err != nil {
			logger.Warn(ctx, component, "step.decode",
				slog.Int64("flow_id", r.FlowID),
				slog.Int64("step_id", r.ID),
				slog.String("err", err.Error()),
			)
			continue
		}
		i := index[st.FlowID]
		flows[i].Steps = append(flows[i].Steps, st)
	}
	return flows, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func deleteByID(ctx context.Context, db *sqlx.DB, table string, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ClientRepo stores clients. IDs come from the chat platform, so Save always
// upserts by ID.
type ClientRepo struct{ db *sqlx.DB }

const selectClients = `SELECT id, username, first_name, dialog_open, current_flow_id, current_step_id,
	current_response_id, flow_data, created_at, updated_at FROM clients`

// Find returns the client with id.
func (r *ClientRepo) Find(ctx context.Context, id int64) (dialog.Client, error) {
	var row clientRow
	if err := r.db.GetContext(ctx, &row, selectClients+` WHERE id = $1`, id); err != nil {
		return dialog.Client{}, notFound(err)
	}
	return row.model()
}

// Save inserts or updates a client.
func (r *ClientRepo) Save(ctx context.Context, c *dialog.Client) error {
	if c.ID == 0 {
		return errors.New("save client: id is required")
	}
	row, err := toClientRow(*c)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO clients (id, username, first_name, dialog_open, current_flow_id, current_step_id,
			current_response_id, flow_data)
		VALUES (:id, :username, :first_name, :dialog_open, :current_flow_id, :current_step_id,
			:current_response_id, :flow_data)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			dialog_open = EXCLUDED.dialog_open,
			current_flow_id = EXCLUDED.current_flow_id,
			current_step_id = EXCLUDED.current_step_id,
			current_response_id = EXCLUDED.current_response_id,
			flow_data = EXCLUDED.flow_data,
			updated_at = now()`
	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("save client %d: %w", c.ID, err)
	}
	return nil
}

// Delete removes a client and its responses.
func (r *ClientRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "clients", id)
}

// CommandRepo stores command definitions.
type CommandRepo struct{ db *sqlx.DB }

const selectCommands = `SELECT id, pattern, match_type, priority, is_active, action, response,
	description, created_at FROM commands`

// Find returns the command with id.
func (r *CommandRepo) Find(ctx context.Context, id int64) (dialog.Command, error) {
	var row commandRow
	if err := r.db.GetContext(ctx, &row, selectCommands+` WHERE id = $1`, id); err != nil {
		return dialog.Command{}, notFound(err)
	}
	return row.model()
}

// Save inserts a command when its ID is zero and updates it otherwise.
func (r *CommandRepo) Save(ctx context.Context, c *dialog.Command) error {
	row, err := toCommandRow(*c)
	if err != nil {
		return err
	}
	if c.ID == 0 {
		return insertReturningID(ctx, r.db, `
			INSERT INTO commands (pattern, match_type, priority, is_active, action, response, description)
			VALUES (:pattern, :match_type, :priority, :is_active, :action, :response, :description)
			RETURNING id`, row, &c.ID)
	}
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE commands SET pattern = :pattern, match_type = :match_type, priority = :priority,
			is_active = :is_active, action = :action, response = :response, description = :description
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("update command %d: %w", c.ID, err)
	}
	return affected(res)
}

// Delete removes a command.
func (r *CommandRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "commands", id)
}

// List returns commands ordered by ID.
func (r *CommandRepo) List(ctx context.Context, activeOnly bool) ([]dialog.Command, error) {
	var rows []commandRow
	if err := r.db.SelectContext(ctx, &rows, selectCommands+` WHERE is_active OR NOT $1 ORDER BY id`, activeOnly); err != nil {
		return nil, fmt.Errorf("select commands: %w", err)
	}
	out := make([]dialog.Command, 0, len(rows))
	for _, row := range rows {
		c, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FlowRepo stores flow headers.
type FlowRepo struct{ db *sqlx.DB }

const selectFlows = `SELECT id, name, is_active, is_default, created_at FROM flows`

// Find returns the flow header with id.
func (r *FlowRepo) Find(ctx context.Context, id int64) (dialog.Flow, error) {
	var row flowRow
	if err := r.db.GetContext(ctx, &row, selectFlows+` WHERE id = $1`, id); err != nil {
		return dialog.Flow{}, notFound(err)
	}
	return row.model(), nil
}

// Save inserts or updates a flow header. Steps are saved separately.
func (r *FlowRepo) Save(ctx context.Context, f *dialog.Flow) error {
	row := flowRow{ID: f.ID, Name: f.Name, IsActive: f.IsActive, IsDefault: f.IsDefault}
	if f.ID == 0 {
		return insertReturningID(ctx, r.db, `
			INSERT INTO flows (name, is_active, is_default) VALUES (:name, :is_active, :is_default)
			RETURNING id`, row, &f.ID)
	}
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE flows SET name = :name, is_active = :is_active, is_default = :is_default WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("update flow %d: %w", f.ID, err)
	}
	return affected(res)
}

// Delete removes a flow and its steps.
func (r *FlowRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "flows", id)
}

// List returns flow headers ordered by ID.
func (r *FlowRepo) List(ctx context.Context, activeOnly bool) ([]dialog.Flow, error) {
	var rows []flowRow
	if err := r.db.SelectContext(ctx, &rows, selectFlows+` WHERE is_active OR NOT $1 ORDER BY id`, activeOnly); err != nil {
		return nil, fmt.Errorf("select flows: %w", err)
	}
	out := make([]dialog.Flow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

// StepRepo stores flow steps.
type StepRepo struct{ db *sqlx.DB }

const selectSteps = `SELECT id, flow_id, order_index, question, response_type, is_required, options,
	config, next_step_id FROM steps`

// Find returns the step with id.
func (r *StepRepo) Find(ctx context.Context, id int64) (dialog.Step, error) {
	var row stepRow
	if err := r.db.GetContext(ctx, &row, selectSteps+` WHERE id = $1`, id); err != nil {
		return dialog.Step{}, notFound(err)
	}
	return row.model()
}

// Save inserts or updates a step.
func (r *StepRepo) Save(ctx context.Context, s *dialog.Step) error {
	row, err := toStepRow(*s)
	if err != nil {
		return err
	}
	if s.ID == 0 {
		return insertReturningID(ctx, r.db, `
			INSERT INTO steps (flow_id, order_index, question, response_type, is_required, options, config, next_step_id)
			VALUES (:flow_id, :order_index, :question, :response_type, :is_required, :options, :config, :next_step_id)
			RETURNING id`, row, &s.ID)
	}
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE steps SET flow_id = :flow_id, order_index = :order_index, question = :question,
			response_type = :response_type, is_required = :is_required, options = :options,
			config = :config, next_step_id = :next_step_id
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("update step %d: %w", s.ID, err)
	}
	return affected(res)
}

// Delete removes a step.
func (r *StepRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "steps", id)
}

// ListByFlow returns the steps of a flow ordered by orderIndex.
func (r *StepRepo) ListByFlow(ctx context.Context, flowID int64) ([]dialog.Step, error) {
	var rows []stepRow
	if err := r.db.SelectContext(ctx, &rows, selectSteps+` WHERE flow_id = $1 ORDER BY order_index, id`, flowID); err != nil {
		return nil, fmt.Errorf("select steps of flow %d: %w", flowID, err)
	}
	out := make([]dialog.Step, 0, len(rows))
	for _, row := range rows {
		st, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ResponseRepo stores flow responses.
type ResponseRepo struct{ db *sqlx.DB }

const selectResponses = `SELECT id, client_id, flow_id, responses, completed, completed_at, created_at,
	updated_at FROM flow_responses`

// Find returns the response with id.
func (r *ResponseRepo) Find(ctx context.Context, id int64) (dialog.FlowResponse, error) {
	var row responseRow
	if err := r.db.GetContext(ctx, &row, selectResponses+` WHERE id = $1`, id); err != nil {
		return dialog.FlowResponse{}, notFound(err)
	}
	return row.model()
}

// Save inserts or replaces a response.
func (r *ResponseRepo) Save(ctx context.Context, f *dialog.FlowResponse) error {
	row, err := toResponseRow(*f)
	if err != nil {
		return err
	}
	if f.ID == 0 {
		return insertReturningID(ctx, r.db, `
			INSERT INTO flow_responses (client_id, flow_id, responses, completed, completed_at)
			VALUES (:client_id, :flow_id, :responses, :completed, :completed_at)
			RETURNING id`, row, &f.ID)
	}
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE flow_responses SET client_id = :client_id, flow_id = :flow_id, responses = :responses,
			completed = :completed, completed_at = :completed_at, updated_at = now()
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("update response %d: %w", f.ID, err)
	}
	return affected(res)
}

// Delete removes a response.
func (r *ResponseRepo) Delete(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "flow_responses", id)
}

// SetAnswer writes one answer with jsonb_set so concurrent answers to other
// steps are not overwritten.
func (r *ResponseRepo) SetAnswer(ctx context.Context, id, stepID int64, value any) error {
	raw, err := jsonValue(value)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE flow_responses
		SET responses = jsonb_set(COALESCE(responses, '{}'::jsonb), $2::text[], $3::jsonb, true),
			updated_at = now()
		WHERE id = $1`,
		id, pq.Array([]string{strconv.FormatInt(stepID, 10)}), raw)
	if err != nil {
		return fmt.Errorf("set answer %d/%d: %w", id, stepID, err)
	}
	return affected(res)
}

// Complete marks a response as completed.
func (r *ResponseRepo) Complete(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE flow_responses SET completed = true, completed_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("complete response %d: %w", id, err)
	}
	return affected(res)
}

// ListByClient returns a client's responses ordered by ID.
func (r *ResponseRepo) ListByClient(ctx context.Context, clientID int64) ([]dialog.FlowResponse, error) {
	var rows []responseRow
	if err := r.db.SelectContext(ctx, &rows, selectResponses+` WHERE client_id = $1 ORDER BY id`, clientID); err != nil {
		return nil, fmt.Errorf("select responses of client %d: %w", clientID, err)
	}
	out := make([]dialog.FlowResponse, 0, len(rows))
	for _, row := range rows {
		resp, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func insertReturningID(ctx context.Context, db *sqlx.DB, query string, arg any, id *int64) error {
	q, args, err := db.BindNamed(query, arg)
	if err != nil {
		return fmt.Errorf("bind insert: %w", err)
	}
	if err := db.QueryRowxContext(ctx, q, args...).Scan(id); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}
