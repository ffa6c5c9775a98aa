package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/model"
)

type pipelineConfigStore struct {
	conn db.DBTX
}

func newPipelineConfigStore(conn db.DBTX) PipelineConfigStore {
	return &pipelineConfigStore{conn: conn}
}

const listEnabledConfigsSQL = `
SELECT c.id, c.step_key, t.label, c.enabled, c.step_order, c.params, c.updated_at
FROM pipeline_step_configs c
JOIN pipeline_step_types t ON t.key = c.step_key
WHERE c.enabled
ORDER BY c.step_order, t.label`

func (s *pipelineConfigStore) ListEnabled(ctx context.Context) ([]model.StepConfig, error) {
	rows, err := s.conn.Query(ctx, listEnabledConfigsSQL)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StepConfig, error) {
		var (
			c      model.StepConfig
			params []byte
		)
		if err := row.Scan(&c.ID, &c.StepKey, &c.StepLabel, &c.Enabled, &c.Order, &params, &c.UpdatedAt); err != nil {
			return model.StepConfig{}, err
		}
		c.Params = json.RawMessage(params)
		return c, nil
	})
}

func (s *pipelineConfigStore) ListStepTypes(ctx context.Context) ([]model.StepType, error) {
	rows, err := s.conn.Query(ctx, `SELECT key, label, description FROM pipeline_step_types ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.StepType])
}

const upsertStepTypeSQL = `
INSERT INTO pipeline_step_types (key, label, description)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET label = EXCLUDED.label, description = EXCLUDED.description
RETURNING (xmax = 0)`

func (s *pipelineConfigStore) UpsertStepType(ctx context.Context, st model.StepType) (bool, error) {
	var created bool
	err := s.conn.QueryRow(ctx, upsertStepTypeSQL, st.Key, st.Label, st.Description).Scan(&created)
	return created, err
}

// A step may be configured several times. Seeding touches the oldest row for
// the key and inserts one only when the step has none.
const updateFirstStepConfigSQL = `
UPDATE pipeline_step_configs
SET enabled = $2, step_order = $3, params = $4, updated_at = now()
WHERE id = (
    SELECT id FROM pipeline_step_configs
    WHERE step_key = $1
    ORDER BY id
    LIMIT 1
    FOR UPDATE
)`

const insertStepConfigSQL = `
INSERT INTO pipeline_step_configs (step_key, enabled, step_order, params)
VALUES ($1, $2, $3, $4)`

func (s *pipelineConfigStore) UpsertConfig(ctx context.Context, cfg model.StepConfig) (bool, error) {
	params := []byte(cfg.Params)
	if len(params) == 0 {
		params = []byte("{}")
	}

	tag, err := s.conn.Exec(ctx, updateFirstStepConfigSQL, cfg.StepKey, cfg.Enabled, cfg.Order, params)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}
	if _, err := s.conn.Exec(ctx, insertStepConfigSQL, cfg.StepKey, cfg.Enabled, cfg.Order, params); err != nil {
		return false, err
	}
	return true, nil
}

// Reset removes every configured step and the step catalog.
func (s *pipelineConfigStore) Reset(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, `DELETE FROM pipeline_step_configs`); err != nil {
		return err
	}
	_, err := s.conn.Exec(ctx, `DELETE FROM pipeline_step_types`)
	return err
}
