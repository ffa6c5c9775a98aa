package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/model"
)

type promptStore struct {
	conn db.DBTX
}

func newPromptStore(conn db.DBTX) PromptStore {
	return &promptStore{conn: conn}
}

// Several rows can be active for one prompt_id; the newest wins.
const getActivePromptSQL = `
SELECT id, prompt_id, version, text, is_active, created_at
FROM prompt_templates
WHERE prompt_id = $1 AND is_active
ORDER BY created_at DESC, id DESC
LIMIT 1`

func (s *promptStore) GetActive(ctx context.Context, promptID string) (*model.PromptTemplate, error) {
	var p model.PromptTemplate
	err := s.conn.QueryRow(ctx, getActivePromptSQL, promptID).Scan(
		&p.ID, &p.PromptID, &p.Version, &p.Text, &p.IsActive, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

const upsertPromptSQL = `
INSERT INTO prompt_templates (prompt_id, version, text, is_active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (prompt_id, version) DO UPDATE SET text = EXCLUDED.text, is_active = EXCLUDED.is_active
RETURNING (xmax = 0)`

func (s *promptStore) Upsert(ctx context.Context, p model.PromptTemplate) (bool, error) {
	var created bool
	err := s.conn.QueryRow(ctx, upsertPromptSQL, p.PromptID, p.Version, p.Text, p.IsActive).Scan(&created)
	return created, err
}

func (s *promptStore) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM prompt_templates`)
	return err
}
