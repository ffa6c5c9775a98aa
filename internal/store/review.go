package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/model"
)

type reviewStore struct {
	conn db.DBTX
}

func newReviewStore(conn db.DBTX) ReviewStore {
	return &reviewStore{conn: conn}
}

const getReviewSQL = `
SELECT r.id, r.app_id, a.name, a.platform, r.external_review_id, r.rating,
       r.title, r.content, r.author, r.version, r.platform_updated_at, r.created_at
FROM reviews r
JOIN apps a ON a.id = r.app_id
WHERE r.id = $1`

func (s *reviewStore) GetByID(ctx context.Context, id int64) (*model.Review, error) {
	var (
		r        model.Review
		platform string
	)
	err := s.conn.QueryRow(ctx, getReviewSQL, id).Scan(
		&r.ID, &r.AppID, &r.AppName, &platform, &r.ExternalReviewID, &r.Rating,
		&r.Title, &r.Content, &r.Author, &r.Version, &r.PlatformUpdatedAt, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Platform = model.Platform(platform)
	return &r, nil
}

const listUnanalyzedSQL = `
SELECT r.id
FROM reviews r
LEFT JOIN analysis_results ar ON ar.review_id = r.id
WHERE r.app_id = $1 AND ar.id IS NULL
ORDER BY r.created_at, r.id
LIMIT $2`

// ListUnanalyzedByApp returns ids of the app's reviews without a result.
// A non-positive limit returns all of them.
func (s *reviewStore) ListUnanalyzedByApp(ctx context.Context, appID int64, limit int) ([]int64, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := s.conn.Query(ctx, listUnanalyzedSQL, appID, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *reviewStore) AppExists(ctx context.Context, appID int64) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM apps WHERE id = $1)`, appID).Scan(&exists)
	return exists, err
}
