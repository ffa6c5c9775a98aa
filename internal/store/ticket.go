package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"storepulse.app/analysis/common/id"
	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/model"
)

// ErrActiveTicketExists is returned by Create when another writer opened a
// ticket for the same review first.
var ErrActiveTicketExists = errors.New("active ticket already exists")

const uniqueViolation = "23505"

type ticketStore struct {
	conn db.DBTX
}

func newTicketStore(conn db.DBTX) TicketStore {
	return &ticketStore{conn: conn}
}

const findActiveTicketSQL = `
SELECT id, review_id, analysis_result_id, status, assignee_id, priority, notes, created_at, updated_at
FROM review_tickets
WHERE review_id = $1 AND status IN ('open', 'in_progress')
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE`

func (s *ticketStore) FindActive(ctx context.Context, reviewID int64) (*model.ReviewTicket, error) {
	var (
		t      model.ReviewTicket
		status string
	)
	err := s.conn.QueryRow(ctx, findActiveTicketSQL, reviewID).Scan(
		&t.ID, &t.ReviewID, &t.AnalysisResultID, &status, &t.AssigneeID, &t.Priority, &t.Notes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = model.TicketStatus(status)
	return &t, nil
}

const createTicketSQL = `
INSERT INTO review_tickets (id, review_id, analysis_result_id, status, assignee_id, priority, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (review_id) WHERE status IN ('open', 'in_progress') DO NOTHING
RETURNING created_at, updated_at`

func (s *ticketStore) Create(ctx context.Context, ticket *model.ReviewTicket) error {
	if ticket.ID == 0 {
		ticket.ID = id.New()
	}
	if ticket.Status == "" {
		ticket.Status = model.TicketStatusOpen
	}

	err := s.conn.QueryRow(ctx, createTicketSQL,
		ticket.ID, ticket.ReviewID, ticket.AnalysisResultID, string(ticket.Status),
		ticket.AssigneeID, ticket.Priority, ticket.Notes,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		// DO NOTHING yields no row; a unique violation can still surface
		// when the partial index is absent or differs.
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == uniqueViolation) {
			return ErrActiveTicketExists
		}
		return err
	}
	return nil
}

func (s *ticketStore) Repoint(ctx context.Context, ticketID, analysisResultID int64) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE review_tickets SET analysis_result_id = $2, updated_at = now() WHERE id = $1`,
		ticketID, analysisResultID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ticketStore) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.conn.Exec(ctx,
		`DELETE FROM review_tickets WHERE status = 'closed' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
