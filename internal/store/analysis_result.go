package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"storepulse.app/analysis/common/id"
	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/model"
)

type analysisResultStore struct {
	conn db.DBTX
}

func newAnalysisResultStore(conn db.DBTX) AnalysisResultStore {
	return &analysisResultStore{conn: conn}
}

// The id of an existing row is kept so tickets stay pointed at it.
const upsertAnalysisResultSQL = `
INSERT INTO analysis_results (
    id, review_id, tone, raw_polarity, raw_subjectivity, issues, complex_review,
    notes, confidence, analysis_source, full_payload, flag_support, analyzed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (review_id) DO UPDATE SET
    tone = EXCLUDED.tone,
    raw_polarity = EXCLUDED.raw_polarity,
    raw_subjectivity = EXCLUDED.raw_subjectivity,
    issues = EXCLUDED.issues,
    complex_review = EXCLUDED.complex_review,
    notes = EXCLUDED.notes,
    confidence = EXCLUDED.confidence,
    analysis_source = EXCLUDED.analysis_source,
    full_payload = EXCLUDED.full_payload,
    flag_support = EXCLUDED.flag_support,
    analyzed_at = now()
RETURNING id, (xmax = 0), analyzed_at`

func (s *analysisResultStore) Upsert(ctx context.Context, result *model.AnalysisResult) (int64, bool, error) {
	issues := result.Issues
	if issues == nil {
		issues = []string{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return 0, false, fmt.Errorf("encoding issues: %w", err)
	}
	payloadJSON, err := json.Marshal(result.FullPayload)
	if err != nil {
		return 0, false, fmt.Errorf("encoding full payload: %w", err)
	}

	var created bool
	err = s.conn.QueryRow(ctx, upsertAnalysisResultSQL,
		id.New(), result.ReviewID, string(result.Tone), result.RawPolarity, result.RawSubjectivity,
		issuesJSON, result.ComplexReview, result.Notes, result.Confidence,
		string(result.AnalysisSource), payloadJSON, result.FlagSupport,
	).Scan(&result.ID, &created, &result.AnalyzedAt)
	if err != nil {
		return 0, false, err
	}
	return result.ID, created, nil
}

const getAnalysisResultSQL = `
SELECT id, review_id, tone, raw_polarity, raw_subjectivity, issues, complex_review,
       notes, confidence, analysis_source, full_payload, flag_support, analyzed_at
FROM analysis_results
WHERE review_id = $1`

func (s *analysisResultStore) GetByReviewID(ctx context.Context, reviewID int64) (*model.AnalysisResult, error) {
	var (
		r               model.AnalysisResult
		tone, source    string
		issues, payload []byte
	)
	err := s.conn.QueryRow(ctx, getAnalysisResultSQL, reviewID).Scan(
		&r.ID, &r.ReviewID, &tone, &r.RawPolarity, &r.RawSubjectivity, &issues, &r.ComplexReview,
		&r.Notes, &r.Confidence, &source, &payload, &r.FlagSupport, &r.AnalyzedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Tone = model.Tone(tone)
	r.AnalysisSource = model.AnalysisSource(source)
	if err := json.Unmarshal(issues, &r.Issues); err != nil {
		return nil, fmt.Errorf("decoding issues: %w", err)
	}
	if err := json.Unmarshal(payload, &r.FullPayload); err != nil {
		return nil, fmt.Errorf("decoding full payload: %w", err)
	}
	return &r, nil
}
