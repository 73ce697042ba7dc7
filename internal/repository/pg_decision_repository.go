package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// Compile-time interface verification.
var _ DecisionRepository = (*PgDecisionRepository)(nil)

// PgDecisionRepository is a PostgreSQL implementation of DecisionRepository.
type PgDecisionRepository struct {
	db DBTX
}

// NewPgDecisionRepository creates a new PostgreSQL decision repository.
func NewPgDecisionRepository(db DBTX) *PgDecisionRepository {
	return &PgDecisionRepository{db: db}
}

// ListForSubmission returns every persisted decision of a submission keyed by candidate.
func (r *PgDecisionRepository) ListForSubmission(ctx context.Context, submissionID int64) (map[uuid.UUID]*domain.DecisionRecord, error) {
	query := `
		SELECT submission_id, candidate_id, decision, note, decided_by, created_at, updated_at
		FROM duplicate_decisions
		WHERE submission_id = $1`

	rows, err := r.db.Query(ctx, query, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*domain.DecisionRecord)
	for rows.Next() {
		var (
			rec      domain.DecisionRecord
			decision string
			note     *string
		)
		if err := rows.Scan(&rec.SubmissionID, &rec.CandidateID, &decision, &note,
			&rec.DecidedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		rec.Decision = domain.Decision(decision)
		if note != nil {
			rec.Note = *note
		}
		out[rec.CandidateID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return out, nil
}

// Upsert inserts or replaces the decision for (SubmissionID, CandidateID).
func (r *PgDecisionRepository) Upsert(ctx context.Context, rec *domain.DecisionRecord) (*domain.DecisionRecord, error) {
	if rec == nil {
		return nil, domain.NewValidationError("decision", "decision cannot be nil")
	}
	if !rec.Decision.IsValid() {
		return nil, domain.ErrInvalidDecision
	}

	var note *string
	if rec.Note != "" {
		note = &rec.Note
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO duplicate_decisions (
			submission_id, candidate_id, decision, note, decided_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (submission_id, candidate_id) DO UPDATE SET
			decision = EXCLUDED.decision,
			note = EXCLUDED.note,
			decided_by = EXCLUDED.decided_by,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`

	out := *rec
	err := r.db.QueryRow(ctx, query,
		rec.SubmissionID,
		rec.CandidateID,
		string(rec.Decision),
		note,
		rec.DecidedBy,
		now,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return nil, domain.NewNotFoundError("duplicate pair",
				strconv.FormatInt(rec.SubmissionID, 10)+"/"+rec.CandidateID.String())
		case pgCheckViolation:
			return nil, domain.ErrInvalidDecision
		}
		return nil, fmt.Errorf("failed to upsert decision: %w", err)
	}

	return &out, nil
}
