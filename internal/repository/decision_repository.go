package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// DecisionRepository persists workflow decisions on potential duplicates.
type DecisionRepository interface {
	// ListForSubmission returns every persisted decision of a submission keyed by candidate.
	// Returns an empty map if none exist.
	ListForSubmission(ctx context.Context, submissionID int64) (map[uuid.UUID]*domain.DecisionRecord, error)

	// Upsert inserts or replaces the decision for (SubmissionID, CandidateID)
	// in a single statement. The last writer wins.
	// Returns domain.ErrNotFound if the submission or candidate does not exist.
	Upsert(ctx context.Context, rec *domain.DecisionRecord) (*domain.DecisionRecord, error)
}
