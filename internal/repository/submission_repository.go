package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// SubmissionRepository exposes the workflow state of in-progress submissions.
type SubmissionRepository interface {
	// GetStepContext returns the entity type, stage, collection, community and
	// copy relation of a submission.
	// Returns domain.ErrNotFound if the submission does not exist.
	GetStepContext(ctx context.Context, submissionID int64) (*domain.StepContext, error)

	// GetClaimedTask returns the claimed task of a submission.
	// Returns domain.ErrNotFound if no reviewer has claimed it.
	GetClaimedTask(ctx context.Context, submissionID int64) (*domain.ClaimedTask, error)

	// CreateClaimedTask records ownerID as the reviewer of a submission.
	// Returns domain.ErrConflict if the submission is already claimed.
	CreateClaimedTask(ctx context.Context, submissionID int64, ownerID uuid.UUID) (*domain.ClaimedTask, error)

	// IsWorkflowReviewer reports whether the eperson belongs to the workflow
	// group of the collection.
	IsWorkflowReviewer(ctx context.Context, collectionID, epersonID uuid.UUID) (bool, error)

	// LockSubmission takes a row lock on the submission and returns its stage.
	// Must be called inside a transaction.
	// Returns domain.ErrNotFound if the submission does not exist.
	LockSubmission(ctx context.Context, submissionID int64) (domain.Stage, error)

	// SetStage moves the submission and its record to stage.
	// Returns domain.ErrNotFound if the submission does not exist.
	SetStage(ctx context.Context, submissionID int64, stage domain.Stage) error
}
