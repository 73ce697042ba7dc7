package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// Compile-time interface verification.
var _ SubmissionRepository = (*PgSubmissionRepository)(nil)

// PgSubmissionRepository is a PostgreSQL implementation of SubmissionRepository.
type PgSubmissionRepository struct {
	db DBTX
}

// NewPgSubmissionRepository creates a new PostgreSQL submission repository.
func NewPgSubmissionRepository(db DBTX) *PgSubmissionRepository {
	return &PgSubmissionRepository{db: db}
}

// GetStepContext returns the workflow view of a submission.
func (r *PgSubmissionRepository) GetStepContext(ctx context.Context, submissionID int64) (*domain.StepContext, error) {
	query := `
		SELECT s.id, s.record_id, s.submitter_id, r.entity_type, s.stage,
			r.collection_id, c.community_id, rel.relation_type, rel.related_id
		FROM submissions s
		JOIN records r ON r.id = s.record_id
		JOIN collections c ON c.id = r.collection_id
		LEFT JOIN LATERAL (
			SELECT relation_type, related_id
			FROM record_relations
			WHERE record_id = s.record_id
				AND relation_type IN ('isCorrectionOfItem', 'isWithdrawOfItem', 'isReinstatementOfItem')
			ORDER BY relation_type
			LIMIT 1
		) rel ON true
		WHERE s.id = $1`

	var (
		sc           domain.StepContext
		entityType   string
		stage        string
		relationType *string
		relatedID    *uuid.UUID
	)
	err := r.db.QueryRow(ctx, query, submissionID).Scan(
		&sc.SubmissionID,
		&sc.RecordID,
		&sc.SubmitterID,
		&entityType,
		&stage,
		&sc.CollectionID,
		&sc.CommunityID,
		&relationType,
		&relatedID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("submission", strconv.FormatInt(submissionID, 10))
		}
		return nil, fmt.Errorf("failed to get step context: %w", err)
	}

	sc.EntityType = domain.EntityType(entityType)
	sc.Stage = domain.Stage(stage)
	if relationType != nil {
		sc.CopyKind = domain.CopyKind(*relationType)
	}
	if relatedID != nil {
		sc.CopyOf = *relatedID
	}

	return &sc, nil
}

// GetClaimedTask returns the claimed task of a submission.
func (r *PgSubmissionRepository) GetClaimedTask(ctx context.Context, submissionID int64) (*domain.ClaimedTask, error) {
	query := `
		SELECT id, submission_id, owner_id, claimed_at
		FROM claimed_tasks
		WHERE submission_id = $1`

	var task domain.ClaimedTask
	err := r.db.QueryRow(ctx, query, submissionID).Scan(&task.ID, &task.SubmissionID, &task.OwnerID, &task.ClaimedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("claimed task", strconv.FormatInt(submissionID, 10))
		}
		return nil, fmt.Errorf("failed to get claimed task: %w", err)
	}
	return &task, nil
}

// CreateClaimedTask records ownerID as the reviewer of a submission.
func (r *PgSubmissionRepository) CreateClaimedTask(ctx context.Context, submissionID int64, ownerID uuid.UUID) (*domain.ClaimedTask, error) {
	query := `
		INSERT INTO claimed_tasks (submission_id, owner_id)
		VALUES ($1, $2)
		RETURNING id, submission_id, owner_id, claimed_at`

	var task domain.ClaimedTask
	err := r.db.QueryRow(ctx, query, submissionID, ownerID).Scan(&task.ID, &task.SubmissionID, &task.OwnerID, &task.ClaimedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return nil, fmt.Errorf("submission %d already claimed: %w", submissionID, domain.ErrConflict)
		case pgForeignKeyViolation:
			return nil, domain.NewNotFoundError("submission", strconv.FormatInt(submissionID, 10))
		}
		return nil, fmt.Errorf("failed to create claimed task: %w", err)
	}
	return &task, nil
}

// IsWorkflowReviewer reports whether the eperson belongs to the collection's workflow group.
func (r *PgSubmissionRepository) IsWorkflowReviewer(ctx context.Context, collectionID, epersonID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM workflow_group_members
			WHERE collection_id = $1 AND eperson_id = $2
		)`

	var member bool
	if err := r.db.QueryRow(ctx, query, collectionID, epersonID).Scan(&member); err != nil {
		return false, fmt.Errorf("failed to check workflow group membership: %w", err)
	}
	return member, nil
}

// LockSubmission takes a row lock on the submission and returns its stage.
func (r *PgSubmissionRepository) LockSubmission(ctx context.Context, submissionID int64) (domain.Stage, error) {
	var stage string
	err := r.db.QueryRow(ctx, `SELECT stage FROM submissions WHERE id = $1 FOR UPDATE`, submissionID).Scan(&stage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NewNotFoundError("submission", strconv.FormatInt(submissionID, 10))
		}
		return "", fmt.Errorf("failed to lock submission: %w", err)
	}
	return domain.Stage(stage), nil
}

// SetStage moves the submission and its record to stage.
func (r *PgSubmissionRepository) SetStage(ctx context.Context, submissionID int64, stage domain.Stage) error {
	if !stage.IsInProgress() {
		return domain.NewValidationError("stage", fmt.Sprintf("%q is not a submission stage", stage))
	}

	query := `
		WITH s AS (
			UPDATE submissions SET stage = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING record_id
		)
		UPDATE records SET stage = $2, updated_at = NOW()
		FROM s
		WHERE records.id = s.record_id`

	result, err := r.db.Exec(ctx, query, submissionID, string(stage))
	if err != nil {
		return fmt.Errorf("failed to set submission stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("submission", strconv.FormatInt(submissionID, 10))
	}
	return nil
}
