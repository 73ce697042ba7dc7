// Package workflow moves submissions through the review workflow and decides
// who may view them and record duplicate decisions.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/submission-dedup-service/internal/database"
	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
	"github.com/helixir/submission-dedup-service/internal/repository"
)

const claimLockNamespace = "claim"

// Service implements workflow transitions and access checks.
type Service struct {
	tx          database.TxRunner
	submissions repository.SubmissionRepository
	logger      zerolog.Logger
}

// NewService creates a workflow Service. Transactions run through tx;
// reads outside transactions use submissions.
func NewService(tx database.TxRunner, submissions repository.SubmissionRepository, logger zerolog.Logger) *Service {
	return &Service{
		tx:          tx,
		submissions: submissions,
		logger:      observability.WithComponent(logger, "workflow"),
	}
}

// StepContext returns the workflow view of a submission.
func (s *Service) StepContext(ctx context.Context, submissionID int64) (*domain.StepContext, error) {
	return s.submissions.GetStepContext(ctx, submissionID)
}

// Promote deposits a workspace submission into the workflow.
// Only the submitter or an administrator may promote.
// Returns domain.ErrConflict if the submission is not in the workspace.
func (s *Service) Promote(ctx context.Context, principal *domain.Principal, submissionID int64) (*domain.StepContext, error) {
	if principal == nil {
		return nil, domain.ErrUnauthorized
	}

	err := s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		repo := repository.NewPgSubmissionRepository(tx)

		stage, err := repo.LockSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		sc, err := repo.GetStepContext(ctx, submissionID)
		if err != nil {
			return err
		}
		if !principal.IsAdmin && sc.SubmitterID != principal.ID {
			return domain.NewForbiddenError("promote submission", "only the submitter may deposit")
		}
		if stage != domain.StageWorkspace {
			return fmt.Errorf("submission %d is in stage %s: %w", submissionID, stage, domain.ErrConflict)
		}
		return repo.SetStage(ctx, submissionID, domain.StageWorkflow)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("submission_id", submissionID).
		Str("principal", principal.ID.String()).
		Msg("submission deposited into workflow")

	return s.submissions.GetStepContext(ctx, submissionID)
}

// Claim assigns the workflow task of a submission to principal.
// Claims are serialized per submission with an advisory lock. Claiming a task
// already owned by principal returns the existing task.
// Returns domain.ErrForbidden if principal is not a reviewer of the collection
// and domain.ErrConflict if another reviewer owns the task.
func (s *Service) Claim(ctx context.Context, principal *domain.Principal, submissionID int64) (*domain.ClaimedTask, error) {
	if principal == nil {
		return nil, domain.ErrUnauthorized
	}

	var task *domain.ClaimedTask
	err := s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.AcquireAdvisoryLockTx(ctx, tx, database.AdvisoryLockKey(claimLockNamespace, submissionID)); err != nil {
			return err
		}
		repo := repository.NewPgSubmissionRepository(tx)

		sc, err := repo.GetStepContext(ctx, submissionID)
		if err != nil {
			return err
		}
		if sc.Stage != domain.StageWorkflow {
			return fmt.Errorf("submission %d is not in the workflow: %w", submissionID, domain.ErrConflict)
		}

		if !principal.IsAdmin {
			member, err := repo.IsWorkflowReviewer(ctx, sc.CollectionID, principal.ID)
			if err != nil {
				return err
			}
			if !member {
				return domain.NewForbiddenError("claim task", "not a reviewer of the collection")
			}
		}

		existing, err := repo.GetClaimedTask(ctx, submissionID)
		switch {
		case err == nil:
			if existing.OwnerID != principal.ID {
				return fmt.Errorf("submission %d is claimed by another reviewer: %w", submissionID, domain.ErrConflict)
			}
			task = existing
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		task, err = repo.CreateClaimedTask(ctx, submissionID, principal.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("submission_id", submissionID).
		Str("owner", task.OwnerID.String()).
		Msg("workflow task claimed")

	return task, nil
}

// CanView allows administrators, the submitter, and, once the submission is
// in the workflow, reviewers of its collection.
func (s *Service) CanView(ctx context.Context, principal *domain.Principal, sc *domain.StepContext) error {
	if principal == nil {
		return domain.ErrUnauthorized
	}
	if principal.IsAdmin || principal.ID == sc.SubmitterID {
		return nil
	}
	if sc.Stage == domain.StageWorkflow {
		member, err := s.submissions.IsWorkflowReviewer(ctx, sc.CollectionID, principal.ID)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
	}
	return domain.NewForbiddenError("view submission", "not the submitter or a reviewer")
}

// CanDecide allows only the owner of the submission's claimed task.
func (s *Service) CanDecide(ctx context.Context, principal *domain.Principal, sc *domain.StepContext) error {
	if principal == nil {
		return domain.ErrUnauthorized
	}
	if sc.Stage != domain.StageWorkflow {
		return domain.NewForbiddenError("record decision", "submission is not in the workflow")
	}

	task, err := s.submissions.GetClaimedTask(ctx, sc.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewForbiddenError("record decision", "task has not been claimed")
		}
		return err
	}
	if task.OwnerID != principal.ID {
		return domain.NewForbiddenError("record decision", "task is claimed by another reviewer")
	}
	return nil
}
