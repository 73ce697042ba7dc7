package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

var stepContextColumns = []string{
	"id", "record_id", "submitter_id", "entity_type", "stage",
	"collection_id", "community_id", "relation_type", "related_id",
}

func TestPgSubmissionRepository_GetStepContext(t *testing.T) {
	ctx := context.Background()

	t.Run("returns context of a plain submission", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		recordID, submitter, coll, comm := uuid.New(), uuid.New(), uuid.New(), uuid.New()

		mock.ExpectQuery("SELECT .* FROM submissions s .* WHERE s.id = \\$1").
			WithArgs(int64(42)).
			WillReturnRows(pgxmock.NewRows(stepContextColumns).
				AddRow(int64(42), recordID, submitter, "Publication", "workflow", coll, comm, nil, nil))

		sc, err := repo.GetStepContext(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(42), sc.SubmissionID)
		assert.Equal(t, recordID, sc.RecordID)
		assert.Equal(t, domain.EntityType("Publication"), sc.EntityType)
		assert.Equal(t, domain.StageWorkflow, sc.Stage)
		assert.Equal(t, comm, sc.CommunityID)
		assert.False(t, sc.CopyKind.IsCopy())
		assert.Equal(t, uuid.Nil, sc.CopyOf)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns copy relation", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		original := uuid.New()
		relation := string(domain.CopyKindCorrection)

		mock.ExpectQuery("SELECT .* FROM submissions s").
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows(stepContextColumns).
				AddRow(int64(7), uuid.New(), uuid.New(), "Publication", "workflow", uuid.New(), uuid.New(), &relation, &original))

		sc, err := repo.GetStepContext(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, domain.CopyKindCorrection, sc.CopyKind)
		assert.Equal(t, original, sc.CopyOf)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found error when not exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		mock.ExpectQuery("SELECT .* FROM submissions s").
			WithArgs(int64(9)).
			WillReturnError(pgx.ErrNoRows)

		sc, err := repo.GetStepContext(ctx, 9)
		assert.Nil(t, sc)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgSubmissionRepository_ClaimedTasks(t *testing.T) {
	ctx := context.Background()
	columns := []string{"id", "submission_id", "owner_id", "claimed_at"}

	t.Run("get returns claimed task", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		owner := uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery("SELECT id, submission_id, owner_id, claimed_at FROM claimed_tasks WHERE submission_id = \\$1").
			WithArgs(int64(3)).
			WillReturnRows(pgxmock.NewRows(columns).AddRow(int64(1), int64(3), owner, now))

		task, err := repo.GetClaimedTask(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, owner, task.OwnerID)
		assert.Equal(t, int64(3), task.SubmissionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get returns not found when unclaimed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		mock.ExpectQuery("SELECT .* FROM claimed_tasks").
			WithArgs(int64(3)).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.GetClaimedTask(ctx, 3)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create inserts claimed task", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		owner := uuid.New()

		mock.ExpectQuery("INSERT INTO claimed_tasks").
			WithArgs(int64(3), owner).
			WillReturnRows(pgxmock.NewRows(columns).AddRow(int64(5), int64(3), owner, time.Now()))

		task, err := repo.CreateClaimedTask(ctx, 3, owner)
		require.NoError(t, err)
		assert.Equal(t, int64(5), task.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create maps unique violation to conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		owner := uuid.New()

		mock.ExpectQuery("INSERT INTO claimed_tasks").
			WithArgs(int64(3), owner).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		_, err = repo.CreateClaimedTask(ctx, 3, owner)
		assert.True(t, errors.Is(err, domain.ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create maps foreign key violation to not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		owner := uuid.New()

		mock.ExpectQuery("INSERT INTO claimed_tasks").
			WithArgs(int64(99), owner).
			WillReturnError(&pgconn.PgError{Code: "23503"})

		_, err = repo.CreateClaimedTask(ctx, 99, owner)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgSubmissionRepository_IsWorkflowReviewer(t *testing.T) {
	ctx := context.Background()

	for _, member := range []bool{true, false} {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		repo := NewPgSubmissionRepository(mock)
		coll, person := uuid.New(), uuid.New()

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM workflow_group_members").
			WithArgs(coll, person).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(member))

		got, err := repo.IsWorkflowReviewer(ctx, coll, person)
		require.NoError(t, err)
		assert.Equal(t, member, got)
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	}
}

func TestPgSubmissionRepository_Stage(t *testing.T) {
	ctx := context.Background()

	t.Run("lock returns current stage", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		mock.ExpectQuery("SELECT stage FROM submissions WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(4)).
			WillReturnRows(pgxmock.NewRows([]string{"stage"}).AddRow("workspace"))

		stage, err := repo.LockSubmission(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, domain.StageWorkspace, stage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock returns not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		mock.ExpectQuery("SELECT stage FROM submissions").
			WithArgs(int64(4)).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.LockSubmission(ctx, 4)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set stage updates submission and record", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		mock.ExpectExec("WITH s AS \\( UPDATE submissions SET stage = \\$2").
			WithArgs(int64(4), "workflow").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.SetStage(ctx, 4, domain.StageWorkflow))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set stage returns not found when no rows updated", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSubmissionRepository(mock)
		mock.ExpectExec("WITH s AS").
			WithArgs(int64(4), "workflow").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.SetStage(ctx, 4, domain.StageWorkflow)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set stage rejects archived", func(t *testing.T) {
		repo := NewPgSubmissionRepository(nil)
		err := repo.SetStage(ctx, 4, domain.StageArchived)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}
