// Package repository provides data access interfaces and implementations
// for the Submission Dedup Service.
//
// # Overview
//
// The package defines repository interfaces and their PostgreSQL implementations:
//
//   - RecordRepository: archived records and submission records with metadata
//   - SubmissionRepository: workflow step context, claimed tasks and stage changes
//   - DecisionRepository: persisted duplicate decisions keyed by (submission, candidate)
//   - AuthRepository: epersons and hashed API tokens
//
// # Error Handling
//
// Methods return errors from the domain package where a caller can act on
// them (domain.ErrNotFound, domain.ErrInvalidInput, domain.ErrConflict).
// Other database errors are wrapped with context using fmt.Errorf with %w.
//
// # Transactions
//
// Every implementation accepts a DBTX, so the same repository type works on a
// pool or inside database.DB.WithTransaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    repo := repository.NewPgSubmissionRepository(tx)
//	    if _, err := repo.LockSubmission(ctx, id); err != nil {
//	        return err
//	    }
//	    return repo.SetStage(ctx, id, domain.StageWorkflow)
//	})
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/submission-dedup-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// PostgreSQL error codes inspected by the repositories.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// pgErrorCode returns the SQLSTATE of err, or "" if err is not a PostgreSQL error.
func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
