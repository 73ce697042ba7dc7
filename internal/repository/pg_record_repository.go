package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// Compile-time interface verification.
var _ RecordRepository = (*PgRecordRepository)(nil)

// PgRecordRepository is a PostgreSQL implementation of RecordRepository.
type PgRecordRepository struct {
	db DBTX
}

// NewPgRecordRepository creates a new PostgreSQL record repository.
func NewPgRecordRepository(db DBTX) *PgRecordRepository {
	return &PgRecordRepository{db: db}
}

// GetRecord retrieves a record with all of its metadata.
func (r *PgRecordRepository) GetRecord(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	query := `
		SELECT r.id, r.entity_type, r.collection_id, c.community_id, r.stage, r.withdrawn, r.updated_at
		FROM records r
		JOIN collections c ON c.id = r.collection_id
		WHERE r.id = $1`

	var rec domain.Record
	var entityType, stage string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&entityType,
		&rec.CollectionID,
		&rec.CommunityID,
		&stage,
		&rec.Withdrawn,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("record", id.String())
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	rec.EntityType = domain.EntityType(entityType)
	rec.Stage = domain.Stage(stage)

	rows, err := r.db.Query(ctx, `
		SELECT field, place, value
		FROM record_metadata
		WHERE record_id = $1
		ORDER BY field, place`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get record metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mv domain.MetadataValue
		if err := rows.Scan(&mv.Field, &mv.Place, &mv.Value); err != nil {
			return nil, fmt.Errorf("failed to scan record metadata: %w", err)
		}
		rec.Metadata = append(rec.Metadata, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record metadata: %w", err)
	}

	return &rec, nil
}

// ListArchived returns archived, non-withdrawn records matching the filter.
func (r *PgRecordRepository) ListArchived(ctx context.Context, filter ArchivedFilter) ([]*domain.Record, error) {
	if len(filter.EntityTypes) == 0 {
		return nil, domain.NewValidationError("entity_types", "at least one entity type is required")
	}
	if len(filter.Fields) == 0 {
		return nil, domain.NewValidationError("fields", "at least one metadata field is required")
	}

	entityTypes := make([]string, len(filter.EntityTypes))
	for i, et := range filter.EntityTypes {
		entityTypes[i] = string(et)
	}
	var community *uuid.UUID
	if filter.CommunityID != uuid.Nil {
		community = &filter.CommunityID
	}
	exclude := filter.ExcludeIDs
	if exclude == nil {
		exclude = []uuid.UUID{}
	}

	query := `
		SELECT r.id, r.entity_type, r.collection_id, c.community_id, r.updated_at,
			m.field, m.place, m.value
		FROM records r
		JOIN collections c ON c.id = r.collection_id
		JOIN record_metadata m ON m.record_id = r.id
		WHERE r.stage = 'archived'
			AND NOT r.withdrawn
			AND r.entity_type = ANY($1)
			AND m.field = ANY($2)
			AND ($3::uuid IS NULL OR c.community_id = $3)
			AND NOT (r.id = ANY($4))
		ORDER BY r.id, m.field, m.place`

	rows, err := r.db.Query(ctx, query, entityTypes, filter.Fields, community, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived records: %w", err)
	}
	defer rows.Close()

	var (
		records []*domain.Record
		current *domain.Record
	)
	for rows.Next() {
		var (
			id, collectionID, communityID uuid.UUID
			entityType                    string
			rec                           domain.Record
			mv                            domain.MetadataValue
		)
		if err := rows.Scan(&id, &entityType, &collectionID, &communityID, &rec.UpdatedAt,
			&mv.Field, &mv.Place, &mv.Value); err != nil {
			return nil, fmt.Errorf("failed to scan archived record: %w", err)
		}
		if current == nil || current.ID != id {
			rec.ID = id
			rec.EntityType = domain.EntityType(entityType)
			rec.CollectionID = collectionID
			rec.CommunityID = communityID
			rec.Stage = domain.StageArchived
			current = &rec
			records = append(records, current)
		}
		current.Metadata = append(current.Metadata, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived records: %w", err)
	}

	return records, nil
}
