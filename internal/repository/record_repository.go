package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// RecordRepository reads repository records and their metadata.
type RecordRepository interface {
	// GetRecord retrieves a record with all of its metadata and its community.
	// Returns domain.ErrNotFound if no matching record exists.
	GetRecord(ctx context.Context, id uuid.UUID) (*domain.Record, error)

	// ListArchived returns archived, non-withdrawn records matching the filter.
	// Only the metadata fields named in the filter are loaded, and records
	// carrying none of them are omitted.
	ListArchived(ctx context.Context, filter ArchivedFilter) ([]*domain.Record, error)
}

// ArchivedFilter narrows the archived records considered as duplicate candidates.
type ArchivedFilter struct {
	// EntityTypes restricts candidates to these entity types. Required.
	EntityTypes []domain.EntityType
	// Fields are the metadata fields to load. Required.
	Fields []string
	// CommunityID restricts candidates to one community when not uuid.Nil.
	CommunityID uuid.UUID
	// ExcludeIDs are never returned.
	ExcludeIDs []uuid.UUID
}
