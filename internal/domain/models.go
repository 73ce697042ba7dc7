// Package domain provides domain models for the Submission Dedup Service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityType is the configured type of a repository record (e.g. "Publication").
type EntityType string

// Stage represents where a record sits in the submission lifecycle.
// These values must match the records_stage check constraint.
type Stage string

const (
	StageWorkspace Stage = "workspace"
	StageWorkflow  Stage = "workflow"
	StageArchived  Stage = "archived"
)

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageWorkspace, StageWorkflow, StageArchived:
		return true
	default:
		return false
	}
}

// IsInProgress returns true for stages that still belong to a submission.
func (s Stage) IsInProgress() bool {
	return s == StageWorkspace || s == StageWorkflow
}

// CopyKind identifies a submission that edits an existing archived item.
// These values must match the record_relations relation_type values.
type CopyKind string

const (
	CopyKindNone          CopyKind = ""
	CopyKindCorrection    CopyKind = "isCorrectionOfItem"
	CopyKindWithdrawal    CopyKind = "isWithdrawOfItem"
	CopyKindReinstatement CopyKind = "isReinstatementOfItem"
)

// IsCopy reports whether the relation marks the record as a copy of another item.
func (k CopyKind) IsCopy() bool {
	switch k {
	case CopyKindCorrection, CopyKindWithdrawal, CopyKindReinstatement:
		return true
	default:
		return false
	}
}

// MetadataValue is one value of a qualified metadata field.
type MetadataValue struct {
	Field string
	Place int
	Value string
}

// Record is a repository item together with its current metadata.
type Record struct {
	ID           uuid.UUID
	EntityType   EntityType
	CollectionID uuid.UUID
	CommunityID  uuid.UUID
	Stage        Stage
	Withdrawn    bool
	Metadata     []MetadataValue
	UpdatedAt    time.Time
}

// Values returns the values of field ordered by place.
func (r *Record) Values(field string) []string {
	var out []string
	for _, mv := range r.Metadata {
		if mv.Field == field {
			out = append(out, mv.Value)
		}
	}
	return out
}

// StepContext is the workflow view of a submission.
type StepContext struct {
	SubmissionID int64
	RecordID     uuid.UUID
	SubmitterID  uuid.UUID
	EntityType   EntityType
	Stage        Stage
	CollectionID uuid.UUID
	CommunityID  uuid.UUID
	// CopyKind is set when the submission corrects, withdraws or reinstates CopyOf.
	CopyKind CopyKind
	CopyOf   uuid.UUID
}

// ClaimedTask is a workflow task owned by a reviewer.
type ClaimedTask struct {
	ID           int64
	SubmissionID int64
	OwnerID      uuid.UUID
	ClaimedAt    time.Time
}

// EPerson is an authenticated repository user.
type EPerson struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsAdmin      bool
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID      uuid.UUID
	Email   string
	IsAdmin bool
}
