package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decision is a reviewer's verdict on a potential duplicate.
// These values must match the duplicate_decisions decision check constraint.
type Decision string

const (
	// DecisionUnset means no reviewer has decided yet.
	DecisionUnset Decision = ""
	// DecisionReject means the candidate is not a duplicate.
	DecisionReject Decision = "reject"
	// DecisionVerify means the candidate is confirmed as a duplicate.
	DecisionVerify Decision = "verify"
)

// IsValid reports whether d may be recorded. Unset is not recordable.
func (d Decision) IsValid() bool {
	return d == DecisionReject || d == DecisionVerify
}

// ParseDecision converts raw input into a recordable decision.
func ParseDecision(raw string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(raw)))
	if !d.IsValid() {
		return DecisionUnset, ErrInvalidDecision
	}
	return d, nil
}

// Candidate is a similarity engine hit: an archived record and the fields that matched.
type Candidate struct {
	RecordID      uuid.UUID
	MatchedFields []string
}

// DuplicateMatch is one potential duplicate of a submission.
type DuplicateMatch struct {
	CandidateID   uuid.UUID
	MatchedFields []string
	Decision      Decision
	// Note is only kept alongside DecisionVerify.
	Note      string
	DecidedBy uuid.UUID
	DecidedAt time.Time
}

// DuplicateSection is the derived detect-duplicate view of a submission.
type DuplicateSection struct {
	SubmissionID int64
	// Applicable is false when the detect-duplicate step does not handle the
	// submission's entity type at all.
	Applicable bool
	Matches    map[uuid.UUID]*DuplicateMatch
}

// NewDuplicateSection returns a section with an empty, non-nil match map.
func NewDuplicateSection(submissionID int64, applicable bool) *DuplicateSection {
	return &DuplicateSection{
		SubmissionID: submissionID,
		Applicable:   applicable,
		Matches:      make(map[uuid.UUID]*DuplicateMatch),
	}
}

// DecisionRecord is the persisted decision for a (submission, candidate) pair.
type DecisionRecord struct {
	SubmissionID int64
	CandidateID  uuid.UUID
	Decision     Decision
	Note         string
	DecidedBy    uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Apply copies the persisted decision onto a match.
func (r *DecisionRecord) Apply(m *DuplicateMatch) {
	m.Decision = r.Decision
	m.Note = r.Note
	m.DecidedBy = r.DecidedBy
	m.DecidedAt = r.UpdatedAt
}
