package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	EventTypeDecisionRecorded = "submission.duplicate_decision_recorded"
)

// Event is an envelope for a domain event published to the message bus.
type Event struct {
	EventID       string
	EventVersion  int
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecisionRecordedPayload is the payload for submission.duplicate_decision_recorded events.
type DecisionRecordedPayload struct {
	SubmissionID  int64     `json:"submission_id"`
	CandidateID   uuid.UUID `json:"candidate_id"`
	Decision      Decision  `json:"decision"`
	Note          string    `json:"note,omitempty"`
	DecidedBy     uuid.UUID `json:"decided_by"`
	MatchedFields []string  `json:"matched_fields"`
	DecidedAt     time.Time `json:"decided_at"`
}
