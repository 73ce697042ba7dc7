package httpserver

import (
	"time"

	"github.com/helixir/submission-dedup-service/internal/domain"
)

// sectionDetectDuplicate is the key of the duplicate section in item views.
const sectionDetectDuplicate = "detect-duplicate"

// Item types as exposed by the REST API.
const (
	itemTypeWorkspace = "workspaceitem"
	itemTypeWorkflow  = "workflowitem"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	EPersonID string    `json:"eperson_id"`
}

type promoteRequest struct {
	WorkspaceItemID int64 `json:"workspaceitem_id" validate:"required,gt=0"`
}

type claimRequest struct {
	WorkflowItemID int64 `json:"workflowitem_id" validate:"required,gt=0"`
}

// patchOperation is one JSON-Patch operation.
type patchOperation struct {
	Op    string         `json:"op" validate:"required,eq=add"`
	Path  string         `json:"path" validate:"required"`
	Value *decisionValue `json:"value" validate:"required"`
}

// decisionValue is the value of a workflowDecision patch.
type decisionValue struct {
	Value string `json:"value"`
	Note  string `json:"note,omitempty" validate:"max=4000"`
}

type claimedTaskResponse struct {
	ID             int64     `json:"id"`
	WorkflowItemID int64     `json:"workflowitem_id"`
	OwnerID        string    `json:"owner_id"`
	ClaimedAt      time.Time `json:"claimed_at"`
}

type itemResponse struct {
	ID         int64                      `json:"id"`
	Type       string                     `json:"type"`
	ItemID     string                     `json:"item_id"`
	EntityType string                     `json:"entity_type"`
	Stage      string                     `json:"stage"`
	Sections   map[string]sectionResponse `json:"sections"`
}

// sectionResponse renders as {} when there are no matches.
type sectionResponse struct {
	Matches map[string]matchResponse `json:"matches,omitempty"`
}

type matchResponse struct {
	MatchObject      matchObjectResponse `json:"matchObject"`
	MatchedFields    []string            `json:"matchedFields"`
	WorkflowDecision string              `json:"workflowDecision,omitempty"`
	WorkflowNote     string              `json:"workflowNote,omitempty"`
}

type matchObjectResponse struct {
	ID   string `json:"id"`
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

// Converter functions

func domainItemToResponse(itemType string, sc *domain.StepContext, section *domain.DuplicateSection) itemResponse {
	resp := itemResponse{
		ID:         sc.SubmissionID,
		Type:       itemType,
		ItemID:     sc.RecordID.String(),
		EntityType: string(sc.EntityType),
		Stage:      string(sc.Stage),
		Sections:   make(map[string]sectionResponse),
	}
	if section != nil && section.Applicable {
		resp.Sections[sectionDetectDuplicate] = domainSectionToResponse(section)
	}
	return resp
}

func domainSectionToResponse(section *domain.DuplicateSection) sectionResponse {
	if len(section.Matches) == 0 {
		return sectionResponse{}
	}
	matches := make(map[string]matchResponse, len(section.Matches))
	for id, m := range section.Matches {
		matches[id.String()] = domainMatchToResponse(m)
	}
	return sectionResponse{Matches: matches}
}

func domainMatchToResponse(m *domain.DuplicateMatch) matchResponse {
	fields := m.MatchedFields
	if fields == nil {
		fields = []string{}
	}
	resp := matchResponse{
		MatchObject: matchObjectResponse{
			ID:   m.CandidateID.String(),
			UUID: m.CandidateID.String(),
			Type: "item",
		},
		MatchedFields:    fields,
		WorkflowDecision: string(m.Decision),
	}
	if m.Decision == domain.DecisionVerify {
		resp.WorkflowNote = m.Note
	}
	return resp
}

func domainTaskToResponse(t *domain.ClaimedTask) claimedTaskResponse {
	return claimedTaskResponse{
		ID:             t.ID,
		WorkflowItemID: t.SubmissionID,
		OwnerID:        t.OwnerID.String(),
		ClaimedAt:      t.ClaimedAt,
	}
}
