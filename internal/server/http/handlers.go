package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/submission-dedup-service/internal/auth"
	"github.com/helixir/submission-dedup-service/internal/dedup"
	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	maxPatchOperations = 50

	decisionPathPrefix = "/sections/" + sectionDetectDuplicate + "/matches/"
	decisionPathSuffix = "/workflowDecision"
)

// newValidator returns a validator that reports JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// login handles POST /api/authn/login.
// The issued token is returned in the body and in the Authorization header.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.validateStruct(&req); err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := s.authn.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set(headerAuthorization, bearerPrefix+token.Value)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		EPersonID: token.Principal.ID.String(),
	})
}

// getWorkspaceItem handles GET /api/submission/workspaceitems/{itemID}.
func (s *Server) getWorkspaceItem(w http.ResponseWriter, r *http.Request) {
	s.writeItem(w, r, domain.StageWorkspace)
}

// getWorkflowItem handles GET /api/workflow/workflowitems/{itemID}.
func (s *Server) getWorkflowItem(w http.ResponseWriter, r *http.Request) {
	s.writeItem(w, r, domain.StageWorkflow)
}

func (s *Server) writeItem(w http.ResponseWriter, r *http.Request, stage domain.Stage) {
	id, ok := parseID(w, chi.URLParam(r, "itemID"), "item_id")
	if !ok {
		return
	}

	item, err := s.loadItem(r, id, stage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// loadItem returns the item view of a submission that must be in stage.
func (s *Server) loadItem(r *http.Request, id int64, stage domain.Stage) (*itemResponse, error) {
	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)

	sc, err := s.workflow.StepContext(ctx, id)
	if err != nil {
		return nil, err
	}
	itemType := itemTypeFor(stage)
	if sc.Stage != stage {
		return nil, domain.NewNotFoundError(itemType, strconv.FormatInt(id, 10))
	}
	if err := s.workflow.CanView(ctx, principal, sc); err != nil {
		return nil, err
	}

	section, err := s.registry.ComputeForStep(ctx, sc)
	if err != nil {
		return nil, err
	}
	item := domainItemToResponse(itemType, sc, section)
	return &item, nil
}

// promoteWorkspaceItem handles POST /api/workflow/workflowitems.
// It deposits a workspace item into the workflow and returns the workflow item.
func (s *Server) promoteWorkspaceItem(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.validateStruct(&req); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	sc, err := s.workflow.Promote(ctx, auth.PrincipalFromContext(ctx), req.WorkspaceItemID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	section, err := s.registry.ComputeForStep(ctx, sc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domainItemToResponse(itemTypeWorkflow, sc, section))
}

// claimTask handles POST /api/workflow/claimedtasks.
func (s *Server) claimTask(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.validateStruct(&req); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	task, err := s.workflow.Claim(ctx, auth.PrincipalFromContext(ctx), req.WorkflowItemID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domainTaskToResponse(task))
}

// patchWorkflowItem handles PATCH /api/workflow/workflowitems/{itemID}.
// The body is a JSON-Patch document whose operations record duplicate decisions.
// Every operation is validated, decision values included, before any is
// applied. Operations are then applied in order and the first failure stops
// the request.
func (s *Server) patchWorkflowItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "itemID"), "item_id")
	if !ok {
		return
	}

	var ops []patchOperation
	if err := s.decodeBody(r, &ops); err != nil {
		writeDomainError(w, err)
		return
	}
	if len(ops) == 0 {
		writeDomainError(w, domain.NewValidationError("operations", "at least one operation is required"))
		return
	}
	if len(ops) > maxPatchOperations {
		writeDomainError(w, domain.NewValidationError("operations", fmt.Sprintf("at most %d operations are allowed", maxPatchOperations)))
		return
	}

	inputs := make([]dedup.RecordDecisionInput, 0, len(ops))
	for i := range ops {
		if err := s.validateStruct(&ops[i]); err != nil {
			writeDomainError(w, err)
			return
		}
		candidateID, err := parseDecisionPath(ops[i].Path)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if _, err := domain.ParseDecision(ops[i].Value.Value); err != nil {
			writeDomainError(w, err)
			return
		}
		inputs = append(inputs, dedup.RecordDecisionInput{
			SubmissionID: id,
			CandidateID:  candidateID,
			Decision:     ops[i].Value.Value,
			Note:         ops[i].Value.Note,
		})
	}

	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)
	for _, in := range inputs {
		in.Principal = principal
		if _, err := s.registry.RecordDecision(ctx, in); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	item, err := s.loadItem(r, id, domain.StageWorkflow)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// parseDecisionPath extracts the candidate ID from
// /sections/detect-duplicate/matches/{candidateID}/workflowDecision.
func parseDecisionPath(path string) (uuid.UUID, error) {
	if !strings.HasPrefix(path, decisionPathPrefix) || !strings.HasSuffix(path, decisionPathSuffix) {
		return uuid.Nil, domain.NewValidationError("path", "unsupported patch path")
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(path, decisionPathPrefix), decisionPathSuffix)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError("path", "candidate id must be a valid UUID")
	}
	return id, nil
}

func itemTypeFor(stage domain.Stage) string {
	if stage == domain.StageWorkspace {
		return itemTypeWorkspace
	}
	return itemTypeWorkflow
}

// decodeBody reads a size-limited JSON request body into dst.
func (s *Server) decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		return domain.NewValidationError("body", "failed to read request body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.NewValidationError("body", "invalid JSON request body")
	}
	return nil
}

// validateStruct runs struct tag validation and reports the first failing field.
func (s *Server) validateStruct(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.NewValidationError(fe.Field(), fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return domain.NewValidationError("body", "invalid request")
}

// fail logs unexpected errors and writes the mapped error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusForError(err) >= http.StatusInternalServerError {
		logger := observability.ContextLogger(r.Context(), s.logger)
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeDomainError(w, err)
}

// writeDomainError maps domain errors to HTTP status codes and writes an error response.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status := statusForError(err)
	switch status {
	case http.StatusBadRequest:
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, status, ve.Error())
		} else {
			writeError(w, status, "invalid input")
		}
	case http.StatusUnprocessableEntity:
		writeError(w, status, "workflow decision must be reject or verify")
	case http.StatusNotFound:
		writeError(w, status, "resource not found")
	case http.StatusConflict:
		writeError(w, status, "conflict with current workflow state")
	case http.StatusUnauthorized:
		writeError(w, status, "unauthorized")
	case http.StatusForbidden:
		writeError(w, status, "forbidden")
	case http.StatusServiceUnavailable:
		writeError(w, status, "service unavailable")
	default:
		writeError(w, status, "internal server error")
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDecision):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseID parses a positive item ID, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseID(w http.ResponseWriter, s, fieldName string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", fieldName))
		return 0, false
	}
	return id, true
}
