package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/helixir/submission-dedup-service/internal/auth"
	"github.com/helixir/submission-dedup-service/internal/database"
	"github.com/helixir/submission-dedup-service/internal/dedup"
	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
	"github.com/helixir/submission-dedup-service/internal/similarity"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeWorkflow is an in-memory workflow: step contexts, claimed tasks and
// reviewer membership. It serves both the HTTP layer and the registry.
type fakeWorkflow struct {
	mu        sync.Mutex
	steps     map[int64]*domain.StepContext
	owners    map[int64]uuid.UUID
	reviewers map[uuid.UUID]bool
	nextTask  int64
}

func (f *fakeWorkflow) StepContext(_ context.Context, id int64) (*domain.StepContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.steps[id]
	if !ok {
		return nil, domain.NewNotFoundError("submission", fmt.Sprint(id))
	}
	cp := *sc
	return &cp, nil
}

func (f *fakeWorkflow) GetStepContext(ctx context.Context, id int64) (*domain.StepContext, error) {
	return f.StepContext(ctx, id)
}

func (f *fakeWorkflow) Promote(ctx context.Context, p *domain.Principal, id int64) (*domain.StepContext, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	f.mu.Lock()
	sc, ok := f.steps[id]
	if !ok {
		f.mu.Unlock()
		return nil, domain.NewNotFoundError("submission", fmt.Sprint(id))
	}
	if !p.IsAdmin && p.ID != sc.SubmitterID {
		f.mu.Unlock()
		return nil, domain.NewForbiddenError("promote submission", "only the submitter may deposit")
	}
	if sc.Stage != domain.StageWorkspace {
		f.mu.Unlock()
		return nil, domain.ErrConflict
	}
	sc.Stage = domain.StageWorkflow
	f.mu.Unlock()
	return f.StepContext(ctx, id)
}

func (f *fakeWorkflow) Claim(_ context.Context, p *domain.Principal, id int64) (*domain.ClaimedTask, error) {
	if p == nil {
		return nil, domain.ErrUnauthorized
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.steps[id]
	if !ok {
		return nil, domain.NewNotFoundError("submission", fmt.Sprint(id))
	}
	if sc.Stage != domain.StageWorkflow {
		return nil, domain.ErrConflict
	}
	if !p.IsAdmin && !f.reviewers[p.ID] {
		return nil, domain.NewForbiddenError("claim task", "not a reviewer of the collection")
	}
	if owner, ok := f.owners[id]; ok && owner != p.ID {
		return nil, domain.ErrConflict
	}
	f.owners[id] = p.ID
	f.nextTask++
	return &domain.ClaimedTask{ID: f.nextTask, SubmissionID: id, OwnerID: p.ID, ClaimedAt: time.Now()}, nil
}

func (f *fakeWorkflow) CanView(_ context.Context, p *domain.Principal, sc *domain.StepContext) error {
	if p == nil {
		return domain.ErrUnauthorized
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.IsAdmin || p.ID == sc.SubmitterID || (sc.Stage == domain.StageWorkflow && f.reviewers[p.ID]) {
		return nil
	}
	return domain.NewForbiddenError("view submission", "not the submitter or a reviewer")
}

func (f *fakeWorkflow) CanDecide(_ context.Context, p *domain.Principal, sc *domain.StepContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner, ok := f.owners[sc.SubmissionID]; ok && owner == p.ID {
		return nil
	}
	return domain.NewForbiddenError("record decision", "not the task owner")
}

type fakeRecords struct{}

func (fakeRecords) GetRecord(_ context.Context, id uuid.UUID) (*domain.Record, error) {
	return &domain.Record{ID: id, EntityType: "Publication"}, nil
}

// fakeEngine returns fixed candidates per submission record.
type fakeEngine struct {
	mu         sync.Mutex
	candidates map[uuid.UUID][]domain.Candidate
	err        error
}

func (f *fakeEngine) FindSimilar(_ context.Context, rec *domain.Record, _ similarity.CandidatePool) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates[rec.ID], nil
}

func (f *fakeEngine) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeDecisions struct {
	mu     sync.Mutex
	stored map[int64]map[uuid.UUID]*domain.DecisionRecord
}

func (f *fakeDecisions) ListForSubmission(_ context.Context, id int64) (map[uuid.UUID]*domain.DecisionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]*domain.DecisionRecord)
	for k, v := range f.stored[id] {
		cp := *v
		out[k] = &cp
	}
	return out, nil
}

func (f *fakeDecisions) Upsert(_ context.Context, rec *domain.DecisionRecord) (*domain.DecisionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored[rec.SubmissionID] == nil {
		f.stored[rec.SubmissionID] = make(map[uuid.UUID]*domain.DecisionRecord)
	}
	cp := *rec
	cp.UpdatedAt = time.Now()
	f.stored[rec.SubmissionID][rec.CandidateID] = &cp
	out := cp
	return &out, nil
}

// fakeAuthn maps fixed tokens and credentials to principals.
type fakeAuthn struct {
	tokens    map[string]*domain.Principal
	passwords map[string]string
}

func (f *fakeAuthn) Login(_ context.Context, email, password string) (*auth.Token, error) {
	if f.passwords[email] != password || password == "" {
		return nil, domain.ErrUnauthorized
	}
	for token, p := range f.tokens {
		if p.Email == email {
			return &auth.Token{Value: token, ExpiresAt: time.Now().Add(time.Hour), Principal: p}, nil
		}
	}
	return nil, domain.ErrUnauthorized
}

func (f *fakeAuthn) Authenticate(_ context.Context, token string) (*domain.Principal, error) {
	if p, ok := f.tokens[token]; ok {
		return p, nil
	}
	return nil, domain.ErrUnauthorized
}

type fakeHealth struct {
	status database.HealthStatus
}

func (f fakeHealth) Health(context.Context) database.HealthStatus { return f.status }

// ---------------------------------------------------------------------------
// Test fixture
// ---------------------------------------------------------------------------

const (
	subInWorkflow int64 = iota + 1
	subInWorkspace
	subExcluded
	subCorrection
	subNoMatches

	tokenSubmitter = "tok-submitter"
	tokenReviewer  = "tok-reviewer"
	tokenOther     = "tok-other"
	tokenStranger  = "tok-stranger"
)

type fixture struct {
	srv        *Server
	workflow   *fakeWorkflow
	engine     *fakeEngine
	metrics    *observability.Metrics
	submitter  *domain.Principal
	reviewer   *domain.Principal
	candidateA uuid.UUID
	candidateB uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	submitter := &domain.Principal{ID: uuid.New(), Email: "submitter@example.com"}
	reviewer := &domain.Principal{ID: uuid.New(), Email: "reviewer@example.com"}
	other := &domain.Principal{ID: uuid.New(), Email: "other@example.com"}
	stranger := &domain.Principal{ID: uuid.New(), Email: "stranger@example.com"}

	step := func(id int64, entityType domain.EntityType, stage domain.Stage, copyKind domain.CopyKind) *domain.StepContext {
		return &domain.StepContext{
			SubmissionID: id,
			RecordID:     uuid.New(),
			SubmitterID:  submitter.ID,
			EntityType:   entityType,
			Stage:        stage,
			CollectionID: uuid.New(),
			CommunityID:  uuid.New(),
			CopyKind:     copyKind,
		}
	}

	wf := &fakeWorkflow{
		steps: map[int64]*domain.StepContext{
			subInWorkflow:  step(subInWorkflow, "Publication", domain.StageWorkflow, domain.CopyKindNone),
			subInWorkspace: step(subInWorkspace, "Publication", domain.StageWorkspace, domain.CopyKindNone),
			subExcluded:    step(subExcluded, "InstitutionPublication", domain.StageWorkflow, domain.CopyKindNone),
			subCorrection:  step(subCorrection, "Publication", domain.StageWorkflow, domain.CopyKindCorrection),
			subNoMatches:   step(subNoMatches, "Publication", domain.StageWorkflow, domain.CopyKindNone),
		},
		owners:    make(map[int64]uuid.UUID),
		reviewers: map[uuid.UUID]bool{reviewer.ID: true, other.ID: true},
	}

	candidateA, candidateB := uuid.New(), uuid.New()
	allCandidates := []domain.Candidate{
		{RecordID: candidateA, MatchedFields: []string{"dc.title"}},
		{RecordID: candidateB, MatchedFields: []string{"dc.title", "dc.identifier.doi[1]"}},
	}
	engine := &fakeEngine{candidates: make(map[uuid.UUID][]domain.Candidate)}
	for _, id := range []int64{subInWorkflow, subInWorkspace, subExcluded, subCorrection} {
		engine.candidates[wf.steps[id].RecordID] = allCandidates
	}

	policy := dedup.Policy{
		DetectableTypes: []domain.EntityType{"Publication", "InstitutionPublication"},
		ExcludedTypes:   []domain.EntityType{"InstitutionPublication"},
	}
	metrics := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	registry := dedup.NewRegistry(policy, wf, fakeRecords{}, engine,
		&fakeDecisions{stored: make(map[int64]map[uuid.UUID]*domain.DecisionRecord)}, wf,
		dedup.WithMetrics(metrics),
	)

	authn := &fakeAuthn{
		tokens: map[string]*domain.Principal{
			tokenSubmitter: submitter,
			tokenReviewer:  reviewer,
			tokenOther:     other,
			tokenStranger:  stranger,
		},
		passwords: map[string]string{"reviewer@example.com": "s3cret"},
	}

	srv := NewServer(Config{}, registry, wf, authn,
		fakeHealth{status: database.HealthStatus{Status: "healthy"}}, metrics, zerolog.Nop())

	return &fixture{
		srv:        srv,
		workflow:   wf,
		engine:     engine,
		metrics:    metrics,
		submitter:  submitter,
		reviewer:   reviewer,
		candidateA: candidateA,
		candidateB: candidateB,
	}
}

// do sends a request through the router. An empty token sends no Authorization header.
func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (f *fixture) claim(t *testing.T, token string, id int64) {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/workflow/claimedtasks", token, map[string]int64{"workflowitem_id": id})
	if rr.Code != http.StatusCreated {
		t.Fatalf("claim: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func decisionPatch(candidateID uuid.UUID, value, note string) []map[string]interface{} {
	v := map[string]string{"value": value}
	if note != "" {
		v["note"] = note
	}
	return []map[string]interface{}{{
		"op":    "add",
		"path":  "/sections/detect-duplicate/matches/" + candidateID.String() + "/workflowDecision",
		"value": v,
	}}
}

func workflowItemPath(id int64) string {
	return fmt.Sprintf("/api/workflow/workflowitems/%d", id)
}

// rawItem keeps sections undecoded so presence and {} can be asserted.
type rawItem struct {
	ID       int64                      `json:"id"`
	Type     string                     `json:"type"`
	Stage    string                     `json:"stage"`
	Sections map[string]json.RawMessage `json:"sections"`
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func decodeSection(t *testing.T, rr *httptest.ResponseRecorder) (sectionResponse, bool, string) {
	t.Helper()
	var item rawItem
	decodeJSON(t, rr, &item)
	raw, ok := item.Sections[sectionDetectDuplicate]
	if !ok {
		return sectionResponse{}, false, ""
	}
	var section sectionResponse
	if err := json.Unmarshal(raw, &section); err != nil {
		t.Fatalf("decode section: %v", err)
	}
	return section, true, string(raw)
}

// ---------------------------------------------------------------------------
// Tests: section read
// ---------------------------------------------------------------------------

func TestGetWorkflowItem_RendersMatches(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, workflowItemPath(subInWorkflow), tokenReviewer, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	section, present, _ := decodeSection(t, rr)
	if !present {
		t.Fatal("expected detect-duplicate section")
	}
	if len(section.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(section.Matches))
	}
	b := section.Matches[f.candidateB.String()]
	if b.MatchObject.ID != f.candidateB.String() {
		t.Errorf("expected matchObject id %s, got %s", f.candidateB, b.MatchObject.ID)
	}
	if len(b.MatchedFields) != 2 || b.MatchedFields[1] != "dc.identifier.doi[1]" {
		t.Errorf("unexpected matched fields: %v", b.MatchedFields)
	}
	if b.WorkflowDecision != "" || b.WorkflowNote != "" {
		t.Errorf("expected no decision, got %q/%q", b.WorkflowDecision, b.WorkflowNote)
	}
}

func TestGetWorkspaceItem_SectionIsEmpty(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/submission/workspaceitems/%d", subInWorkspace), tokenSubmitter, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	_, present, raw := decodeSection(t, rr)
	if !present {
		t.Fatal("expected detect-duplicate section for a detectable type")
	}
	if raw != "{}" {
		t.Errorf("expected empty section {}, got %s", raw)
	}
}

func TestGetWorkflowItem_ExcludedTypeHasNoSection(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, workflowItemPath(subExcluded), tokenSubmitter, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, present, _ := decodeSection(t, rr); present {
		t.Error("expected no detect-duplicate section for an excluded type")
	}
}

func TestGetWorkflowItem_CorrectionSectionIsEmpty(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, workflowItemPath(subCorrection), tokenSubmitter, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, present, raw := decodeSection(t, rr); !present || raw != "{}" {
		t.Errorf("expected empty section, got present=%v raw=%s", present, raw)
	}
}

func TestGetWorkflowItem_DegradesWhenEngineFails(t *testing.T) {
	f := newFixture(t)
	f.engine.fail(domain.NewTransientError("similarity engine", errors.New("timeout")))

	rr := f.do(t, http.MethodGet, workflowItemPath(subInWorkflow), tokenSubmitter, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, present, raw := decodeSection(t, rr); !present || raw != "{}" {
		t.Errorf("expected empty section, got present=%v raw=%s", present, raw)
	}
}

func TestGetItem_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"no token", workflowItemPath(subInWorkflow), "", http.StatusUnauthorized},
		{"unknown token", workflowItemPath(subInWorkflow), "nope", http.StatusUnauthorized},
		{"stranger", workflowItemPath(subInWorkflow), tokenStranger, http.StatusForbidden},
		{"unknown submission", workflowItemPath(99), tokenSubmitter, http.StatusNotFound},
		{"workspace item read as workflow item", workflowItemPath(subInWorkspace), tokenSubmitter, http.StatusNotFound},
		{"workflow item read as workspace item", fmt.Sprintf("/api/submission/workspaceitems/%d", subInWorkflow), tokenSubmitter, http.StatusNotFound},
		{"reviewer reads workspace item as workflow item", workflowItemPath(subInWorkspace), tokenReviewer, http.StatusNotFound},
		{"reviewer reads workspace item", fmt.Sprintf("/api/submission/workspaceitems/%d", subInWorkspace), tokenReviewer, http.StatusForbidden},
		{"malformed id", "/api/workflow/workflowitems/abc", tokenSubmitter, http.StatusBadRequest},
		{"zero id", "/api/workflow/workflowitems/0", tokenSubmitter, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, tt.path, tt.token, nil)
			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Tests: section patch
// ---------------------------------------------------------------------------

func TestPatchWorkflowItem_RejectThenVerify(t *testing.T) {
	f := newFixture(t)
	f.claim(t, tokenReviewer, subInWorkflow)

	rr := f.do(t, http.MethodPatch, workflowItemPath(subInWorkflow), tokenReviewer,
		decisionPatch(f.candidateA, "reject", "ignored for reject"))
	if rr.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	section, _, _ := decodeSection(t, rr)
	a := section.Matches[f.candidateA.String()]
	if a.WorkflowDecision != "reject" {
		t.Errorf("expected reject, got %q", a.WorkflowDecision)
	}
	if a.WorkflowNote != "" {
		t.Errorf("expected no note on reject, got %q", a.WorkflowNote)
	}
	if d := section.Matches[f.candidateB.String()].WorkflowDecision; d != "" {
		t.Errorf("expected other candidate undecided, got %q", d)
	}

	rr = f.do(t, http.MethodPatch, workflowItemPath(subInWorkflow), tokenReviewer,
		decisionPatch(f.candidateA, "verify", "note"))
	if rr.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	section, _, _ = decodeSection(t, rr)
	a = section.Matches[f.candidateA.String()]
	if a.WorkflowDecision != "verify" || a.WorkflowNote != "note" {
		t.Errorf("expected verify/note, got %q/%q", a.WorkflowDecision, a.WorkflowNote)
	}

	// The submitter sees the same decision and note.
	rr = f.do(t, http.MethodGet, workflowItemPath(subInWorkflow), tokenSubmitter, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	section, _, _ = decodeSection(t, rr)
	a = section.Matches[f.candidateA.String()]
	if a.WorkflowDecision != "verify" || a.WorkflowNote != "note" {
		t.Errorf("submitter view: expected verify/note, got %q/%q", a.WorkflowDecision, a.WorkflowNote)
	}
}

func TestPatchWorkflowItem_VerifyThenRejectClearsNote(t *testing.T) {
	f := newFixture(t)
	f.claim(t, tokenReviewer, subInWorkflow)

	f.do(t, http.MethodPatch, workflowItemPath(subInWorkflow), tokenReviewer, decisionPatch(f.candidateB, "verify", "same DOI"))
	rr := f.do(t, http.MethodPatch, workflowItemPath(subInWorkflow), tokenReviewer, decisionPatch(f.candidateB, "reject", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	section, _, _ := decodeSection(t, rr)
	b := section.Matches[f.candidateB.String()]
	if b.WorkflowDecision != "reject" || b.WorkflowNote != "" {
		t.Errorf("expected reject without note, got %q/%q", b.WorkflowDecision, b.WorkflowNote)
	}
}

func TestPatchWorkflowItem_Errors(t *testing.T) {
	f := newFixture(t)
	f.claim(t, tokenReviewer, subInWorkflow)

	tests := []struct {
		name       string
		id         int64
		token      string
		body       interface{}
		wantStatus int
	}{
		{"unauthenticated", subInWorkflow, "", decisionPatch(uuid.New(), "reject", ""), http.StatusUnauthorized},
		{"reviewer without the claim", subInWorkflow, tokenOther, decisionPatch(uuid.New(), "reject", ""), http.StatusForbidden},
		{"submitter", subInWorkflow, tokenSubmitter, decisionPatch(uuid.New(), "reject", ""), http.StatusForbidden},
		{"candidate not in section", subInWorkflow, tokenReviewer, decisionPatch(uuid.New(), "reject", ""), http.StatusNotFound},
		{"unknown submission", 99, tokenReviewer, decisionPatch(uuid.New(), "reject", ""), http.StatusNotFound},
		{"invalid decision", subInWorkflow, tokenReviewer, decisionPatch(uuid.New(), "maybe", ""), http.StatusUnprocessableEntity},
		{"empty decision", subInWorkflow, tokenReviewer, decisionPatch(uuid.New(), "", ""), http.StatusUnprocessableEntity},
		{"invalid decision from a caller who cannot decide", subInWorkflow, tokenOther, decisionPatch(uuid.New(), "maybe", ""), http.StatusUnprocessableEntity},
		{"invalid json", subInWorkflow, tokenReviewer, `{"op":`, http.StatusBadRequest},
		{"empty document", subInWorkflow, tokenReviewer, `[]`, http.StatusBadRequest},
		{"replace operation", subInWorkflow, tokenReviewer,
			`[{"op":"replace","path":"/sections/detect-duplicate/matches/` + uuid.NewString() + `/workflowDecision","value":{"value":"reject"}}]`,
			http.StatusBadRequest},
		{"unsupported path", subInWorkflow, tokenReviewer,
			`[{"op":"add","path":"/sections/license/granted","value":{"value":"reject"}}]`,
			http.StatusBadRequest},
		{"malformed candidate id", subInWorkflow, tokenReviewer,
			`[{"op":"add","path":"/sections/detect-duplicate/matches/abc/workflowDecision","value":{"value":"reject"}}]`,
			http.StatusBadRequest},
		{"missing value", subInWorkflow, tokenReviewer,
			`[{"op":"add","path":"/sections/detect-duplicate/matches/` + uuid.NewString() + `/workflowDecision"}]`,
			http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPatch, workflowItemPath(tt.id), tt.token, tt.body)
			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPatchWorkflowItem_InvalidDecisionInBatchStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.claim(t, tokenReviewer, subInWorkflow)

	batch := append(decisionPatch(f.candidateA, "reject", ""), decisionPatch(f.candidateB, "maybe", "")...)
	rr := f.do(t, http.MethodPatch, workflowItemPath(subInWorkflow), tokenReviewer, batch)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, workflowItemPath(subInWorkflow), tokenReviewer, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	section, _, _ := decodeSection(t, rr)
	for id, m := range section.Matches {
		if m.WorkflowDecision != "" {
			t.Errorf("expected no decision on %s after a rejected batch, got %q", id, m.WorkflowDecision)
		}
	}
}

func TestPatchWorkflowItem_BatchAppliesInOrder(t *testing.T) {
	f := newFixture(t)
	f.claim(t, tokenReviewer, subInWorkflow)

	batch := append(decisionPatch(f.candidateA, "verify", "first"), decisionPatch(f.candidateB, "reject", "")...)
	batch = append(batch, decisionPatch(f.candidateA, "reject", "")...)
	rr := f.do(t, http.MethodPatch, workflowItemPath(subInWorkflow), tokenReviewer, batch)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	section, _, _ := decodeSection(t, rr)
	if a := section.Matches[f.candidateA.String()]; a.WorkflowDecision != "reject" || a.WorkflowNote != "" {
		t.Errorf("expected last operation to win on candidate A, got %q/%q", a.WorkflowDecision, a.WorkflowNote)
	}
	if b := section.Matches[f.candidateB.String()]; b.WorkflowDecision != "reject" {
		t.Errorf("expected reject on candidate B, got %q", b.WorkflowDecision)
	}
}

func TestPatchWorkflowItem_EngineUnavailable(t *testing.T) {
	f := newFixture(t)
	f.claim(t, tokenReviewer, subInWorkflow)
	f.engine.fail(domain.NewTransientError("similarity engine", errors.New("rate limited")))

	rr := f.do(t, http.MethodPatch, workflowItemPath(subInWorkflow), tokenReviewer, decisionPatch(f.candidateA, "reject", ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Tests: workflow endpoints
// ---------------------------------------------------------------------------

func TestPromoteWorkspaceItem(t *testing.T) {
	f := newFixture(t)
	body := map[string]int64{"workspaceitem_id": subInWorkspace}

	rr := f.do(t, http.MethodPost, "/api/workflow/workflowitems", tokenReviewer, body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-submitter: expected 403, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/workflow/workflowitems", tokenSubmitter, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var item rawItem
	decodeJSON(t, rr, &item)
	if item.Type != itemTypeWorkflow || item.Stage != string(domain.StageWorkflow) {
		t.Errorf("expected workflow item, got %s/%s", item.Type, item.Stage)
	}
	if _, ok := item.Sections[sectionDetectDuplicate]; !ok {
		t.Error("expected detect-duplicate section after promotion")
	}

	rr = f.do(t, http.MethodPost, "/api/workflow/workflowitems", tokenSubmitter, body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second promotion: expected 409, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/workflow/workflowitems", tokenSubmitter, map[string]int64{"workspaceitem_id": 0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing id: expected 400, got %d", rr.Code)
	}
}

func TestClaimTask(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/workflow/claimedtasks", tokenReviewer, map[string]int64{"workflowitem_id": subInWorkflow})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var task claimedTaskResponse
	decodeJSON(t, rr, &task)
	if task.OwnerID != f.reviewer.ID.String() || task.WorkflowItemID != subInWorkflow {
		t.Errorf("unexpected task: %+v", task)
	}

	rr = f.do(t, http.MethodPost, "/api/workflow/claimedtasks", tokenOther, map[string]int64{"workflowitem_id": subInWorkflow})
	if rr.Code != http.StatusConflict {
		t.Errorf("claimed by another: expected 409, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/workflow/claimedtasks", tokenStranger, map[string]int64{"workflowitem_id": subNoMatches})
	if rr.Code != http.StatusForbidden {
		t.Errorf("non-reviewer: expected 403, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/workflow/claimedtasks", tokenReviewer, map[string]int64{"workflowitem_id": subInWorkspace})
	if rr.Code != http.StatusConflict {
		t.Errorf("workspace submission: expected 409, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: login and health
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/authn/login", "", map[string]string{
		"email": "reviewer@example.com", "password": "s3cret",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Authorization"); got != "Bearer "+tokenReviewer {
		t.Errorf("expected Authorization header with token, got %q", got)
	}
	var resp loginResponse
	decodeJSON(t, rr, &resp)
	if resp.Token != tokenReviewer || resp.EPersonID != f.reviewer.ID.String() {
		t.Errorf("unexpected login response: %+v", resp)
	}

	rr = f.do(t, http.MethodPost, "/api/authn/login", "", map[string]string{
		"email": "reviewer@example.com", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/authn/login", "", map[string]string{
		"email": "not-an-email", "password": "s3cret",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid email: expected 400, got %d", rr.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	if rr := f.do(t, http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/readyz", "", nil); rr.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rr.Code)
	}

	f.srv.health = fakeHealth{status: database.HealthStatus{Status: "unhealthy", Error: "connection refused"}}
	if rr := f.do(t, http.MethodGet, "/readyz", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz unhealthy: expected 503, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: helpers
// ---------------------------------------------------------------------------

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", domain.NewNotFoundError("submission", "1"), http.StatusNotFound},
		{"validation", domain.NewValidationError("path", "bad"), http.StatusBadRequest},
		{"invalid decision", fmt.Errorf("wrap: %w", domain.ErrInvalidDecision), http.StatusUnprocessableEntity},
		{"conflict", domain.ErrConflict, http.StatusConflict},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", domain.NewForbiddenError("x", "y"), http.StatusForbidden},
		{"transient", domain.NewTransientError("similarity engine", errors.New("boom")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeDomainError(rr, tt.err)
			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestParseDecisionPath(t *testing.T) {
	id := uuid.New()

	got, err := parseDecisionPath("/sections/detect-duplicate/matches/" + id.String() + "/workflowDecision")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id {
		t.Errorf("expected %s, got %s", id, got)
	}

	for _, p := range []string{
		"",
		"/sections/detect-duplicate/matches/" + id.String(),
		"/sections/detect-duplicate/matches/" + id.String() + "/workflowNote",
		"/sections/other/matches/" + id.String() + "/workflowDecision",
		"/sections/detect-duplicate/matches//workflowDecision",
	} {
		if _, err := parseDecisionPath(p); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("parseDecisionPath(%q): expected invalid input, got %v", p, err)
		}
	}
}
