// Package dedup computes the detect-duplicate section of workflow submissions
// and records reviewer decisions on potential duplicates.
//
// Sections are derived on every read: the similarity engine is queried with the
// submission's current record and persisted decisions are merged onto the hits.
// Only decisions are stored, so matched fields always reflect current metadata.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
	"github.com/helixir/submission-dedup-service/internal/repository"
	"github.com/helixir/submission-dedup-service/internal/similarity"
)

// StepContextReader resolves the workflow view of a submission.
type StepContextReader interface {
	GetStepContext(ctx context.Context, submissionID int64) (*domain.StepContext, error)
}

// RecordReader loads the current record of a submission.
type RecordReader interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*domain.Record, error)
}

// Authorizer decides whether a principal may record decisions on a submission.
type Authorizer interface {
	// CanDecide returns nil when allowed, or an error wrapping domain.ErrForbidden.
	CanDecide(ctx context.Context, principal *domain.Principal, sc *domain.StepContext) error
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// RecordDecisionInput is a reviewer's decision on one candidate.
type RecordDecisionInput struct {
	SubmissionID int64
	CandidateID  uuid.UUID
	// Decision is the raw value, "reject" or "verify".
	Decision  string
	Note      string
	Principal *domain.Principal
}

// Registry computes duplicate sections and records decisions.
type Registry struct {
	policy      Policy
	submissions StepContextReader
	records     RecordReader
	engine      similarity.Engine
	decisions   repository.DecisionRepository
	authorizer  Authorizer
	publisher   EventPublisher
	logger      zerolog.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher sets the publisher for decision events.
func WithPublisher(p EventPublisher) Option {
	return func(r *Registry) {
		r.publisher = p
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = observability.WithComponent(logger, "dedup-registry")
	}
}

// WithMetrics enables metrics recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithTracer sets the tracer used for registry spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewRegistry creates a Registry.
func NewRegistry(
	policy Policy,
	submissions StepContextReader,
	records RecordReader,
	engine similarity.Engine,
	decisions repository.DecisionRepository,
	authorizer Authorizer,
	opts ...Option,
) *Registry {
	r := &Registry{
		policy:      policy,
		submissions: submissions,
		records:     records,
		engine:      engine,
		decisions:   decisions,
		authorizer:  authorizer,
		logger:      zerolog.Nop(),
		tracer:      observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the registry's gating policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// ComputeMatches returns the detect-duplicate section of a submission.
//
// Gated submissions get an empty section; Applicable is false when the entity
// type is not handled at all. Failures of the record store, the similarity
// engine or the decision store are logged and yield an empty section.
// Returns domain.ErrNotFound if the submission does not exist.
func (r *Registry) ComputeMatches(ctx context.Context, submissionID int64) (*domain.DuplicateSection, error) {
	ctx, span := r.tracer.Start(ctx, "dedup.ComputeMatches",
		trace.WithAttributes(attribute.Int64(observability.AttrSubmissionID, submissionID)))
	defer span.End()
	ctx = observability.WithSpanContext(ctx, span)

	sc, err := r.submissions.GetStepContext(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return r.computeForStep(ctx, span, sc)
}

// ComputeForStep is ComputeMatches for a caller that already holds the step context.
func (r *Registry) ComputeForStep(ctx context.Context, sc *domain.StepContext) (*domain.DuplicateSection, error) {
	ctx, span := r.tracer.Start(ctx, "dedup.ComputeMatches",
		trace.WithAttributes(attribute.Int64(observability.AttrSubmissionID, sc.SubmissionID)))
	defer span.End()
	ctx = observability.WithSpanContext(ctx, span)

	return r.computeForStep(ctx, span, sc)
}

func (r *Registry) computeForStep(ctx context.Context, span trace.Span, sc *domain.StepContext) (*domain.DuplicateSection, error) {
	logger := observability.WithSubmissionContext(observability.ContextLogger(ctx, r.logger), sc.SubmissionID, string(sc.EntityType))
	span.SetAttributes(
		attribute.String(observability.AttrEntityType, string(sc.EntityType)),
		attribute.String(observability.AttrStage, string(sc.Stage)),
	)

	section, gate, err := r.detect(ctx, sc)
	if err != nil {
		logger.Warn().Err(err).Msg("duplicate detection failed, returning empty section")
		span.RecordError(err)
		span.SetAttributes(attribute.String(observability.AttrOutcome, observability.OutcomeDegraded))
		r.recordSection(observability.OutcomeDegraded, 0)
		return domain.NewDuplicateSection(sc.SubmissionID, true), nil
	}

	outcome := observability.OutcomeMatched
	switch {
	case gate != GateDetect:
		outcome = gate.outcome()
	case len(section.Matches) == 0:
		outcome = observability.OutcomeEmpty
	}
	span.SetAttributes(
		attribute.String(observability.AttrOutcome, outcome),
		attribute.Int(observability.AttrMatchCount, len(section.Matches)),
	)
	r.recordSection(outcome, len(section.Matches))

	return section, nil
}

// detect evaluates the gate and, when open, queries the engine and merges decisions.
func (r *Registry) detect(ctx context.Context, sc *domain.StepContext) (*domain.DuplicateSection, Gate, error) {
	gate := r.policy.Evaluate(sc)
	if gate != GateDetect {
		return domain.NewDuplicateSection(sc.SubmissionID, gate != GateNotApplicable), gate, nil
	}

	rec, err := r.records.GetRecord(ctx, sc.RecordID)
	if err != nil {
		return nil, gate, fmt.Errorf("load submission record: %w", err)
	}

	candidates, err := r.engine.FindSimilar(ctx, rec, similarity.CandidatePool{
		EntityTypes: r.policy.CompatibleTypes(sc.EntityType),
		CommunityID: sc.CommunityID,
	})
	if err != nil {
		return nil, gate, fmt.Errorf("find similar records: %w", err)
	}

	section := domain.NewDuplicateSection(sc.SubmissionID, true)
	if len(candidates) == 0 {
		return section, gate, nil
	}

	for _, c := range candidates {
		section.Matches[c.RecordID] = &domain.DuplicateMatch{
			CandidateID:   c.RecordID,
			MatchedFields: c.MatchedFields,
		}
	}

	persisted, err := r.decisions.ListForSubmission(ctx, sc.SubmissionID)
	if err != nil {
		return nil, gate, fmt.Errorf("load decisions: %w", err)
	}
	// Decisions on candidates that no longer match stay stored but are not shown.
	for id, d := range persisted {
		if m, ok := section.Matches[id]; ok {
			d.Apply(m)
		}
	}

	return section, gate, nil
}

// RecordDecision stores a reviewer's decision on a candidate and returns the
// updated match. The candidate must be in the freshly computed match set.
//
// Errors: domain.ErrInvalidDecision, domain.ErrUnauthorized, domain.ErrForbidden,
// domain.ErrNotFound, and a *domain.TransientError when the similarity engine fails.
func (r *Registry) RecordDecision(ctx context.Context, in RecordDecisionInput) (*domain.DuplicateMatch, error) {
	ctx, span := r.tracer.Start(ctx, "dedup.RecordDecision", trace.WithAttributes(
		attribute.Int64(observability.AttrSubmissionID, in.SubmissionID),
		attribute.String(observability.AttrCandidateID, in.CandidateID.String()),
	))
	defer span.End()
	ctx = observability.WithSpanContext(ctx, span)

	match, err := r.recordDecision(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.recordDecisionFailure(err)
		return nil, err
	}

	span.SetAttributes(attribute.String(observability.AttrDecision, string(match.Decision)))
	if r.metrics != nil {
		r.metrics.RecordDecision(string(match.Decision))
	}
	return match, nil
}

func (r *Registry) recordDecision(ctx context.Context, in RecordDecisionInput) (*domain.DuplicateMatch, error) {
	decision, err := domain.ParseDecision(in.Decision)
	if err != nil {
		return nil, err
	}
	if in.Principal == nil {
		return nil, domain.ErrUnauthorized
	}

	sc, err := r.submissions.GetStepContext(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := r.authorizer.CanDecide(ctx, in.Principal, sc); err != nil {
		return nil, err
	}

	section, _, err := r.detect(ctx, sc)
	if err != nil {
		return nil, err
	}
	match, ok := section.Matches[in.CandidateID]
	if !ok {
		return nil, domain.NewNotFoundError("duplicate match", in.CandidateID.String())
	}

	note := ""
	if decision == domain.DecisionVerify {
		note = strings.TrimSpace(in.Note)
	}

	saved, err := r.decisions.Upsert(ctx, &domain.DecisionRecord{
		SubmissionID: in.SubmissionID,
		CandidateID:  in.CandidateID,
		Decision:     decision,
		Note:         note,
		DecidedBy:    in.Principal.ID,
	})
	if err != nil {
		return nil, err
	}
	saved.Apply(match)

	logger := observability.WithCandidateContext(
		observability.WithSubmissionContext(observability.ContextLogger(ctx, r.logger), sc.SubmissionID, string(sc.EntityType)),
		in.CandidateID.String(),
	)
	logger.Info().
		Str("decision", string(decision)).
		Str("decided_by", in.Principal.ID.String()).
		Msg("duplicate decision recorded")

	r.publishDecision(ctx, logger, match, in.SubmissionID)

	return match, nil
}

// publishDecision hands the decision event to the publisher. Failures are logged only.
func (r *Registry) publishDecision(ctx context.Context, logger zerolog.Logger, m *domain.DuplicateMatch, submissionID int64) {
	if r.publisher == nil {
		return
	}

	event, err := domain.NewEvent(domain.EventTypeDecisionRecorded,
		fmt.Sprintf("%d", submissionID), "submission",
		domain.DecisionRecordedPayload{
			SubmissionID:  submissionID,
			CandidateID:   m.CandidateID,
			Decision:      m.Decision,
			Note:          m.Note,
			DecidedBy:     m.DecidedBy,
			MatchedFields: m.MatchedFields,
			DecidedAt:     m.DecidedAt,
		})
	if err == nil {
		err = r.publisher.Publish(ctx, event)
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to publish decision event")
		if r.metrics != nil {
			r.metrics.RecordEventFailed()
		}
	}
}

func (r *Registry) recordSection(outcome string, matches int) {
	if r.metrics != nil {
		r.metrics.RecordSection(outcome, matches)
	}
}

func (r *Registry) recordDecisionFailure(err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordDecisionFailure(failureReason(err))
}

// failureReason maps a decision error to a metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidDecision):
		return "invalid_decision"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case domain.IsTransient(err):
		return "transient"
	default:
		return "internal"
	}
}
