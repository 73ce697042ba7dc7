package similarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
)

// Failure kinds reported to metrics.
const (
	FailureRateLimited = "rate_limited"
	FailureTimeout     = "timeout"
	FailureError       = "error"
)

// ErrRateLimited is the cause of a TransientError when the limiter rejects a query.
var ErrRateLimited = errors.New("similarity query rate limit exceeded")

const transientSource = "similarity engine"

// LimitConfig bounds calls into an Engine.
type LimitConfig struct {
	// Timeout caps a single query. Zero disables the cap.
	Timeout time.Duration
	// RatePerSecond is the token bucket refill rate. Zero or less disables limiting.
	RatePerSecond float64
	// Burst is the token bucket size.
	Burst int
}

// Compile-time interface verification.
var _ Engine = (*LimitedEngine)(nil)

// LimitedEngine wraps an Engine with a token bucket and a per-query timeout.
// Every failure of the wrapped engine is returned as a *domain.TransientError.
type LimitedEngine struct {
	next    Engine
	limiter *rate.Limiter
	timeout time.Duration
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewLimitedEngine creates a LimitedEngine. metrics may be nil; a nil tracer
// disables spans.
func NewLimitedEngine(next Engine, cfg LimitConfig, metrics *observability.Metrics, tracer trace.Tracer) *LimitedEngine {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	return &LimitedEngine{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Timeout,
		metrics: metrics,
		tracer:  tracer,
	}
}

// FindSimilar waits for a limiter token and queries the wrapped engine
// within the configured timeout.
func (e *LimitedEngine) FindSimilar(ctx context.Context, rec *domain.Record, pool CandidatePool) ([]domain.Candidate, error) {
	ctx, span := e.tracer.Start(ctx, "similarity.FindSimilar")
	defer span.End()
	if rec != nil {
		span.SetAttributes(
			attribute.String("record.id", rec.ID.String()),
			attribute.String(observability.AttrEntityType, string(rec.EntityType)),
		)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if !e.limiter.Allow() {
		return nil, e.fail(span, FailureRateLimited, ErrRateLimited)
	}

	type result struct {
		candidates []domain.Candidate
		err        error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		c, err := e.next.FindSimilar(ctx, rec, pool)
		done <- result{candidates: c, err: err}
	}()

	select {
	case res := <-done:
		if e.metrics != nil {
			e.metrics.RecordSimilarityQuery(time.Since(start).Seconds())
		}
		if res.err != nil {
			var verr *domain.ValidationError
			if errors.As(res.err, &verr) {
				span.RecordError(res.err)
				span.SetStatus(codes.Error, res.err.Error())
				return nil, res.err
			}
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, e.fail(span, FailureTimeout, res.err)
			}
			return nil, e.fail(span, FailureError, res.err)
		}
		span.SetAttributes(attribute.Int(observability.AttrMatchCount, len(res.candidates)))
		return res.candidates, nil
	case <-ctx.Done():
		if e.metrics != nil {
			e.metrics.RecordSimilarityQuery(time.Since(start).Seconds())
		}
		return nil, e.fail(span, FailureTimeout, fmt.Errorf("query aborted: %w", ctx.Err()))
	}
}

func (e *LimitedEngine) fail(span trace.Span, kind string, cause error) error {
	if e.metrics != nil {
		e.metrics.RecordSimilarityFailure(kind)
	}
	span.RecordError(cause)
	span.SetStatus(codes.Error, kind)
	return domain.NewTransientError(transientSource, cause)
}
