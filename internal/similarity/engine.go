// Package similarity finds archived records that share a metadata signature
// with a submission.
package similarity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/helixir/submission-dedup-service/internal/config"
	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/repository"
)

// Engine finds potential duplicates of a record within a candidate pool.
type Engine interface {
	FindSimilar(ctx context.Context, rec *domain.Record, pool CandidatePool) ([]domain.Candidate, error)
}

// CandidatePool restricts the archived records an Engine may return.
type CandidatePool struct {
	// EntityTypes are the entity types compatible with the submission. Required.
	EntityTypes []domain.EntityType
	// CommunityID is the submission's community, used by community-scoped signatures.
	CommunityID uuid.UUID
	// ExcludeIDs are never returned.
	ExcludeIDs []uuid.UUID
}

// Scope controls which archived records a signature is compared against.
type Scope string

const (
	// ScopeCommunity compares only records of the submission's community.
	ScopeCommunity Scope = config.ScopeCommunity
	// ScopeGlobal compares every compatible archived record.
	ScopeGlobal Scope = config.ScopeGlobal
)

// Signature is a named group of metadata fields compared value by value.
type Signature struct {
	Name   string
	Fields []string
	Scope  Scope
}

// SignaturesFromConfig converts configured signatures.
func SignaturesFromConfig(cfgs []config.SignatureConfig) []Signature {
	out := make([]Signature, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Signature{
			Name:   c.Name,
			Fields: append([]string(nil), c.Fields...),
			Scope:  Scope(c.Scope),
		})
	}
	return out
}

// Compile-time interface verification.
var _ Engine = (*SignatureEngine)(nil)

// SignatureEngine matches records whose normalized signature values overlap.
// A candidate matches when any value of any signature field equals a value
// of the same field on the submission.
type SignatureEngine struct {
	records    repository.RecordRepository
	signatures []Signature
}

// NewSignatureEngine creates a SignatureEngine.
func NewSignatureEngine(records repository.RecordRepository, signatures []Signature) (*SignatureEngine, error) {
	if records == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	if len(signatures) == 0 {
		return nil, fmt.Errorf("at least one signature is required")
	}
	for _, s := range signatures {
		if len(s.Fields) == 0 {
			return nil, fmt.Errorf("signature %q has no fields", s.Name)
		}
		if s.Scope != ScopeCommunity && s.Scope != ScopeGlobal {
			return nil, fmt.Errorf("signature %q has invalid scope %q", s.Name, s.Scope)
		}
	}
	return &SignatureEngine{records: records, signatures: signatures}, nil
}

// FindSimilar returns candidates in discovery order: signatures in configured
// order, then candidate records in store order. Matched fields are de-duplicated
// and carry an "[n]" suffix when the matching candidate value is not its first.
func (e *SignatureEngine) FindSimilar(ctx context.Context, rec *domain.Record, pool CandidatePool) ([]domain.Candidate, error) {
	if rec == nil {
		return nil, domain.NewValidationError("record", "record is required")
	}
	if len(pool.EntityTypes) == 0 {
		return nil, nil
	}

	exclude := append([]uuid.UUID{rec.ID}, pool.ExcludeIDs...)
	acc := newAccumulator()

	for _, sig := range e.signatures {
		keys := signatureKeys(rec, sig.Fields)
		if len(keys) == 0 {
			continue
		}

		filter := repository.ArchivedFilter{
			EntityTypes: pool.EntityTypes,
			Fields:      sig.Fields,
			ExcludeIDs:  exclude,
		}
		if sig.Scope == ScopeCommunity {
			if pool.CommunityID == uuid.Nil {
				continue
			}
			filter.CommunityID = pool.CommunityID
		}

		archived, err := e.records.ListArchived(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", sig.Name, err)
		}

		for _, cand := range archived {
			for _, field := range sig.Fields {
				for i, v := range cand.Values(field) {
					if _, ok := keys[field][Normalize(field, v)]; !ok {
						continue
					}
					acc.add(cand.ID, matchedFieldName(field, i))
				}
			}
		}
	}

	return acc.candidates(), nil
}

// signatureKeys returns the normalized values of each field, skipping blanks.
func signatureKeys(rec *domain.Record, fields []string) map[string]map[string]struct{} {
	keys := make(map[string]map[string]struct{})
	for _, field := range fields {
		for _, v := range rec.Values(field) {
			k := Normalize(field, v)
			if k == "" {
				continue
			}
			if keys[field] == nil {
				keys[field] = make(map[string]struct{})
			}
			keys[field][k] = struct{}{}
		}
	}
	return keys
}

func matchedFieldName(field string, index int) string {
	if index == 0 {
		return field
	}
	return field + "[" + strconv.Itoa(index) + "]"
}

// accumulator merges hits per candidate while preserving first-seen order.
type accumulator struct {
	order  []uuid.UUID
	fields map[uuid.UUID][]string
	seen   map[uuid.UUID]map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		fields: make(map[uuid.UUID][]string),
		seen:   make(map[uuid.UUID]map[string]struct{}),
	}
}

func (a *accumulator) add(id uuid.UUID, field string) {
	s, ok := a.seen[id]
	if !ok {
		s = make(map[string]struct{})
		a.seen[id] = s
		a.order = append(a.order, id)
	}
	if _, dup := s[field]; dup {
		return
	}
	s[field] = struct{}{}
	a.fields[id] = append(a.fields[id], field)
}

func (a *accumulator) candidates() []domain.Candidate {
	out := make([]domain.Candidate, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, domain.Candidate{RecordID: id, MatchedFields: a.fields[id]})
	}
	return out
}
