package dedup

import (
	"github.com/helixir/submission-dedup-service/internal/config"
	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
)

// Gate is the reason a submission does or does not run detection.
type Gate int

const (
	// GateDetect runs the similarity engine.
	GateDetect Gate = iota
	// GateNotApplicable means the entity type is not handled by the step; the section is absent.
	GateNotApplicable
	// GateNotInWorkflow means the submission is still in the workspace; the section is empty.
	GateNotInWorkflow
	// GateCopy means the submission edits an existing item; the section is empty.
	GateCopy
)

// outcome returns the metrics label for a section that stopped at this gate.
func (g Gate) outcome() string {
	if g == GateCopy {
		return observability.OutcomeCopy
	}
	return observability.OutcomeGated
}

// Policy decides which submissions run detection and which entity types may match.
type Policy struct {
	// DetectableTypes run detection unless also excluded.
	DetectableTypes []domain.EntityType
	// ExcludedTypes never run detection.
	ExcludedTypes []domain.EntityType
	// CompatibleGroups are sets of entity types whose records may be duplicates
	// of each other. A type is always compatible with itself.
	CompatibleGroups [][]domain.EntityType
}

// PolicyFromConfig builds a Policy from configuration.
func PolicyFromConfig(cfg config.DedupConfig) Policy {
	p := Policy{
		DetectableTypes: toEntityTypes(cfg.DetectableTypes),
		ExcludedTypes:   toEntityTypes(cfg.ExcludedTypes),
	}
	for _, g := range cfg.CompatibleGroups {
		p.CompatibleGroups = append(p.CompatibleGroups, toEntityTypes(g))
	}
	return p
}

func toEntityTypes(in []string) []domain.EntityType {
	out := make([]domain.EntityType, 0, len(in))
	for _, s := range in {
		out = append(out, domain.EntityType(s))
	}
	return out
}

// Applicable reports whether the detect-duplicate step handles the entity type at all.
func (p Policy) Applicable(t domain.EntityType) bool {
	return containsType(p.DetectableTypes, t) && !containsType(p.ExcludedTypes, t)
}

// Evaluate returns the gate for a submission.
func (p Policy) Evaluate(sc *domain.StepContext) Gate {
	switch {
	case !p.Applicable(sc.EntityType):
		return GateNotApplicable
	case sc.Stage != domain.StageWorkflow:
		return GateNotInWorkflow
	case sc.CopyKind.IsCopy():
		return GateCopy
	default:
		return GateDetect
	}
}

// CompatibleTypes returns t followed by every other type sharing a group with t.
func (p Policy) CompatibleTypes(t domain.EntityType) []domain.EntityType {
	out := []domain.EntityType{t}
	for _, group := range p.CompatibleGroups {
		if !containsType(group, t) {
			continue
		}
		for _, other := range group {
			if !containsType(out, other) {
				out = append(out, other)
			}
		}
	}
	return out
}

func containsType(types []domain.EntityType, t domain.EntityType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
