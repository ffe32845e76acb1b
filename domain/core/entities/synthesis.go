package entities

import (
	"fmt"
	"slices"
	"time"

	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// Rollup is the locally computed aggregate a synthesis is built from.
type Rollup struct {
	SignalCount      int      `json:"signal_count"`
	AnalyzedCount    int      `json:"analyzed_count"`
	ClusterCount     int      `json:"cluster_count"`
	MaxSubtreeDepth  int      `json:"max_subtree_depth"`
	MeanTemperature  *float64 `json:"mean_temperature,omitempty"`
	MeanDensity      *float64 `json:"mean_density,omitempty"`
	TopKeywords      []string `json:"top_keywords"`
	ReflectionCount  int      `json:"reflection_count"`
	ReflectionTypes  []string `json:"reflection_types,omitempty"`
	MemberSignalIDs  []string `json:"member_signal_ids,omitempty"`
	MemberClusterIDs []string `json:"member_cluster_ids,omitempty"`
}

func (r Rollup) clone() Rollup {
	out := r
	out.MeanTemperature = copyFloat(r.MeanTemperature)
	out.MeanDensity = copyFloat(r.MeanDensity)
	out.TopKeywords = slices.Clone(r.TopKeywords)
	out.ReflectionTypes = slices.Clone(r.ReflectionTypes)
	out.MemberSignalIDs = slices.Clone(r.MemberSignalIDs)
	out.MemberClusterIDs = slices.Clone(r.MemberClusterIDs)
	return out
}

// Synthesis is an immutable rollup over a subject. Every run creates a new record.
type Synthesis struct {
	id            string
	realmID       string
	subject       valueobjects.SubjectRef
	synthesisType valueobjects.SynthesisType
	subtype       valueobjects.SynthesisSubtype
	depth         int
	content       string
	rollup        Rollup
	generation    GenerationRecord
	createdAt     time.Time
}

// SynthesisSnapshot is the persisted form of a Synthesis.
type SynthesisSnapshot struct {
	ID         string
	RealmID    string
	Subject    valueobjects.SubjectRef
	Type       valueobjects.SynthesisType
	Subtype    valueobjects.SynthesisSubtype
	Depth      int
	Content    string
	Rollup     Rollup
	Generation GenerationRecord
	CreatedAt  time.Time
}

// NewSynthesis validates the type/subtype pair and depth and returns the finished record.
func NewSynthesis(
	realmID string,
	subject valueobjects.SubjectRef,
	t valueobjects.SynthesisType,
	subtype valueobjects.SynthesisSubtype,
	depth int,
	content string,
	rollup Rollup,
	generation GenerationRecord,
) (*Synthesis, error) {
	if realmID == "" {
		return nil, pkgerrors.NewValidationError("realm id cannot be empty")
	}
	if subject.IsZero() {
		return nil, pkgerrors.NewValidationError("synthesis subject is required")
	}
	if err := validateSynthesisKind(t, subtype, depth); err != nil {
		return nil, err
	}
	return &Synthesis{
		id:            valueobjects.NewID(),
		realmID:       realmID,
		subject:       subject,
		synthesisType: t,
		subtype:       subtype,
		depth:         depth,
		content:       content,
		rollup:        rollup.clone(),
		generation:    generation,
		createdAt:     time.Now().UTC(),
	}, nil
}

// ReconstructSynthesis rebuilds a synthesis from storage.
func ReconstructSynthesis(s SynthesisSnapshot) (*Synthesis, error) {
	if s.ID == "" || s.RealmID == "" || s.Subject.IsZero() {
		return nil, pkgerrors.NewValidationError("synthesis id, realm id and subject are required")
	}
	if err := validateSynthesisKind(s.Type, s.Subtype, s.Depth); err != nil {
		return nil, err
	}
	return &Synthesis{
		id:            s.ID,
		realmID:       s.RealmID,
		subject:       s.Subject,
		synthesisType: s.Type,
		subtype:       s.Subtype,
		depth:         s.Depth,
		content:       s.Content,
		rollup:        s.Rollup.clone(),
		generation:    s.Generation,
		createdAt:     s.CreatedAt,
	}, nil
}

func validateSynthesisKind(t valueobjects.SynthesisType, subtype valueobjects.SynthesisSubtype, depth int) error {
	if _, _, err := valueobjects.ParseSynthesisKind(string(t), string(subtype)); err != nil {
		return err
	}
	if depth < 0 || depth > valueobjects.MaxClusterDepth {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("synthesis depth %d must be between 0 and %d", depth, valueobjects.MaxClusterDepth))
	}
	return nil
}

func (s *Synthesis) ID() string { return s.id }
func (s *Synthesis) RealmID() string { return s.realmID }
func (s *Synthesis) Subject() valueobjects.SubjectRef { return s.subject }
func (s *Synthesis) Type() valueobjects.SynthesisType { return s.synthesisType }
func (s *Synthesis) Subtype() valueobjects.SynthesisSubtype { return s.subtype }
func (s *Synthesis) Depth() int { return s.depth }
func (s *Synthesis) Content() string { return s.content }
func (s *Synthesis) Rollup() Rollup { return s.rollup.clone() }
func (s *Synthesis) Generation() GenerationRecord { return s.generation }
func (s *Synthesis) CreatedAt() time.Time { return s.createdAt }

func (s *Synthesis) Snapshot() SynthesisSnapshot {
	return SynthesisSnapshot{
		ID:         s.id,
		RealmID:    s.realmID,
		Subject:    s.subject,
		Type:       s.synthesisType,
		Subtype:    s.subtype,
		Depth:      s.depth,
		Content:    s.content,
		Rollup:     s.rollup.clone(),
		Generation: s.generation,
		CreatedAt:  s.createdAt,
	}
}
