package valueobjects

import (
	"fmt"
	"strings"

	pkgerrors "signals-backend/pkg/errors"
)

// MaxClusterDepth is the global ceiling for cluster nesting and synthesis depth.
const MaxClusterDepth = 10

// SignalStatus tracks the analysis lifecycle of a signal.
type SignalStatus string

const (
	SignalStatusPending        SignalStatus = "PENDING"
	SignalStatusAnalyzed       SignalStatus = "ANALYZED"
	SignalStatusAnalysisFailed SignalStatus = "ANALYSIS_FAILED"
)

func (s SignalStatus) IsValid() bool {
	switch s {
	case SignalStatusPending, SignalStatusAnalyzed, SignalStatusAnalysisFailed:
		return true
	}
	return false
}

// ClusterType categorizes a cluster.
type ClusterType string

const (
	ClusterTypeTemporal    ClusterType = "TEMPORAL"
	ClusterTypeSpatial     ClusterType = "SPATIAL"
	ClusterTypeThematic    ClusterType = "THEMATIC"
	ClusterTypeProject     ClusterType = "PROJECT"
	ClusterTypeJourney     ClusterType = "JOURNEY"
	ClusterTypeExploration ClusterType = "EXPLORATION"
	ClusterTypeCollection  ClusterType = "COLLECTION"
)

var clusterTypes = []ClusterType{
	ClusterTypeTemporal, ClusterTypeSpatial, ClusterTypeThematic, ClusterTypeProject,
	ClusterTypeJourney, ClusterTypeExploration, ClusterTypeCollection,
}

func ParseClusterType(s string) (ClusterType, error) {
	return parseEnum("cluster type", s, clusterTypes)
}

// ClusterState is the editorial state of a cluster.
type ClusterState string

const (
	ClusterStateActive    ClusterState = "ACTIVE"
	ClusterStateArchived  ClusterState = "ARCHIVED"
	ClusterStateDraft     ClusterState = "DRAFT"
	ClusterStatePublished ClusterState = "PUBLISHED"
)

var clusterStates = []ClusterState{ClusterStateActive, ClusterStateArchived, ClusterStateDraft, ClusterStatePublished}

func ParseClusterState(s string) (ClusterState, error) {
	return parseEnum("cluster state", s, clusterStates)
}

// ReflectionType selects the narrative lens of a reflection.
type ReflectionType string

const (
	ReflectionTypeMirror    ReflectionType = "MIRROR"
	ReflectionTypeSymbolic  ReflectionType = "SYMBOLIC"
	ReflectionTypeNarrative ReflectionType = "NARRATIVE"
	ReflectionTypeLineage   ReflectionType = "LINEAGE"
)

var reflectionTypes = []ReflectionType{
	ReflectionTypeMirror, ReflectionTypeSymbolic, ReflectionTypeNarrative, ReflectionTypeLineage,
}

func ParseReflectionType(s string) (ReflectionType, error) {
	return parseEnum("reflection type", s, reflectionTypes)
}

// SynthesisType is the family of a synthesis rollup.
type SynthesisType string

const (
	SynthesisTypeMetadata   SynthesisType = "METADATA"
	SynthesisTypeReflection SynthesisType = "REFLECTION"
)

// SynthesisSubtype narrows a SynthesisType. Each subtype belongs to exactly one type.
type SynthesisSubtype string

const (
	SynthesisSubtypeSurface   SynthesisSubtype = "SURFACE"
	SynthesisSubtypeStructure SynthesisSubtype = "STRUCTURE"
	SynthesisSubtypePatterns  SynthesisSubtype = "PATTERNS"
	SynthesisSubtypeMirror    SynthesisSubtype = "MIRROR"
	SynthesisSubtypeMyth      SynthesisSubtype = "MYTH"
	SynthesisSubtypeNarrative SynthesisSubtype = "NARRATIVE"
)

var synthesisSubtypes = map[SynthesisType][]SynthesisSubtype{
	SynthesisTypeMetadata:   {SynthesisSubtypeSurface, SynthesisSubtypeStructure, SynthesisSubtypePatterns},
	SynthesisTypeReflection: {SynthesisSubtypeMirror, SynthesisSubtypeMyth, SynthesisSubtypeNarrative},
}

func ParseSynthesisType(s string) (SynthesisType, error) {
	return parseEnum("synthesis type", s, []SynthesisType{SynthesisTypeMetadata, SynthesisTypeReflection})
}

// AllowedSubtypes returns the subtypes valid for t, or nil for an unknown type.
func AllowedSubtypes(t SynthesisType) []SynthesisSubtype {
	subtypes := synthesisSubtypes[t]
	out := make([]SynthesisSubtype, len(subtypes))
	copy(out, subtypes)
	return out
}

// ParseSynthesisKind validates a (type, subtype) pair together.
func ParseSynthesisKind(typ, subtype string) (SynthesisType, SynthesisSubtype, error) {
	t, err := ParseSynthesisType(typ)
	if err != nil {
		return "", "", err
	}
	st, err := parseEnum("synthesis subtype", subtype, synthesisSubtypes[t])
	if err != nil {
		return "", "", pkgerrors.NewValidationError(
			fmt.Sprintf("subtype %q is not allowed for synthesis type %s", subtype, t))
	}
	return t, st, nil
}

func parseEnum[T ~string](field, s string, allowed []T) (T, error) {
	candidate := strings.ToUpper(strings.TrimSpace(s))
	for _, v := range allowed {
		if string(v) == candidate {
			return v, nil
		}
	}
	var zero T
	return zero, pkgerrors.NewValidationError(fmt.Sprintf("invalid %s %q", field, s))
}
