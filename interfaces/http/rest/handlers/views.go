package handlers

import (
	"time"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
)

// ReflectionView is the JSON shape of a reflection.
type ReflectionView struct {
	ID          string                      `json:"id"`
	RealmID     string                      `json:"realm_id"`
	SubjectKind string                      `json:"subject_kind"`
	SubjectID   string                      `json:"subject_id"`
	Type        string                      `json:"reflection_type"`
	Content     string                      `json:"content"`
	History     []entities.GenerationRecord `json:"history"`
	Annotations []entities.Annotation       `json:"annotations"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	Version     int                         `json:"version"`
}

func reflectionView(r *entities.Reflection) ReflectionView {
	return ReflectionView{
		ID:          r.ID(),
		RealmID:     r.RealmID(),
		SubjectKind: string(r.Subject().Kind()),
		SubjectID:   r.Subject().ID(),
		Type:        string(r.Type()),
		Content:     r.Content(),
		History:     nonNil(r.History()),
		Annotations: nonNil(r.Annotations()),
		CreatedAt:   r.CreatedAt(),
		UpdatedAt:   r.UpdatedAt(),
		Version:     r.Version(),
	}
}

// SynthesisView is the JSON shape of a synthesis.
type SynthesisView struct {
	ID          string                    `json:"id"`
	RealmID     string                    `json:"realm_id"`
	SubjectKind string                    `json:"subject_kind"`
	SubjectID   string                    `json:"subject_id"`
	Type        string                    `json:"type"`
	Subtype     string                    `json:"subtype"`
	Depth       int                       `json:"depth"`
	Content     string                    `json:"content"`
	Rollup      entities.Rollup           `json:"rollup"`
	Generation  entities.GenerationRecord `json:"generation"`
	CreatedAt   time.Time                 `json:"created_at"`
}

func synthesisView(s *entities.Synthesis) SynthesisView {
	return SynthesisView{
		ID:          s.ID(),
		RealmID:     s.RealmID(),
		SubjectKind: string(s.Subject().Kind()),
		SubjectID:   s.Subject().ID(),
		Type:        string(s.Type()),
		Subtype:     string(s.Subtype()),
		Depth:       s.Depth(),
		Content:     s.Content(),
		Rollup:      s.Rollup(),
		Generation:  s.Generation(),
		CreatedAt:   s.CreatedAt(),
	}
}

// ClusterView is the JSON shape of a cluster after a nesting change.
type ClusterView struct {
	ID        string   `json:"id"`
	RealmID   string   `json:"realm_id"`
	Title     string   `json:"title"`
	Type      string   `json:"cluster_type"`
	State     string   `json:"state"`
	Depth     int      `json:"depth"`
	ParentID  string   `json:"parent_id,omitempty"`
	SignalIDs []string `json:"signal_ids"`
	ChildIDs  []string `json:"child_ids"`
	Version   int      `json:"version"`
}

func clusterView(c *entities.Cluster) ClusterView {
	return ClusterView{
		ID:        c.ID(),
		RealmID:   c.RealmID(),
		Title:     c.Title(),
		Type:      string(c.Type()),
		State:     string(c.State()),
		Depth:     c.Depth(),
		ParentID:  c.ParentID(),
		SignalIDs: nonNil(c.SignalIDs()),
		ChildIDs:  nonNil(c.ChildIDs()),
		Version:   c.Version(),
	}
}

// SettingsView wraps a realm's settings with the realm id.
type SettingsView struct {
	RealmID  string                   `json:"realm_id"`
	Settings valueobjects.LLMSettings `json:"settings"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
