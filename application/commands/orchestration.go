package commands

import (
	"strings"

	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// RunAnalysisCommand extracts analysis fields for one signal.
type RunAnalysisCommand struct {
	SignalID      string `json:"signal_id"`
	CallerRealmID string `json:"-"`
	AccountID     string `json:"account_id,omitempty"`
}

func (c RunAnalysisCommand) Validate() error {
	if err := requireRealm(c.CallerRealmID); err != nil {
		return err
	}
	return valueobjects.ValidateID("signal_id", c.SignalID)
}

// RunReflectionCommand generates a reflection of one type for a subject.
type RunReflectionCommand struct {
	SubjectID      string `json:"subject_id"`
	SubjectKind    string `json:"subject_kind"`
	ReflectionType string `json:"reflection_type"`
	CallerRealmID  string `json:"-"`
	AccountID      string `json:"account_id,omitempty"`
}

func (c RunReflectionCommand) Validate() error {
	if err := requireRealm(c.CallerRealmID); err != nil {
		return err
	}
	if _, err := valueobjects.NewSubjectRef(c.SubjectID, c.SubjectKind); err != nil {
		return err
	}
	_, err := valueobjects.ParseReflectionType(c.ReflectionType)
	return err
}

// RunSynthesisCommand creates a new synthesis record for a subject.
type RunSynthesisCommand struct {
	SubjectID     string `json:"subject_id"`
	SubjectKind   string `json:"subject_kind"`
	Type          string `json:"type"`
	Subtype       string `json:"subtype"`
	CallerRealmID string `json:"-"`
	AccountID     string `json:"account_id,omitempty"`
}

func (c RunSynthesisCommand) Validate() error {
	if err := requireRealm(c.CallerRealmID); err != nil {
		return err
	}
	if _, _, err := valueobjects.ParseSynthesisKind(c.Type, c.Subtype); err != nil {
		return err
	}
	_, err := valueobjects.NewSubjectRef(c.SubjectID, c.SubjectKind)
	return err
}

// UpdateLLMSettingsCommand replaces a realm's AI settings.
type UpdateLLMSettingsCommand struct {
	RealmID       string                   `json:"realm_id"`
	CallerRealmID string                   `json:"-"`
	Settings      valueobjects.LLMSettings `json:"settings"`
}

func (c UpdateLLMSettingsCommand) Validate() error {
	if err := requireRealm(c.CallerRealmID); err != nil {
		return err
	}
	if strings.TrimSpace(c.RealmID) == "" {
		return pkgerrors.NewValidationError("realm_id is required")
	}
	return c.Settings.Validate()
}

// AttachClusterCommand nests ChildID under ParentID.
type AttachClusterCommand struct {
	ParentID      string `json:"parent_id"`
	ChildID       string `json:"child_id"`
	CallerRealmID string `json:"-"`
}

func (c AttachClusterCommand) Validate() error {
	if err := requireRealm(c.CallerRealmID); err != nil {
		return err
	}
	if err := valueobjects.ValidateID("parent_id", c.ParentID); err != nil {
		return err
	}
	return valueobjects.ValidateID("child_id", c.ChildID)
}

// DetachClusterCommand makes a nested cluster a root again.
type DetachClusterCommand struct {
	ClusterID     string `json:"cluster_id"`
	CallerRealmID string `json:"-"`
}

func (c DetachClusterCommand) Validate() error {
	if err := requireRealm(c.CallerRealmID); err != nil {
		return err
	}
	return valueobjects.ValidateID("cluster_id", c.ClusterID)
}

// AnnotateReflectionCommand appends a note to a reflection.
type AnnotateReflectionCommand struct {
	ReflectionID  string `json:"reflection_id"`
	Author        string `json:"-"`
	Note          string `json:"note"`
	CallerRealmID string `json:"-"`
}

func (c AnnotateReflectionCommand) Validate() error {
	if err := requireRealm(c.CallerRealmID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Note) == "" {
		return pkgerrors.NewValidationError("note cannot be empty")
	}
	return valueobjects.ValidateID("reflection_id", c.ReflectionID)
}

func requireRealm(realmID string) error {
	if realmID == "" {
		return pkgerrors.NewForbiddenError("caller has no realm scope")
	}
	return nil
}
