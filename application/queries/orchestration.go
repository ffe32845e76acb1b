package queries

import (
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// ListReflectionsQuery lists every reflection of a subject.
type ListReflectionsQuery struct {
	SubjectID     string
	SubjectKind   string
	CallerRealmID string
}

func (q ListReflectionsQuery) Validate() error {
	if q.CallerRealmID == "" {
		return pkgerrors.NewForbiddenError("caller has no realm scope")
	}
	_, err := valueobjects.NewSubjectRef(q.SubjectID, q.SubjectKind)
	return err
}

// ListSynthesesQuery lists every synthesis of a subject, oldest first.
type ListSynthesesQuery struct {
	SubjectID     string
	SubjectKind   string
	CallerRealmID string
}

func (q ListSynthesesQuery) Validate() error {
	if q.CallerRealmID == "" {
		return pkgerrors.NewForbiddenError("caller has no realm scope")
	}
	_, err := valueobjects.NewSubjectRef(q.SubjectID, q.SubjectKind)
	return err
}

// GetLLMSettingsQuery reads a realm's AI settings.
type GetLLMSettingsQuery struct {
	RealmID       string
	CallerRealmID string
}

func (q GetLLMSettingsQuery) Validate() error {
	if q.CallerRealmID == "" {
		return pkgerrors.NewForbiddenError("caller has no realm scope")
	}
	if q.RealmID == "" {
		return pkgerrors.NewValidationError("realm_id is required")
	}
	return nil
}
