package entities

import (
	"slices"
	"strings"
	"time"

	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// GenerationRecord is one entry of a reflection's audit log, or the provenance of a synthesis.
// Exactly one of Response and Error is set.
type GenerationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	Tokens    int       `json:"tokens"`
	Attempts  int       `json:"attempts"`
}

// Succeeded reports whether the generation produced a response.
func (g GenerationRecord) Succeeded() bool { return g.Error == "" }

// Annotation is a user note attached to a reflection, independent of its history.
type Annotation struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Reflection is the single current narrative for a (subject, reflection type) pair.
// History only grows; content only changes when a generation succeeds.
type Reflection struct {
	id             string
	realmID        string
	subject        valueobjects.SubjectRef
	reflectionType valueobjects.ReflectionType
	content        string
	history        []GenerationRecord
	annotations    []Annotation
	createdAt      time.Time
	updatedAt      time.Time
	version        int

	// committedHistory is how many history entries are already stored.
	committedHistory int
}

// ReflectionSnapshot is the persisted form of a Reflection.
type ReflectionSnapshot struct {
	ID          string
	RealmID     string
	Subject     valueobjects.SubjectRef
	Type        valueobjects.ReflectionType
	Content     string
	History     []GenerationRecord
	Annotations []Annotation
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
}

// NewReflection creates an empty reflection for subject.
func NewReflection(realmID string, subject valueobjects.SubjectRef, t valueobjects.ReflectionType) (*Reflection, error) {
	if realmID == "" {
		return nil, pkgerrors.NewValidationError("realm id cannot be empty")
	}
	if subject.IsZero() {
		return nil, pkgerrors.NewValidationError("reflection subject is required")
	}
	if _, err := valueobjects.ParseReflectionType(string(t)); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Reflection{
		id:             valueobjects.NewID(),
		realmID:        realmID,
		subject:        subject,
		reflectionType: t,
		history:        []GenerationRecord{},
		annotations:    []Annotation{},
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// ReconstructReflection rebuilds a reflection from storage.
func ReconstructReflection(s ReflectionSnapshot) (*Reflection, error) {
	if s.ID == "" || s.RealmID == "" || s.Subject.IsZero() {
		return nil, pkgerrors.NewValidationError("reflection id, realm id and subject are required")
	}
	if _, err := valueobjects.ParseReflectionType(string(s.Type)); err != nil {
		return nil, err
	}
	return &Reflection{
		id:             s.ID,
		realmID:        s.RealmID,
		subject:        s.Subject,
		reflectionType: s.Type,
		content:        s.Content,
		history:        slices.Clone(s.History),
		annotations:    slices.Clone(s.Annotations),
		createdAt:      s.CreatedAt,
		updatedAt:      s.UpdatedAt,
		version:        s.Version,

		committedHistory: len(s.History),
	}, nil
}

func (r *Reflection) ID() string { return r.id }
func (r *Reflection) RealmID() string { return r.realmID }
func (r *Reflection) Subject() valueobjects.SubjectRef { return r.subject }
func (r *Reflection) Type() valueobjects.ReflectionType { return r.reflectionType }
func (r *Reflection) Content() string { return r.content }
func (r *Reflection) History() []GenerationRecord { return slices.Clone(r.history) }
func (r *Reflection) HistoryLen() int { return len(r.history) }
func (r *Reflection) Annotations() []Annotation { return slices.Clone(r.annotations) }
func (r *Reflection) CreatedAt() time.Time { return r.createdAt }
func (r *Reflection) UpdatedAt() time.Time { return r.updatedAt }
func (r *Reflection) Version() int { return r.version }
func (r *Reflection) IsNew() bool { return r.version == 0 }

// LastGeneration returns the most recent history entry, if any.
func (r *Reflection) LastGeneration() (GenerationRecord, bool) {
	if len(r.history) == 0 {
		return GenerationRecord{}, false
	}
	return r.history[len(r.history)-1], true
}

// RecordGeneration appends rec to the history. A successful record also replaces content.
func (r *Reflection) RecordGeneration(rec GenerationRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Succeeded() {
		rec.Error = ""
		r.content = rec.Response
	} else {
		rec.Response = ""
	}
	r.history = append(r.history, rec)
	r.updatedAt = rec.Timestamp
}

// AddAnnotation attaches a user note. Notes never touch content or history.
func (r *Reflection) AddAnnotation(author, note string, maxLen int) (Annotation, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return Annotation{}, pkgerrors.NewValidationError("annotation cannot be empty")
	}
	if maxLen > 0 && len(note) > maxLen {
		return Annotation{}, pkgerrors.NewValidationError("annotation is too long")
	}
	a := Annotation{
		ID:        valueobjects.NewID(),
		Author:    author,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	r.annotations = append(r.annotations, a)
	r.updatedAt = a.CreatedAt
	return a, nil
}

// UncommittedHistory returns the entries recorded since the last commit, with the
// history index of the first one.
func (r *Reflection) UncommittedHistory() (int, []GenerationRecord) {
	return r.committedHistory, slices.Clone(r.history[r.committedHistory:])
}

// CommitVersion advances the version after a successful write.
func (r *Reflection) CommitVersion() {
	r.version++
	r.committedHistory = len(r.history)
}

func (r *Reflection) Snapshot() ReflectionSnapshot {
	return ReflectionSnapshot{
		ID:          r.id,
		RealmID:     r.realmID,
		Subject:     r.subject,
		Type:        r.reflectionType,
		Content:     r.content,
		History:     slices.Clone(r.history),
		Annotations: slices.Clone(r.annotations),
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
		Version:     r.version,
	}
}
