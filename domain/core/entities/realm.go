package entities

import (
	"strings"
	"time"

	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// Realm is the tenant boundary. It owns the LLM settings used by every AI operation in it.
type Realm struct {
	id        string
	name      string
	settings  valueobjects.LLMSettings
	createdAt time.Time
	updatedAt time.Time
	version   int
}

// RealmSnapshot is the persisted form of a Realm.
type RealmSnapshot struct {
	ID        string
	Name      string
	Settings  valueobjects.LLMSettings
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// NewRealm creates a realm with empty settings.
func NewRealm(name string) (*Realm, error) {
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.NewValidationError("realm name cannot be empty")
	}
	now := time.Now().UTC()
	return &Realm{
		id:        valueobjects.NewID(),
		name:      name,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructRealm rebuilds a realm from storage. Stored settings are re-validated so a
// corrupted blob can never reach account resolution.
func ReconstructRealm(s RealmSnapshot) (*Realm, error) {
	if s.ID == "" {
		return nil, pkgerrors.NewValidationError("realm id cannot be empty")
	}
	if err := s.Settings.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "stored realm settings")
	}
	return &Realm{
		id:        s.ID,
		name:      s.Name,
		settings:  s.Settings.Clone(),
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
		version:   s.Version,
	}, nil
}

func (r *Realm) ID() string { return r.id }
func (r *Realm) Name() string { return r.name }
func (r *Realm) CreatedAt() time.Time { return r.createdAt }
func (r *Realm) UpdatedAt() time.Time { return r.updatedAt }
func (r *Realm) Version() int { return r.version }

// Settings returns a copy of the current settings.
func (r *Realm) Settings() valueobjects.LLMSettings { return r.settings.Clone() }

// ReplaceSettings swaps the whole settings blob after validating it.
func (r *Realm) ReplaceSettings(s valueobjects.LLMSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.settings = s.Clone()
	r.updatedAt = time.Now().UTC()
	return nil
}

// CommitVersion advances the version after a successful write.
func (r *Realm) CommitVersion() { r.version++ }

func (r *Realm) Snapshot() RealmSnapshot {
	return RealmSnapshot{
		ID:        r.id,
		Name:      r.name,
		Settings:  r.settings.Clone(),
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
		Version:   r.version,
	}
}
