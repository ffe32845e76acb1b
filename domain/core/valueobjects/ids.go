package valueobjects

import (
	"github.com/google/uuid"

	pkgerrors "signals-backend/pkg/errors"
)

// NewID returns a fresh random identifier for realms, signals, clusters, reflections and syntheses.
func NewID() string {
	return uuid.New().String()
}

// ValidateID checks that id is a well-formed UUID. field names the offending input in the error.
func ValidateID(field, id string) error {
	if id == "" {
		return pkgerrors.NewValidationError(field + " cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return pkgerrors.NewValidationError(field + " must be a valid UUID")
	}
	return nil
}
