package valueobjects

import (
	"fmt"
	"strings"

	pkgerrors "signals-backend/pkg/errors"
)

// SubjectKind is the closed set of entity kinds a reflection or synthesis may be attached to.
type SubjectKind string

const (
	SubjectKindSignal  SubjectKind = "Signal"
	SubjectKindCluster SubjectKind = "Cluster"
)

// ParseSubjectKind accepts the canonical names case-insensitively.
func ParseSubjectKind(s string) (SubjectKind, error) {
	switch {
	case strings.EqualFold(s, string(SubjectKindSignal)):
		return SubjectKindSignal, nil
	case strings.EqualFold(s, string(SubjectKindCluster)):
		return SubjectKindCluster, nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown subject kind %q", s))
	}
}

// SubjectRef is a typed reference to either a Signal or a Cluster.
// The zero value is invalid; construct it with SignalSubject, ClusterSubject or NewSubjectRef.
type SubjectRef struct {
	kind SubjectKind
	id   string
}

func SignalSubject(id string) SubjectRef { return SubjectRef{kind: SubjectKindSignal, id: id} }
func ClusterSubject(id string) SubjectRef { return SubjectRef{kind: SubjectKindCluster, id: id} }

// NewSubjectRef validates an untyped (id, kind) pair from an inbound request.
func NewSubjectRef(id, kind string) (SubjectRef, error) {
	k, err := ParseSubjectKind(kind)
	if err != nil {
		return SubjectRef{}, err
	}
	if strings.TrimSpace(id) == "" {
		return SubjectRef{}, pkgerrors.NewValidationError("subject id cannot be empty")
	}
	return SubjectRef{kind: k, id: id}, nil
}

func (r SubjectRef) Kind() SubjectKind { return r.kind }
func (r SubjectRef) ID() string { return r.id }
func (r SubjectRef) IsZero() bool { return r.kind == "" && r.id == "" }

// Key is the canonical string form, used for locking and storage partition keys.
func (r SubjectRef) Key() string {
	return string(r.kind) + "#" + r.id
}

func (r SubjectRef) String() string {
	return fmt.Sprintf("%s(%s)", r.kind, r.id)
}

func (r SubjectRef) Equals(other SubjectRef) bool {
	return r.kind == other.kind && r.id == other.id
}
