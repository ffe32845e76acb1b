package entities

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// Cluster groups signals and, through the hierarchy, other clusters.
// A cluster has at most one parent, so its depth is the length of its ancestor chain.
type Cluster struct {
	id          string
	realmID     string
	title       string
	description string
	clusterType valueobjects.ClusterType
	state       valueobjects.ClusterState
	depth       int
	parentID    string
	signalIDs   []string
	childIDs    []string
	createdAt   time.Time
	updatedAt   time.Time
	version     int
}

// ClusterSnapshot is the persisted form of a Cluster.
type ClusterSnapshot struct {
	ID          string
	RealmID     string
	Title       string
	Description string
	Type        valueobjects.ClusterType
	State       valueobjects.ClusterState
	Depth       int
	ParentID    string
	SignalIDs   []string
	ChildIDs    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
}

// NewCluster creates a root-level draft cluster.
func NewCluster(realmID, title string, clusterType valueobjects.ClusterType) (*Cluster, error) {
	if realmID == "" {
		return nil, pkgerrors.NewValidationError("realm id cannot be empty")
	}
	if strings.TrimSpace(title) == "" {
		return nil, pkgerrors.NewValidationError("cluster title cannot be empty")
	}
	if _, err := valueobjects.ParseClusterType(string(clusterType)); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Cluster{
		id:          valueobjects.NewID(),
		realmID:     realmID,
		title:       title,
		clusterType: clusterType,
		state:       valueobjects.ClusterStateDraft,
		signalIDs:   []string{},
		childIDs:    []string{},
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// ReconstructCluster rebuilds a cluster from storage.
func ReconstructCluster(s ClusterSnapshot) (*Cluster, error) {
	if s.ID == "" || s.RealmID == "" {
		return nil, pkgerrors.NewValidationError("cluster id and realm id are required")
	}
	if _, err := valueobjects.ParseClusterType(string(s.Type)); err != nil {
		return nil, err
	}
	if _, err := valueobjects.ParseClusterState(string(s.State)); err != nil {
		return nil, err
	}
	if s.Depth < 0 || s.Depth > valueobjects.MaxClusterDepth {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("cluster depth %d out of range", s.Depth))
	}
	return &Cluster{
		id:          s.ID,
		realmID:     s.RealmID,
		title:       s.Title,
		description: s.Description,
		clusterType: s.Type,
		state:       s.State,
		depth:       s.Depth,
		parentID:    s.ParentID,
		signalIDs:   slices.Clone(s.SignalIDs),
		childIDs:    slices.Clone(s.ChildIDs),
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
		version:     s.Version,
	}, nil
}

func (c *Cluster) ID() string { return c.id }
func (c *Cluster) RealmID() string { return c.realmID }
func (c *Cluster) Title() string { return c.title }
func (c *Cluster) Description() string { return c.description }
func (c *Cluster) Type() valueobjects.ClusterType { return c.clusterType }
func (c *Cluster) State() valueobjects.ClusterState { return c.state }
func (c *Cluster) Depth() int { return c.depth }
func (c *Cluster) ParentID() string { return c.parentID }
func (c *Cluster) HasParent() bool { return c.parentID != "" }
func (c *Cluster) SignalIDs() []string { return slices.Clone(c.signalIDs) }
func (c *Cluster) ChildIDs() []string { return slices.Clone(c.childIDs) }
func (c *Cluster) CreatedAt() time.Time { return c.createdAt }
func (c *Cluster) UpdatedAt() time.Time { return c.updatedAt }
func (c *Cluster) Version() int { return c.version }

func (c *Cluster) SetDescription(d string) {
	c.description = d
	c.touch()
}

func (c *Cluster) ChangeState(state valueobjects.ClusterState) error {
	if _, err := valueobjects.ParseClusterState(string(state)); err != nil {
		return err
	}
	c.state = state
	c.touch()
	return nil
}

// AddSignal adds a member signal; adding an existing member is a no-op.
func (c *Cluster) AddSignal(signalID string) {
	if slices.Contains(c.signalIDs, signalID) {
		return
	}
	c.signalIDs = append(c.signalIDs, signalID)
	c.touch()
}

// AddChild records childID as a member cluster. Hierarchy rules are checked by the
// hierarchy service before this is called.
func (c *Cluster) AddChild(childID string) {
	if slices.Contains(c.childIDs, childID) {
		return
	}
	c.childIDs = append(c.childIDs, childID)
	c.touch()
}

func (c *Cluster) RemoveChild(childID string) {
	idx := slices.Index(c.childIDs, childID)
	if idx < 0 {
		return
	}
	c.childIDs = slices.Delete(c.childIDs, idx, idx+1)
	c.touch()
}

// Reparent sets the parent and depth. An empty parentID makes the cluster a root.
func (c *Cluster) Reparent(parentID string, depth int) error {
	if depth < 0 || depth > valueobjects.MaxClusterDepth {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("cluster depth %d exceeds maximum %d", depth, valueobjects.MaxClusterDepth))
	}
	if parentID == c.id {
		return pkgerrors.NewValidationError("cluster cannot contain itself")
	}
	c.parentID = parentID
	c.depth = depth
	c.touch()
	return nil
}

// SetDepth updates the depth of a cluster whose ancestor moved.
func (c *Cluster) SetDepth(depth int) error {
	return c.Reparent(c.parentID, depth)
}

// CommitVersion advances the version after a successful write.
func (c *Cluster) CommitVersion() { c.version++ }

func (c *Cluster) Snapshot() ClusterSnapshot {
	return ClusterSnapshot{
		ID:          c.id,
		RealmID:     c.realmID,
		Title:       c.title,
		Description: c.description,
		Type:        c.clusterType,
		State:       c.state,
		Depth:       c.depth,
		ParentID:    c.parentID,
		SignalIDs:   slices.Clone(c.signalIDs),
		ChildIDs:    slices.Clone(c.childIDs),
		CreatedAt:   c.createdAt,
		UpdatedAt:   c.updatedAt,
		Version:     c.version,
	}
}

func (c *Cluster) touch() { c.updatedAt = time.Now().UTC() }
