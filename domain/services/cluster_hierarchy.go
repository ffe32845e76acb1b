package services

import (
	"context"
	"fmt"

	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	pkgerrors "signals-backend/pkg/errors"
)

// ClusterLoader fetches a cluster by id. It must return a NotFound AppError for unknown ids.
type ClusterLoader func(ctx context.Context, id string) (*entities.Cluster, error)

// ClusterHierarchyService keeps the cluster forest acyclic and within the depth ceiling.
// Plans are computed fully before any cluster is touched, so a rejected plan leaves
// every loaded cluster unchanged.
type ClusterHierarchyService struct {
	maxDepth int
}

func NewClusterHierarchyService(cfg *config.DomainConfig) *ClusterHierarchyService {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &ClusterHierarchyService{maxDepth: cfg.MaxClusterDepth}
}

// MaxDepth returns the depth ceiling enforced by this service.
func (s *ClusterHierarchyService) MaxDepth() int { return s.maxDepth }

// subtreeNode is a descendant of the cluster being moved with its depth relative to it.
type subtreeNode struct {
	cluster  *entities.Cluster
	relDepth int
}

// PlanAttach makes child a member of parent and returns every cluster whose stored
// state changes: parent, child, and each descendant of child.
func (s *ClusterHierarchyService) PlanAttach(ctx context.Context, parent, child *entities.Cluster, load ClusterLoader) ([]*entities.Cluster, error) {
	if parent.ID() == child.ID() {
		return nil, pkgerrors.NewValidationError("cluster cannot contain itself")
	}
	if parent.RealmID() != child.RealmID() {
		return nil, pkgerrors.NewValidationError("clusters belong to different realms")
	}
	if child.HasParent() {
		if child.ParentID() == parent.ID() {
			return nil, pkgerrors.NewValidationError("cluster is already a member of this parent")
		}
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("cluster is already nested under %s; detach it first", child.ParentID()))
	}

	if err := s.checkAncestors(ctx, parent, child.ID(), load); err != nil {
		return nil, err
	}

	descendants, height, err := s.subtree(ctx, child, load)
	if err != nil {
		return nil, err
	}
	for _, d := range descendants {
		if d.cluster.ID() == parent.ID() {
			return nil, pkgerrors.NewValidationError("attaching would create a cycle")
		}
	}

	newDepth := parent.Depth() + 1
	if newDepth+height > s.maxDepth {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf(
			"attaching would nest clusters %d levels deep; maximum is %d", newDepth+height, s.maxDepth))
	}

	parent.AddChild(child.ID())
	if err := child.Reparent(parent.ID(), newDepth); err != nil {
		return nil, err
	}
	changed := []*entities.Cluster{parent, child}
	for _, d := range descendants {
		if err := d.cluster.SetDepth(newDepth + d.relDepth); err != nil {
			return nil, err
		}
		changed = append(changed, d.cluster)
	}
	return changed, nil
}

// PlanDetach makes child a root again and returns every cluster whose stored state changes.
func (s *ClusterHierarchyService) PlanDetach(ctx context.Context, child *entities.Cluster, load ClusterLoader) ([]*entities.Cluster, *entities.Cluster, error) {
	if !child.HasParent() {
		return nil, nil, pkgerrors.NewValidationError("cluster is not nested")
	}
	parent, err := load(ctx, child.ParentID())
	if err != nil {
		return nil, nil, err
	}
	descendants, _, err := s.subtree(ctx, child, load)
	if err != nil {
		return nil, nil, err
	}

	parent.RemoveChild(child.ID())
	if err := child.Reparent("", 0); err != nil {
		return nil, nil, err
	}
	changed := []*entities.Cluster{parent, child}
	for _, d := range descendants {
		if err := d.cluster.SetDepth(d.relDepth); err != nil {
			return nil, nil, err
		}
		changed = append(changed, d.cluster)
	}
	return changed, parent, nil
}

// Descendants returns every cluster below root, nearest levels first, and the subtree height.
func (s *ClusterHierarchyService) Descendants(ctx context.Context, root *entities.Cluster, load ClusterLoader) ([]*entities.Cluster, int, error) {
	nodes, height, err := s.subtree(ctx, root, load)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*entities.Cluster, len(nodes))
	for i, n := range nodes {
		out[i] = n.cluster
	}
	return out, height, nil
}

// checkAncestors walks up from start and fails if forbiddenID is among its ancestors.
func (s *ClusterHierarchyService) checkAncestors(ctx context.Context, start *entities.Cluster, forbiddenID string, load ClusterLoader) error {
	cur := start
	for steps := 0; cur.HasParent(); steps++ {
		if cur.ParentID() == forbiddenID {
			return pkgerrors.NewValidationError("attaching would create a cycle")
		}
		if steps > s.maxDepth {
			return pkgerrors.NewValidationError("cluster ancestry exceeds the depth ceiling")
		}
		next, err := load(ctx, cur.ParentID())
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// subtree loads every descendant of root breadth-first and returns them with the height
// of the subtree (0 for a leaf).
func (s *ClusterHierarchyService) subtree(ctx context.Context, root *entities.Cluster, load ClusterLoader) ([]subtreeNode, int, error) {
	visited := map[string]struct{}{root.ID(): {}}
	queue := []subtreeNode{{cluster: root, relDepth: 0}}
	var out []subtreeNode
	height := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		node := queue[0]
		queue = queue[1:]

		for _, childID := range node.cluster.ChildIDs() {
			if _, seen := visited[childID]; seen {
				return nil, 0, pkgerrors.NewValidationError("cluster hierarchy contains a cycle")
			}
			visited[childID] = struct{}{}

			c, err := load(ctx, childID)
			if err != nil {
				return nil, 0, err
			}
			rel := node.relDepth + 1
			if rel > s.maxDepth {
				return nil, 0, pkgerrors.NewValidationError("cluster subtree exceeds the depth ceiling")
			}
			if rel > height {
				height = rel
			}
			next := subtreeNode{cluster: c, relDepth: rel}
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out, height, nil
}
