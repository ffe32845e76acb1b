package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

type clusterSet map[string]*entities.Cluster

func (cs clusterSet) load(_ context.Context, id string) (*entities.Cluster, error) {
	c, ok := cs[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("cluster")
	}
	return c, nil
}

func newTestCluster(t *testing.T, realmID, title string) *entities.Cluster {
	t.Helper()
	c, err := entities.NewCluster(realmID, title, valueobjects.ClusterTypeThematic)
	require.NoError(t, err)
	return c
}

// chain builds n clusters nested one inside the next and returns them root first.
func chain(t *testing.T, svc *ClusterHierarchyService, cs clusterSet, realmID string, n int) []*entities.Cluster {
	t.Helper()
	var out []*entities.Cluster
	for i := 0; i < n; i++ {
		c := newTestCluster(t, realmID, "c")
		cs[c.ID()] = c
		if i > 0 {
			_, err := svc.PlanAttach(context.Background(), out[i-1], c, cs.load)
			require.NoError(t, err)
		}
		out = append(out, c)
	}
	return out
}

func TestPlanAttach_SetsDepthAndMembership(t *testing.T) {
	svc := NewClusterHierarchyService(config.DefaultDomainConfig())
	cs := clusterSet{}
	parent := newTestCluster(t, "r1", "parent")
	child := newTestCluster(t, "r1", "child")
	grandchild := newTestCluster(t, "r1", "grandchild")
	cs[parent.ID()], cs[child.ID()], cs[grandchild.ID()] = parent, child, grandchild

	_, err := svc.PlanAttach(context.Background(), child, grandchild, cs.load)
	require.NoError(t, err)
	assert.Equal(t, 1, grandchild.Depth())

	changed, err := svc.PlanAttach(context.Background(), parent, child, cs.load)
	require.NoError(t, err)
	assert.Len(t, changed, 3)
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, 2, grandchild.Depth())
	assert.Equal(t, parent.ID(), child.ParentID())
	assert.Contains(t, parent.ChildIDs(), child.ID())
}

func TestPlanAttach_RejectsCycle(t *testing.T) {
	svc := NewClusterHierarchyService(config.DefaultDomainConfig())
	cs := clusterSet{}
	nodes := chain(t, svc, cs, "r1", 3)
	root, leaf := nodes[0], nodes[2]
	before := leaf.Snapshot()
	rootBefore := root.Snapshot()

	_, err := svc.PlanAttach(context.Background(), leaf, root, cs.load)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, before, leaf.Snapshot())
	assert.Equal(t, rootBefore, root.Snapshot())
}

func TestPlanAttach_RejectsSelf(t *testing.T) {
	svc := NewClusterHierarchyService(nil)
	c := newTestCluster(t, "r1", "self")
	_, err := svc.PlanAttach(context.Background(), c, c, clusterSet{c.ID(): c}.load)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestPlanAttach_DepthCeiling(t *testing.T) {
	svc := NewClusterHierarchyService(config.DefaultDomainConfig())
	cs := clusterSet{}

	// depths 0..10: the deepest allowed chain
	nodes := chain(t, svc, cs, "r1", valueobjects.MaxClusterDepth+1)
	deepest := nodes[len(nodes)-1]
	assert.Equal(t, valueobjects.MaxClusterDepth, deepest.Depth())

	extra := newTestCluster(t, "r1", "too deep")
	cs[extra.ID()] = extra
	deepestBefore := deepest.Snapshot()

	_, err := svc.PlanAttach(context.Background(), deepest, extra, cs.load)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, 0, extra.Depth())
	assert.False(t, extra.HasParent())
	assert.Equal(t, deepestBefore, deepest.Snapshot())
}

func TestPlanAttach_SubtreeHeightCounts(t *testing.T) {
	svc := NewClusterHierarchyService(config.DefaultDomainConfig())
	cs := clusterSet{}

	upper := chain(t, svc, cs, "r1", 6) // depths 0..5
	lower := chain(t, svc, cs, "r1", 6) // separate tree of height 5

	// 5 + 1 + 5 = 11 levels
	_, err := svc.PlanAttach(context.Background(), upper[5], lower[0], cs.load)
	assert.True(t, pkgerrors.IsValidation(err))

	// 4 + 1 + 5 = 10 levels
	_, err = svc.PlanAttach(context.Background(), upper[4], lower[0], cs.load)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.MaxClusterDepth, lower[5].Depth())
}

func TestPlanAttach_AlreadyNested(t *testing.T) {
	svc := NewClusterHierarchyService(nil)
	cs := clusterSet{}
	nodes := chain(t, svc, cs, "r1", 2)
	other := newTestCluster(t, "r1", "other")
	cs[other.ID()] = other

	_, err := svc.PlanAttach(context.Background(), other, nodes[1], cs.load)
	assert.True(t, pkgerrors.IsValidation(err))
	_, err = svc.PlanAttach(context.Background(), nodes[0], nodes[1], cs.load)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestPlanAttach_CrossRealm(t *testing.T) {
	svc := NewClusterHierarchyService(nil)
	a := newTestCluster(t, "r1", "a")
	b := newTestCluster(t, "r2", "b")
	_, err := svc.PlanAttach(context.Background(), a, b, clusterSet{a.ID(): a, b.ID(): b}.load)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestPlanDetach(t *testing.T) {
	svc := NewClusterHierarchyService(nil)
	cs := clusterSet{}
	nodes := chain(t, svc, cs, "r1", 3)

	changed, parent, err := svc.PlanDetach(context.Background(), nodes[1], cs.load)
	require.NoError(t, err)
	assert.Equal(t, nodes[0].ID(), parent.ID())
	assert.Len(t, changed, 3)
	assert.Equal(t, 0, nodes[1].Depth())
	assert.Equal(t, 1, nodes[2].Depth())
	assert.NotContains(t, nodes[0].ChildIDs(), nodes[1].ID())

	_, _, err = svc.PlanDetach(context.Background(), nodes[0], cs.load)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestDescendants(t *testing.T) {
	svc := NewClusterHierarchyService(nil)
	cs := clusterSet{}
	nodes := chain(t, svc, cs, "r1", 4)

	desc, height, err := svc.Descendants(context.Background(), nodes[0], cs.load)
	require.NoError(t, err)
	assert.Len(t, desc, 3)
	assert.Equal(t, 3, height)
	assert.Equal(t, nodes[1].ID(), desc[0].ID())
}
