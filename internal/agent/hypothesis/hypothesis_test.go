package hypothesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposeBuildsTree(t *testing.T) {
	e := NewEngine(DefaultConfig())

	root, err := e.Propose("checkout latency is elevated", CategoryUnknown, 5, "")
	require.NoError(t, err)
	assert.Equal(t, 0, root.Depth)

	child, err := e.Propose("orders-db is saturated", CategoryCapacity, 7, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, root.ID, child.ParentID)
}

func TestProposeRejectsBeyondMaxDepth(t *testing.T) {
	e := NewEngine(Config{MaxDepth: 1})

	root, err := e.Propose("root", CategoryUnknown, 5, "")
	require.NoError(t, err)
	child, err := e.Propose("child", CategoryUnknown, 5, root.ID)
	require.NoError(t, err)

	_, err = e.Propose("grandchild", CategoryUnknown, 5, child.ID)
	assert.ErrorIs(t, err, ErrDepthExceeded)
}

func TestPruneCascadesAndIsTerminal(t *testing.T) {
	e := NewEngine(DefaultConfig())

	root, _ := e.Propose("root", CategoryUnknown, 5, "")
	mid, _ := e.Propose("network issue", CategoryInfrastructure, 5, root.ID)
	leaf, _ := e.Propose("switch port flapping", CategoryInfrastructure, 5, mid.ID)

	require.NoError(t, e.Prune(mid.ID, "no corroborating evidence"))

	got, err := e.Get(leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPruned, got.Status)

	// Pruned subtrees never re-open
	assert.ErrorIs(t, e.AttachEvidence(leaf.ID, StrengthStrong, "late evidence", nil), ErrIllegalState)
	_, err = e.Propose("new child under pruned", CategoryUnknown, 5, mid.ID)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestConfirmIsExclusive(t *testing.T) {
	e := NewEngine(DefaultConfig())

	root, _ := e.Propose("root", CategoryUnknown, 5, "")
	a, _ := e.Propose("orders-db pool exhausted", CategoryCapacity, 5, root.ID)
	b, _ := e.Propose("checkout-api leaking goroutines", CategoryCapacity, 5, root.ID)

	require.NoError(t, e.Confirm(a.ID, []Evidence{{Strength: StrengthStrong, Content: "pool at 20/20"}}))

	assert.ErrorIs(t, e.Confirm(b.ID, nil), ErrIllegalState)

	confirmed, ok := e.Confirmed()
	require.True(t, ok)
	assert.Equal(t, a.ID, confirmed.ID)
	assert.True(t, e.IsComplete())
}

func TestFrontierOrderingAndFiltering(t *testing.T) {
	e := NewEngine(DefaultConfig())

	root, _ := e.Propose("root", CategoryUnknown, 1, "")
	low, _ := e.Propose("low priority", CategoryExternal, 2, root.ID)
	high, _ := e.Propose("high priority", CategoryDeployment, 9, root.ID)
	strong, _ := e.Propose("already evidenced", CategoryCapacity, 5, root.ID)
	require.NoError(t, e.AttachEvidence(strong.ID, StrengthStrong, "clear signal", nil))

	frontier := e.Frontier()
	require.Len(t, frontier, 2)
	assert.Equal(t, high.ID, frontier[0].ID)
	assert.Equal(t, low.ID, frontier[1].ID)

	// A node with active children is interior, not frontier
	_, err := e.Propose("refined child", CategoryDeployment, 5, high.ID)
	require.NoError(t, err)
	frontier = e.Frontier()
	for _, node := range frontier {
		assert.NotEqual(t, high.ID, node.ID)
	}
}

func TestFrontierContainsOnlyActiveLineage(t *testing.T) {
	e := NewEngine(DefaultConfig())

	root, _ := e.Propose("root", CategoryUnknown, 5, "")
	branch, _ := e.Propose("dependency failure", CategoryDependency, 5, root.ID)
	_, _ = e.Propose("cache cluster down", CategoryDependency, 5, branch.ID)
	require.NoError(t, e.Prune(branch.ID, "ruled out"))

	for _, node := range e.Frontier() {
		assert.Equal(t, StatusActive, node.Status)
		for parent := node.ParentID; parent != ""; {
			p, err := e.Get(parent)
			require.NoError(t, err)
			assert.Equal(t, StatusActive, p.Status)
			parent = p.ParentID
		}
	}
}

func TestDecidePolicy(t *testing.T) {
	e := NewEngine(DefaultConfig())
	root, _ := e.Propose("root", CategoryUnknown, 5, "")

	specific, _ := e.Propose("orders-db connection pool is exhausted", CategoryCapacity, 5, root.ID)
	require.NoError(t, e.AttachEvidence(specific.ID, StrengthStrong, "pool at max", nil))
	action, err := e.Decide(specific.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionConfirm, action)

	vague, _ := e.Propose("a database somewhere is overloaded", CategoryCapacity, 5, root.ID)
	require.NoError(t, e.AttachEvidence(vague.ID, StrengthStrong, "db metrics degraded", nil))
	action, err = e.Decide(vague.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionBranch, action)

	weak, _ := e.Propose("dns resolution slow", CategoryInfrastructure, 5, root.ID)
	require.NoError(t, e.AttachEvidence(weak.ID, StrengthWeak, "one slow lookup", nil))
	action, err = e.Decide(weak.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionKeep, action)

	dead, _ := e.Propose("disk full on checkout hosts", CategoryInfrastructure, 5, root.ID)
	require.NoError(t, e.AttachEvidence(dead.ID, StrengthContradicting, "disk usage at 30%", nil))
	action, err = e.Decide(dead.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionPrune, action)
}

func TestIsCompleteAtDepthBudget(t *testing.T) {
	e := NewEngine(Config{MaxDepth: 1})

	root, _ := e.Propose("root", CategoryUnknown, 5, "")
	leaf, _ := e.Propose("leaf at limit", CategoryUnknown, 5, root.ID)
	_ = leaf

	// Frontier is non-empty but every node sits at the depth limit
	assert.NotEmpty(t, e.Frontier())
	assert.True(t, e.IsComplete())
}

func TestIsSpecific(t *testing.T) {
	assert.True(t, IsSpecific("orders-db connection pool is exhausted"))
	assert.True(t, IsSpecific("Payments.svc is rejecting writes"))
	assert.False(t, IsSpecific("a database is overloaded"))
	assert.False(t, IsSpecific("something upstream is failing"))
}
