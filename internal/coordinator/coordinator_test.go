package coordinator

import (
	"context"
	"testing"

	"github.com/ringkv/ringkv/internal/metrics"
	"github.com/ringkv/ringkv/internal/peer"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/ringerr"
	"github.com/ringkv/ringkv/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuorum(t *testing.T) {
	assert.Equal(t, 1, Quorum(1))
	assert.Equal(t, 2, Quorum(2))
	assert.Equal(t, 2, Quorum(3))
	assert.Equal(t, 3, Quorum(4))
	assert.Equal(t, 3, Quorum(5))
}

func newSingleNodeCoordinator(t *testing.T, nodeID string) (*Coordinator, *ring.Ring) {
	t.Helper()
	r := ring.New(10)
	r.AddNode(nodeID)
	eng := store.NewInMemoryEngine()
	table := peer.NewTable()
	m := metrics.New(t.Name())
	c := New(nodeID, eng, r, table, 3, m, zap.NewNop())
	return c, r
}

func TestCoordinator_Put_EmptyRing(t *testing.T) {
	eng := store.NewInMemoryEngine()
	r := ring.New(10)
	table := peer.NewTable()
	m := metrics.New("empty-ring-put")
	c := New("n1", eng, r, table, 3, m, zap.NewNop())

	_, err := c.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Equal(t, ringerr.RingEmpty, ringerr.CodeOf(err))
}

func TestCoordinator_Put_SingleNodeBelowQuorumFails(t *testing.T) {
	// R=3 but only one node is on the ring: Q=2, only 1 write lands, so
	// quorum is not achieved even though the local write itself succeeds.
	c, _ := newSingleNodeCoordinator(t, "n1")

	result, err := c.Put(context.Background(), "k1", []byte("v1"))
	require.Error(t, err)
	assert.Equal(t, ringerr.QuorumNotAchieved, ringerr.CodeOf(err))
	assert.False(t, result.QuorumAchieved)
	assert.Equal(t, 2, result.Required)
	assert.Equal(t, 1, result.Achieved)
}

func TestCoordinator_Get_AfterPut_SingleNode(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t, "n1")

	// Quorum is not achieved (R=3, only one node on the ring), but the
	// local write still lands and stays, per the no-rollback rule.
	_, err := c.Put(context.Background(), "k1", []byte("v1"))
	require.Error(t, err)

	got, err := c.Get(context.Background(), "k1", GetOptions{})
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, []byte("v1"), got.Record.Value)
}

func TestCoordinator_Get_NotFound(t *testing.T) {
	c, _ := newSingleNodeCoordinator(t, "n1")

	_, err := c.Get(context.Background(), "missing", GetOptions{})
	require.Error(t, err)
	assert.Equal(t, ringerr.NotFound, ringerr.CodeOf(err))
}

func TestCoordinator_Put_LocalWriteSucceedsEvenWithoutQuorum(t *testing.T) {
	// R=3 but the ring only has one node; the local write still succeeds
	// even though quorum (2) is not reached with only 1 write landing.
	c, _ := newSingleNodeCoordinator(t, "n1")

	result, err := c.Put(context.Background(), "k1", []byte("v1"))
	require.Error(t, err)
	assert.Equal(t, OutcomeSuccess, result.Replicas[0].Outcome)
}

func TestCoordinator_Put_UnreachablePeerTaggedNotConnected(t *testing.T) {
	eng := store.NewInMemoryEngine()
	r := ring.New(10)
	r.AddNode("n1")
	r.AddNode("n2") // never registered in the table -> not_connected
	table := peer.NewTable()
	m := metrics.New("not-connected-put")
	c := New("n1", eng, r, table, 3, m, zap.NewNop())

	result, err := c.Put(context.Background(), "k1", []byte("v1"))
	require.Error(t, err) // quorum(2)=2, only the local replica succeeds

	foundNotConnected := false
	for _, rr := range result.Replicas {
		if rr.NodeID == "n2" {
			assert.Equal(t, OutcomeNotConnected, rr.Outcome)
			foundNotConnected = true
		}
	}
	assert.True(t, foundNotConnected)
}

func TestCoordinator_Put_QuorumNotAchievedWhenPeersUnreachable(t *testing.T) {
	eng := store.NewInMemoryEngine()
	r := ring.New(10)
	r.AddNode("n1")
	r.AddNode("n2")
	table := peer.NewTable()
	m := metrics.New("quorum-fail-put")
	c := New("n1", eng, r, table, 3, m, zap.NewNop())

	_, err := c.Put(context.Background(), "k1", []byte("v1"))
	require.Error(t, err)
	assert.Equal(t, ringerr.QuorumNotAchieved, ringerr.CodeOf(err))
}
