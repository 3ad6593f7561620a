package peer

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func liveLinkPair(t *testing.T) (client, server *Link) {
	t.Helper()
	c1, c2 := net.Pipe()
	logger := zap.NewNop()
	client = NewLink(c1, "client-node", newEchoHandler("client-node", ""), logger)
	server = NewLink(c2, "server-node", newEchoHandler("server-node", "addr"), logger)
	_, err := client.Identify(context.Background(), "addr")
	require.NoError(t, err)
	client.MarkLive()
	return client, server
}

func TestTable_GetMissingIsNotConnected(t *testing.T) {
	tbl := NewTable()
	_, ok := tbl.Get("nowhere")
	assert.False(t, ok)
}

func TestTable_SetAndGet(t *testing.T) {
	client, server := liveLinkPair(t)
	defer server.Close()

	tbl := NewTable()
	tbl.Set("server-node", client)

	got, ok := tbl.Get("server-node")
	require.True(t, ok)
	assert.Same(t, client, got)
}

func TestTable_GetNonLiveIsNotConnected(t *testing.T) {
	c1, c2 := net.Pipe()
	logger := zap.NewNop()
	link := NewLink(c1, "client-node", newEchoHandler("client-node", ""), logger)
	defer c2.Close()
	defer link.Close()

	tbl := NewTable()
	tbl.Set("server-node", link) // still StateConnecting, never identified

	_, ok := tbl.Get("server-node")
	assert.False(t, ok)
}

func TestTable_RemoveClosesLink(t *testing.T) {
	client, server := liveLinkPair(t)
	defer server.Close()

	tbl := NewTable()
	tbl.Set("server-node", client)
	tbl.Remove("server-node")

	_, ok := tbl.Get("server-node")
	assert.False(t, ok)
	assert.Equal(t, StateClosed, client.State())
}

func TestTable_SetReplacesAndClosesOld(t *testing.T) {
	client1, server1 := liveLinkPair(t)
	defer server1.Close()
	client2, server2 := liveLinkPair(t)
	defer server2.Close()

	tbl := NewTable()
	tbl.Set("server-node", client1)
	tbl.Set("server-node", client2)

	assert.Equal(t, StateClosed, client1.State())
	got, ok := tbl.Get("server-node")
	require.True(t, ok)
	assert.Same(t, client2, got)
}

func TestTable_Nodes(t *testing.T) {
	client, server := liveLinkPair(t)
	defer server.Close()

	tbl := NewTable()
	tbl.Set("server-node", client)

	assert.Equal(t, []string{"server-node"}, tbl.Nodes())
}
