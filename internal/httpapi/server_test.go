package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ringkv/ringkv/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *node.Node) {
	t.Helper()
	n, err := node.New(node.Config{
		NodeID:            "n1",
		BindAddress:       "127.0.0.1:0",
		ReplicationFactor: 3,
		VirtualNodes:      10,
	}, zap.NewNop())
	require.NoError(t, err)
	n.Start()
	t.Cleanup(n.Stop)

	s := NewServer(ServerConfig{}, n, zap.NewNop())
	return s, n
}

func TestServer_PutThenGet(t *testing.T) {
	s, _ := newTestServer(t)

	putBody := `{"value":"hello"}`
	req := httptest.NewRequest(http.MethodPut, "/data/k1", bytes.NewBufferString(putBody))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var putResp putResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &putResp))
	// one node on the ring with R=3: Q=2 but only the local write lands, so
	// the write is reported as a partial success in a 200 body.
	assert.False(t, putResp.Success)
	assert.False(t, putResp.QuorumAchieved)

	getReq := httptest.NewRequest(http.MethodGet, "/data/k1", nil)
	getW := httptest.NewRecorder()
	s.Router().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)

	var getResp getResponse
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &getResp))
	assert.Equal(t, `"hello"`, string(getResp.Value))
}

func TestServer_GetMissingReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/missing", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_PutInvalidBodyIs400(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/data/k1", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Health(t *testing.T) {
	s, n := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, n.ID(), resp.NodeID)
	assert.True(t, resp.IsAlive)
}

func TestServer_ClusterStatus(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cluster/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp clusterStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "n1", resp.LocalNode)
	assert.Equal(t, 1, resp.TotalNodes)
	assert.Equal(t, 3, resp.ReplicationFactor)
}

func TestServer_ClusterRing(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cluster/ring", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp clusterRingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.VirtualNodes)
	assert.Equal(t, 10, resp.RingSize)
}

func TestServer_ClusterDistribution_SampledWhenEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cluster/distribution", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var dist map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dist))
	assert.Len(t, dist, 10)
}

func TestServer_AddNode(t *testing.T) {
	s, n := newTestServer(t)

	body := `{"nodeId":"n2","address":"127.0.0.1:9999"}`
	req := httptest.NewRequest(http.MethodPost, "/cluster/nodes", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, n.Ring.Members(), "n2")
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
