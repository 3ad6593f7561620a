package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ringkv/ringkv/internal/coordinator"
	"github.com/ringkv/ringkv/internal/node"
	"github.com/ringkv/ringkv/internal/ringerr"
)

// Handlers implements every endpoint in SPEC_FULL.md §6 against one Node.
type Handlers struct {
	node *node.Node
}

func newHandlers(n *node.Node) *Handlers {
	return &Handlers{node: n}
}

type putRequest struct {
	Value json.RawMessage `json:"value"`
}

type replicaResultDTO struct {
	NodeID  string `json:"nodeId"`
	Outcome string `json:"outcome"`
}

type putResponse struct {
	Success          bool               `json:"success"`
	Key              string             `json:"key"`
	ReplicaNodes     []string           `json:"replicaNodes"`
	SuccessfulWrites int                `json:"successfulWrites"`
	QuorumSize       int                `json:"quorumSize"`
	QuorumAchieved   bool               `json:"quorumAchieved"`
	WriteResults     []replicaResultDTO `json:"writeResults"`
}

// PutData handles PUT /data/{key}.
func (h *Handlers) PutData(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"value\": ...}")
		return
	}

	result, err := h.node.Coord.Put(r.Context(), key, []byte(req.Value))
	if err != nil && ringerr.CodeOf(err) != ringerr.QuorumNotAchieved {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, putResponse{
		Success:          err == nil,
		Key:              result.Key,
		ReplicaNodes:     replicaNodeIDs(result.Replicas),
		SuccessfulWrites: result.Achieved,
		QuorumSize:       result.Required,
		QuorumAchieved:   result.QuorumAchieved,
		WriteResults:     toDTOs(result.Replicas),
	})
}

type recordMetadataDTO struct {
	Version   int64  `json:"version"`
	Timestamp int64  `json:"timestamp"`
	NodeID    string `json:"nodeId"`
}

type getResponse struct {
	Value          json.RawMessage    `json:"value"`
	Metadata       recordMetadataDTO  `json:"metadata"`
	ReadResults    int                `json:"readResults"`
	ReplicaResults []replicaResultDTO `json:"replicaResults"`
	QuorumAchieved bool               `json:"quorumAchieved"`
}

// GetData handles GET /data/{key}.
func (h *Handlers) GetData(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	result, err := h.node.Coord.Get(r.Context(), key, coordinator.GetOptions{})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, getResponse{
		Value: json.RawMessage(result.Record.Value),
		Metadata: recordMetadataDTO{
			Version:   result.Record.Metadata.Version,
			Timestamp: result.Record.Metadata.Timestamp,
			NodeID:    result.Record.Metadata.OriginNodeID,
		},
		ReadResults:    result.Achieved,
		ReplicaResults: toDTOs(result.Replicas),
		QuorumAchieved: result.QuorumAchieved,
	})
}

type clusterNodeDTO struct {
	NodeID  string `json:"nodeId"`
	Status  string `json:"status"`
	Address string `json:"address"`
}

type clusterStatusResponse struct {
	LocalNode         string           `json:"localNode"`
	TotalNodes        int              `json:"totalNodes"`
	AliveNodes        int              `json:"aliveNodes"`
	ReplicationFactor int              `json:"replicationFactor"`
	QuorumSize        int              `json:"quorumSize"`
	Nodes             []clusterNodeDTO `json:"nodes"`
}

// ClusterStatus handles GET /cluster/status.
func (h *Handlers) ClusterStatus(w http.ResponseWriter, r *http.Request) {
	members := h.node.Members()
	alive := 0
	nodes := make([]clusterNodeDTO, 0, len(members))
	for _, m := range members {
		status := "failed"
		if m.Liveness == "alive" {
			status = "alive"
			alive++
		}
		nodes = append(nodes, clusterNodeDTO{NodeID: m.NodeID, Status: status, Address: m.Address})
	}

	writeJSON(w, http.StatusOK, clusterStatusResponse{
		LocalNode:         h.node.ID(),
		TotalNodes:        len(members),
		AliveNodes:        alive,
		ReplicationFactor: h.node.Coord.ReplicationFactor(),
		QuorumSize:        coordinator.Quorum(h.node.Coord.ReplicationFactor()),
		Nodes:             nodes,
	})
}

type clusterRingResponse struct {
	TotalNodes        int              `json:"totalNodes"`
	VirtualNodes      int              `json:"virtualNodes"`
	ReplicationFactor int              `json:"replicationFactor"`
	RingSize          int              `json:"ringSize"`
	Nodes             []clusterNodeDTO `json:"nodes"`
}

// ClusterRing handles GET /cluster/ring.
func (h *Handlers) ClusterRing(w http.ResponseWriter, r *http.Request) {
	members := h.node.Members()
	nodes := make([]clusterNodeDTO, 0, len(members))
	for _, m := range members {
		status := "failed"
		if m.Liveness == "alive" {
			status = "alive"
		}
		nodes = append(nodes, clusterNodeDTO{NodeID: m.NodeID, Status: status, Address: m.Address})
	}
	totalNodes := h.node.Ring.Size()

	writeJSON(w, http.StatusOK, clusterRingResponse{
		TotalNodes:        totalNodes,
		VirtualNodes:      h.node.Ring.VirtualNodes(),
		ReplicationFactor: h.node.Coord.ReplicationFactor(),
		RingSize:          totalNodes * h.node.Ring.VirtualNodes(),
		Nodes:             nodes,
	})
}

// ClusterDistribution handles GET /cluster/distribution: a sampled view of
// which physical nodes own which keys, over the keys currently stored
// locally (or a handful of synthetic probe keys if this node holds none).
func (h *Handlers) ClusterDistribution(w http.ResponseWriter, r *http.Request) {
	keys := h.node.Store.Keys()
	if len(keys) == 0 {
		for i := 0; i < 10; i++ {
			keys = append(keys, fmt.Sprintf("sample-%d", i))
		}
	}
	if len(keys) > 100 {
		keys = keys[:100]
	}

	distribution := make(map[string][]string, len(keys))
	for _, key := range keys {
		distribution[key] = h.node.Ring.Replicas(key, h.node.Coord.ReplicationFactor())
	}
	writeJSON(w, http.StatusOK, distribution)
}

type healthResponse struct {
	NodeID     string `json:"nodeId"`
	Address    string `json:"address"`
	IsAlive    bool   `json:"isAlive"`
	DataCount  int    `json:"dataCount"`
	PeersCount int    `json:"peersCount"`
	Timestamp  int64  `json:"timestamp"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		NodeID:     h.node.ID(),
		Address:    h.node.Address(),
		IsAlive:    true,
		DataCount:  h.node.Store.Len(),
		PeersCount: len(h.node.Table.Nodes()),
		Timestamp:  time.Now().UnixMilli(),
	})
}

type addNodeRequest struct {
	NodeID  string `json:"nodeId"`
	Address string `json:"address"`
}

type addNodeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AddNode handles POST /cluster/nodes.
func (h *Handlers) AddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"nodeId\": ..., \"address\": ...}")
		return
	}

	h.node.AddNode(req.NodeID, req.Address)
	writeJSON(w, http.StatusOK, addNodeResponse{Success: true, Message: fmt.Sprintf("node %s admitted", req.NodeID)})
}

func replicaNodeIDs(results []coordinator.ReplicaResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.NodeID)
	}
	return ids
}

func toDTOs(results []coordinator.ReplicaResult) []replicaResultDTO {
	dtos := make([]replicaResultDTO, 0, len(results))
	for _, r := range results {
		dtos = append(dtos, replicaResultDTO{NodeID: r.NodeID, Outcome: string(r.Outcome)})
	}
	return dtos
}
