package node

import (
	"context"
	"fmt"

	"github.com/ringkv/ringkv/internal/peer"
	"github.com/ringkv/ringkv/internal/ringerr"
	"go.uber.org/zap"
)

// Join bootstraps cluster membership by identifying with each seed in turn
// and epidemically following the Members each one reports, dialing any
// newly discovered node in turn, until no new node is discovered. It
// succeeds as soon as at least one seed accepts the identify; an empty
// seeds list is a no-op (a single-node cluster).
func (n *Node) Join(ctx context.Context, seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}

	visited := map[string]bool{n.id: true}
	worklist := make([]string, 0, len(seeds))
	worklist = append(worklist, seeds...)

	joined := false
	for len(worklist) > 0 {
		address := worklist[0]
		worklist = worklist[1:]

		reply, err := n.dialAndRegister(ctx, address)
		if err != nil {
			n.Logger.Warn("join: failed to reach node", zap.String("address", address), zap.Error(err))
			continue
		}
		joined = true
		if visited[reply.NodeID] {
			continue
		}
		visited[reply.NodeID] = true

		for _, member := range reply.Members {
			if visited[member.NodeID] {
				continue
			}
			n.rememberAddress(member.NodeID, member.Address)
			worklist = append(worklist, member.Address)
		}
	}

	if !joined {
		return ringerr.New(ringerr.JoinFailed, fmt.Sprintf("no seed among %v accepted a join", seeds))
	}
	return nil
}

var _ peer.Handler = (*PeerHandler)(nil)
