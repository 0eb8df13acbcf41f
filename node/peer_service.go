package node

import (
	"context"

	"modalnode/model"
	"modalnode/sync"
)

// localPeerService answers the three sync wire messages (section 6) for
// remote peers dialing into this node's transport.Host, backed directly by
// the node's own observer/sync state.
type localPeerService struct {
	node *Node
}

func (s *localPeerService) ChainInfo(ctx context.Context) (sync.ChainInfo, error) {
	local, total, err := s.node.syncCoord.LocalChainState()
	if err != nil {
		return sync.ChainInfo{}, err
	}
	return sync.ChainInfo{ChainLength: uint64(len(local)), CumulativeDifficulty: total}, nil
}

func (s *localPeerService) FindAncestor(ctx context.Context, checkpoints []sync.Checkpoint) (sync.FindAncestorResponse, error) {
	local, total, err := s.node.syncCoord.LocalChainState()
	if err != nil {
		return sync.FindAncestorResponse{}, err
	}
	byIndex := make(map[uint64]model.Hash, len(local))
	for _, b := range local {
		byIndex[b.Index] = b.Hash
	}

	resp := sync.FindAncestorResponse{ChainLength: uint64(len(local)), CumulativeDifficulty: total}
	var highest *uint64
	for _, cp := range checkpoints {
		hash, ok := byIndex[cp.Index]
		matches := ok && hash == cp.Hash
		resp.Matches = append(resp.Matches, sync.CheckpointMatch{Index: cp.Index, Matches: matches})
		if matches {
			idx := cp.Index
			if highest == nil || idx > *highest {
				highest = &idx
			}
		}
	}
	resp.HighestMatch = highest
	return resp, nil
}

func (s *localPeerService) BlocksRange(ctx context.Context, from, to uint64) ([]*model.MinerBlock, error) {
	local, _, err := s.node.syncCoord.LocalChainState()
	if err != nil {
		return nil, err
	}
	var out []*model.MinerBlock
	for _, b := range local {
		if b.Index >= from && b.Index <= to {
			out = append(out, b)
		}
	}
	return out, nil
}
