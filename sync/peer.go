// Package sync implements fork-choice and chain synchronization (C5):
// cumulative-difficulty comparison, the exponential-probe plus batched
// binary search common-ancestor algorithm, range fetch, and reorganization.
// Reorganization is deliberately kept out of the chain observer (section
// 4.4) and lives here instead, as the sole caller of Observer.AdoptRemoteChain.
package sync

import (
	"context"

	"modalnode/model"
)

// Checkpoint is one (index, hash) pair offered during common-ancestor
// search, the check_points entry of the find_ancestor wire message.
type Checkpoint struct {
	Index uint64
	Hash  model.Hash
}

// CheckpointMatch is the peer's per-checkpoint verdict.
type CheckpointMatch struct {
	Index   uint64
	Matches bool
}

// ChainInfo is the peer's chain_info response (section 6).
type ChainInfo struct {
	ChainLength          uint64
	CumulativeDifficulty model.Decimal
}

// FindAncestorResponse is the peer's find_ancestor response (section 6).
// HighestMatch is nil when no checkpoint in the request matched.
type FindAncestorResponse struct {
	HighestMatch         *uint64
	Matches              []CheckpointMatch
	ChainLength          uint64
	CumulativeDifficulty model.Decimal
}

// Peer is the transport-agnostic counterpart to one remote node, covering
// the three sync wire messages of section 6. A concrete implementation
// (package transport) adapts these onto a request-response protocol;
// nothing in this package depends on libp2p or any other transport.
type Peer interface {
	ID() string
	ChainInfo(ctx context.Context) (ChainInfo, error)
	FindAncestor(ctx context.Context, checkpoints []Checkpoint) (FindAncestorResponse, error)
	BlocksRange(ctx context.Context, from, to uint64) ([]*model.MinerBlock, error)
}
