package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MinerBlock is a proof-of-work chain node (spec data model section 3).
// IsCanonical and IsOrphaned are disjoint; neither set means "pending".
type MinerBlock struct {
	Hash         Hash    `json:"hash"`
	Index        uint64  `json:"index"`
	Epoch        uint64  `json:"epoch"`
	PreviousHash Hash    `json:"previous_hash"`
	DataHash     Hash    `json:"data_hash"`
	Nonce        Decimal `json:"nonce"`
	Difficulty   Decimal `json:"difficulty"`
	Timestamp    int64   `json:"timestamp"` // unix seconds

	NominatedPeerID string `json:"nominated_peer_id"`
	MinerNumber     uint64 `json:"miner_number"`

	IsCanonical bool `json:"is_canonical"`
	IsOrphaned  bool `json:"is_orphaned"`

	SeenAt        int64  `json:"seen_at"`
	OrphanedAt    *int64 `json:"orphaned_at,omitempty"`
	OrphanReason  string `json:"orphan_reason,omitempty"`
	CompetingHash *Hash  `json:"competing_hash,omitempty"`
	HeightAtTime  uint64 `json:"height_at_time"`
}

// KeyPath renders the primary key /miner_blocks/hash/${hash}.
func (b *MinerBlock) KeyPath() string {
	return MinerBlockHashKey(b.Hash)
}

// IndexKeyPath renders the secondary height index key.
func (b *MinerBlock) IndexKeyPath() string {
	return MinerBlockIndexKey(b.Index, b.Hash)
}

func (b *MinerBlock) Defaults() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"is_canonical":      rawDefault(false),
		"is_orphaned":       rawDefault(false),
		"orphan_reason":     rawDefault(""),
		"height_at_time":    rawDefault(0),
		"nominated_peer_id": rawDefault(""),
		"miner_number":      rawDefault(0),
	}
}

// MarkOrphaned sets the orphan flags and metadata, clearing IsCanonical to
// keep the two flags disjoint. reason and competing (optional) mirror the
// teacher's mark_as_orphaned convention from chain_integrity.rs.
func (b *MinerBlock) MarkOrphaned(reason string, competing *Hash) {
	now := time.Now().Unix()
	b.IsOrphaned = true
	b.IsCanonical = false
	b.OrphanedAt = &now
	b.OrphanReason = reason
	b.CompetingHash = competing
}

// MarkCanonical sets IsCanonical and clears any orphan state.
func (b *MinerBlock) MarkCanonical() {
	b.IsCanonical = true
	b.IsOrphaned = false
	b.OrphanedAt = nil
	b.OrphanReason = ""
	b.CompetingHash = nil
}

// Validate checks the structural invariant that canonical and orphaned are
// mutually exclusive.
func (b *MinerBlock) Validate() error {
	if b.IsCanonical && b.IsOrphaned {
		return fmt.Errorf("model: block %s is both canonical and orphaned", b.Hash)
	}
	return nil
}

// MinerBlockHashKey renders /miner_blocks/hash/${hash}.
func MinerBlockHashKey(h Hash) string {
	return "/miner_blocks/hash/" + h.Hex()
}

// MinerBlockIndexKey renders /miner_blocks/index/${index}/hash/${hash}, the
// height secondary index from section 6.
func MinerBlockIndexKey(index uint64, h Hash) string {
	return fmt.Sprintf("/miner_blocks/index/%d/hash/%s", index, h.Hex())
}

// MinerBlockIndexPrefix renders the prefix matching every hash at a given
// index (used when a secondary-index scan must find all competing blocks at
// that height).
func MinerBlockIndexPrefix(index uint64) string {
	return fmt.Sprintf("/miner_blocks/index/%d/hash/", index)
}
