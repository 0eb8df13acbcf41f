package model

import (
	"encoding/json"
	"fmt"
)

// CheckpointOrigin distinguishes a consensus-minted checkpoint (carries a
// validator round) from an operator-invoked manual one.
type CheckpointOrigin string

const (
	OriginManual    CheckpointOrigin = "manual"
	OriginConsensus CheckpointOrigin = "consensus"
)

// MinerCheckpoint is a finalized-epoch marker (spec data model section 3).
// Once stored it is never mutated (write-once) except for operator-invoked
// retirement.
type MinerCheckpoint struct {
	Epoch             uint64           `json:"epoch"`
	ValidatorSetEpoch uint64           `json:"validator_set_epoch"` // epoch + 2
	LastBlockIndex    uint64           `json:"last_block_index"`
	LastBlockHash     Hash             `json:"last_block_hash"`
	MerkleRoot        Hash             `json:"merkle_root"`
	BlockCount        uint64           `json:"block_count"`
	Origin            CheckpointOrigin `json:"origin"`
	ValidatorRound     *uint64          `json:"validator_round,omitempty"`
}

// NewConsensusCheckpoint builds a checkpoint minted by the DAG consensus
// layer, setting validator_set_epoch = epoch + 2 per the design note.
func NewConsensusCheckpoint(epoch, lastIndex uint64, lastHash, merkleRoot Hash, blockCount uint64, validatorRound uint64) MinerCheckpoint {
	return MinerCheckpoint{
		Epoch:             epoch,
		ValidatorSetEpoch: epoch + 2,
		LastBlockIndex:    lastIndex,
		LastBlockHash:     lastHash,
		MerkleRoot:        merkleRoot,
		BlockCount:        blockCount,
		Origin:            OriginConsensus,
		ValidatorRound:    &validatorRound,
	}
}

// NewManualCheckpoint builds an operator-minted checkpoint.
func NewManualCheckpoint(epoch, lastIndex uint64, lastHash, merkleRoot Hash, blockCount uint64) MinerCheckpoint {
	return MinerCheckpoint{
		Epoch:             epoch,
		ValidatorSetEpoch: epoch + 2,
		LastBlockIndex:    lastIndex,
		LastBlockHash:     lastHash,
		MerkleRoot:        merkleRoot,
		BlockCount:        blockCount,
		Origin:            OriginManual,
	}
}

func (c *MinerCheckpoint) KeyPath() string {
	return MinerCheckpointKey(c.Epoch)
}

func (c *MinerCheckpoint) Defaults() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"origin": rawDefault(OriginManual),
	}
}

// MinerCheckpointKey renders /miner_checkpoints/epoch/${epoch}.
func MinerCheckpointKey(epoch uint64) string {
	return fmt.Sprintf("/miner_checkpoints/epoch/%d", epoch)
}

// Epoch computes floor(index / blocksPerEpoch) per the glossary.
func Epoch(index, blocksPerEpoch uint64) uint64 {
	if blocksPerEpoch == 0 {
		return 0
	}
	return index / blocksPerEpoch
}
