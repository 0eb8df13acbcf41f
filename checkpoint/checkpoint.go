// Package checkpoint implements the checkpoint engine (C6): append-only
// checkpoint storage in the Canon store and the ancestry-walk validation
// that rejects blocks building on a chain that diverges before a finalized
// checkpoint.
package checkpoint

import (
	"github.com/sirupsen/logrus"

	"modalnode/errkind"
	"modalnode/kv"
	"modalnode/model"
	"modalnode/multistore"
)

const checkpointPrefix = "/miner_checkpoints/epoch/"

// Engine owns checkpoint storage and validation. It reads ancestry through
// the same router Observer uses, so a checkpoint validation sees the same
// view of the chain as acceptance does.
type Engine struct {
	store  kv.Store
	router *multistore.Router
	log    *logrus.Logger
}

func New(router *multistore.Router, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{store: router.CanonMinerStore(), router: router, log: log}
}

// Append stores a new checkpoint. Storage is append-only: a checkpoint
// already recorded for an epoch cannot be overwritten, only retired.
func (e *Engine) Append(c model.MinerCheckpoint) error {
	key := c.KeyPath()
	if _, ok, err := e.store.Get([]byte(key)); err != nil {
		return err
	} else if ok {
		return errkind.New(errkind.Conflict, "checkpoint already recorded for this epoch")
	}
	raw, err := model.Encode(&c)
	if err != nil {
		return err
	}
	return e.store.Put([]byte(key), raw)
}

// Retire deletes a checkpoint; the only deletion path, reserved for
// operator-invoked retirement per section 4.6.
func (e *Engine) Retire(epoch uint64) error {
	return e.store.Delete([]byte(model.MinerCheckpointKey(epoch)))
}

func (e *Engine) Get(epoch uint64) (*model.MinerCheckpoint, bool, error) {
	raw, ok, err := e.store.Get([]byte(model.MinerCheckpointKey(epoch)))
	if err != nil || !ok {
		return nil, false, err
	}
	var c model.MinerCheckpoint
	if err := model.Decode(raw, (&model.MinerCheckpoint{}).Defaults(), &c); err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

// All returns every stored checkpoint, unordered.
func (e *Engine) All() ([]*model.MinerCheckpoint, error) {
	it, err := e.store.Iterator([]byte(checkpointPrefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []*model.MinerCheckpoint
	for it.Next() {
		var c model.MinerCheckpoint
		if err := model.Decode(it.Value(), (&model.MinerCheckpoint{}).Defaults(), &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, it.Err()
}

// MostRecentBefore returns the checkpoint C with the greatest LastBlockIndex
// strictly less than index, per step 2 of validate_block_against_checkpoints.
func (e *Engine) MostRecentBefore(index uint64) (*model.MinerCheckpoint, bool, error) {
	all, err := e.All()
	if err != nil {
		return nil, false, err
	}
	var best *model.MinerCheckpoint
	for _, c := range all {
		if c.LastBlockIndex >= index {
			continue
		}
		if best == nil || c.LastBlockIndex > best.LastBlockIndex {
			best = c
		}
	}
	return best, best != nil, nil
}

// ValidateBlockAgainstCheckpoints implements section 4.6's algorithm: walk
// back along previous_hash from the block's parent, at most
// (index - C.LastBlockIndex) + 10 hops, and require the walk to pass
// through C.LastBlockHash. A missing ancestor (not yet synced) is treated
// optimistically as valid; a walk that reaches an index at or before the
// checkpoint with a different hash is a definite rejection.
func (e *Engine) ValidateBlockAgainstCheckpoints(index uint64, previousHash model.Hash) (bool, error) {
	cp, ok, err := e.MostRecentBefore(index)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	maxDepth := (index - cp.LastBlockIndex) + 10
	cur := previousHash
	for hops := uint64(0); hops <= maxDepth; hops++ {
		if cur == cp.LastBlockHash {
			return true, nil
		}
		b, _, found, err := e.router.FindMinerBlockByHash(cur)
		if err != nil {
			return false, err
		}
		if !found {
			return true, nil
		}
		if b.Index <= cp.LastBlockIndex && b.Hash != cp.LastBlockHash {
			return false, nil
		}
		cur = b.PreviousHash
	}
	return false, nil
}
