package multistore

import (
	"modalnode/errkind"
	"modalnode/kv"
	"modalnode/model"
)

// minerSearchOrder is the order find_by_hash_multi walks per section 4.2:
// the freshest data lives in Active, then promoted Canon, then archived
// Forks.
var minerSearchOrder = []StoreName{MinerActive, MinerCanon, MinerForks}

func putMinerBlock(s kv.Store, b *model.MinerBlock) error {
	raw, err := model.Encode(b)
	if err != nil {
		return err
	}
	if err := s.Put([]byte(b.KeyPath()), raw); err != nil {
		return err
	}
	return s.Put([]byte(b.IndexKeyPath()), []byte(b.Hash.Hex()))
}

func deleteMinerBlock(s kv.Store, b *model.MinerBlock) error {
	if err := s.Delete([]byte(b.KeyPath())); err != nil {
		return err
	}
	return s.Delete([]byte(b.IndexKeyPath()))
}

func getMinerBlockByHash(s kv.Store, h model.Hash) (*model.MinerBlock, bool, error) {
	raw, ok, err := s.Get([]byte(model.MinerBlockHashKey(h)))
	if err != nil || !ok {
		return nil, false, err
	}
	var b model.MinerBlock
	if err := model.Decode(raw, (&model.MinerBlock{}).Defaults(), &b); err != nil {
		return nil, false, err
	}
	return &b, true, nil
}

func findMinerBlocksAtIndex(s kv.Store, index uint64) ([]*model.MinerBlock, error) {
	it, err := s.Iterator([]byte(model.MinerBlockIndexPrefix(index)))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []*model.MinerBlock
	for it.Next() {
		h, err := model.HashFromHex(string(it.Value()))
		if err != nil {
			return nil, err
		}
		b, ok, err := getMinerBlockByHash(s, h)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, it.Err()
}

func scanAllMinerBlocks(s kv.Store) ([]*model.MinerBlock, error) {
	it, err := s.Iterator([]byte("/miner_blocks/hash/"))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []*model.MinerBlock
	for it.Next() {
		var b model.MinerBlock
		if err := model.Decode(it.Value(), (&model.MinerBlock{}).Defaults(), &b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, it.Err()
}

// SaveMinerBlockToActive writes a newly accepted block to MinerActive, the
// only store Observer ever writes fresh entries into.
func (r *Router) SaveMinerBlockToActive(b *model.MinerBlock) error {
	if err := b.Validate(); err != nil {
		return errkind.Wrap(errkind.Integrity, err, "multistore: invalid miner block")
	}
	return putMinerBlock(r.store(MinerActive), b)
}

// UpdateMinerBlockInActive rewrites an existing Active entry in place (used
// when Observer flips a block canonical<->orphaned after a reorg).
func (r *Router) UpdateMinerBlockInActive(b *model.MinerBlock) error {
	return putMinerBlock(r.store(MinerActive), b)
}

// UpdateMinerBlockWherever rewrites b in every one of Active/Canon/Forks it
// is currently stored in (a block may legitimately have a live copy in both
// Active and Canon between promotion and purge), falling back to Active if
// it isn't found anywhere yet. Chain-integrity repair uses this because a
// block being orphaned retroactively may already have been promoted out of
// Active.
func (r *Router) UpdateMinerBlockWherever(b *model.MinerBlock) error {
	found := false
	for _, name := range minerSearchOrder {
		if _, ok, err := getMinerBlockByHash(r.store(name), b.Hash); err != nil {
			return err
		} else if ok {
			found = true
			if err := putMinerBlock(r.store(name), b); err != nil {
				return err
			}
		}
	}
	if !found {
		return putMinerBlock(r.store(MinerActive), b)
	}
	return nil
}

// FindMinerBlockByHash implements find_by_hash_multi: Active, then Canon,
// then Forks, returning the first match and the store it was found in.
func (r *Router) FindMinerBlockByHash(h model.Hash) (*model.MinerBlock, StoreName, bool, error) {
	for _, name := range minerSearchOrder {
		b, ok, err := getMinerBlockByHash(r.store(name), h)
		if err != nil {
			return nil, "", false, err
		}
		if ok {
			return b, name, true, nil
		}
	}
	return nil, "", false, nil
}

// FindMinerBlocksAtIndex returns every block (canonical or competing fork)
// recorded at a height, searching Active then Canon then Forks and
// de-duplicating by hash.
func (r *Router) FindMinerBlocksAtIndex(index uint64) ([]*model.MinerBlock, error) {
	seen := make(map[model.Hash]bool)
	var out []*model.MinerBlock
	for _, name := range minerSearchOrder {
		blocks, err := findMinerBlocksAtIndex(r.store(name), index)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			if !seen[b.Hash] {
				seen[b.Hash] = true
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// FindCanonicalMinerBlockByIndex implements find_canonical_by_index_multi:
// once an epoch is at least PromoteAfter epochs in the past, its canonical
// block has settled into Canon and Active no longer needs to be searched
// first; a still-recent epoch is searched in Active only, since it may not
// have been promoted yet.
func (r *Router) FindCanonicalMinerBlockByIndex(index, curEpoch uint64) (*model.MinerBlock, bool, error) {
	blockEpoch := model.Epoch(index, r.cfg.BlocksPerEpoch)
	order := []StoreName{MinerActive}
	if curEpoch >= blockEpoch+r.cfg.PromoteAfter {
		order = []StoreName{MinerCanon, MinerActive}
	}
	for _, name := range order {
		blocks, err := findMinerBlocksAtIndex(r.store(name), index)
		if err != nil {
			return nil, false, err
		}
		for _, b := range blocks {
			if b.IsCanonical {
				return b, true, nil
			}
		}
	}
	return nil, false, nil
}

// FindAllCanonicalMinerBlocks implements find_all_canonical_multi: the union
// of canonical blocks in Canon and Active, de-duplicated by hash.
func (r *Router) FindAllCanonicalMinerBlocks() ([]*model.MinerBlock, error) {
	return r.unionMinerBlocks([]StoreName{MinerCanon, MinerActive}, func(b *model.MinerBlock) bool {
		return b.IsCanonical
	})
}

// FindAllOrphanedMinerBlocks implements find_all_orphaned_multi: the union
// of orphaned blocks in Forks and Active, de-duplicated by hash.
func (r *Router) FindAllOrphanedMinerBlocks() ([]*model.MinerBlock, error) {
	return r.unionMinerBlocks([]StoreName{MinerForks, MinerActive}, func(b *model.MinerBlock) bool {
		return b.IsOrphaned
	})
}

func (r *Router) unionMinerBlocks(stores []StoreName, keep func(*model.MinerBlock) bool) ([]*model.MinerBlock, error) {
	seen := make(map[model.Hash]bool)
	var out []*model.MinerBlock
	for _, name := range stores {
		blocks, err := scanAllMinerBlocks(r.store(name))
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			if keep(b) && !seen[b.Hash] {
				seen[b.Hash] = true
				out = append(out, b)
			}
		}
	}
	return out, nil
}
