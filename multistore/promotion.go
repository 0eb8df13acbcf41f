package multistore

import "modalnode/model"

// RunPromotion implements run_promotion: every MinerActive block whose epoch
// is at least PromoteAfter epochs behind curEpoch is copied into Canon (if
// canonical) or Forks (if orphaned); a block that is neither yet (still
// pending a canonical/orphan decision) is left untouched and re-considered
// on the next run. Copying rather than moving, and checking presence before
// writing, makes repeated calls for the same epoch idempotent.
func (r *Router) RunPromotion(curEpoch uint64) (canonicalCount, orphanCount int, err error) {
	active := r.store(MinerActive)
	blocks, err := scanAllMinerBlocks(active)
	if err != nil {
		return 0, 0, err
	}
	canon := r.store(MinerCanon)
	forks := r.store(MinerForks)
	for _, b := range blocks {
		if curEpoch < b.Epoch+r.cfg.PromoteAfter {
			continue
		}
		switch {
		case b.IsCanonical:
			if _, ok, err := getMinerBlockByHash(canon, b.Hash); err != nil {
				return canonicalCount, orphanCount, err
			} else if ok {
				continue
			}
			if err := putMinerBlock(canon, b); err != nil {
				return canonicalCount, orphanCount, err
			}
			canonicalCount++
		case b.IsOrphaned:
			if _, ok, err := getMinerBlockByHash(forks, b.Hash); err != nil {
				return canonicalCount, orphanCount, err
			} else if ok {
				continue
			}
			if err := putMinerBlock(forks, b); err != nil {
				return canonicalCount, orphanCount, err
			}
			orphanCount++
		}
		// neither canonical nor orphaned: still pending, left in Active.
	}
	return canonicalCount, orphanCount, nil
}

// RunPurge implements run_purge: a MinerActive block whose epoch is at least
// PurgeAfter epochs behind curEpoch is deleted from Active, but only once it
// has a corresponding entry in Canon or Forks — i.e. strictly after
// promotion has run for that epoch, regardless of call order.
func (r *Router) RunPurge(curEpoch uint64) (purged int, err error) {
	active := r.store(MinerActive)
	blocks, err := scanAllMinerBlocks(active)
	if err != nil {
		return 0, err
	}
	canon := r.store(MinerCanon)
	forks := r.store(MinerForks)
	for _, b := range blocks {
		if curEpoch < b.Epoch+r.cfg.PurgeAfter {
			continue
		}
		promoted := false
		if b.IsCanonical {
			if _, ok, err := getMinerBlockByHash(canon, b.Hash); err != nil {
				return purged, err
			} else if ok {
				promoted = true
			}
		} else if b.IsOrphaned {
			if _, ok, err := getMinerBlockByHash(forks, b.Hash); err != nil {
				return purged, err
			} else if ok {
				promoted = true
			}
		}
		if !promoted {
			continue
		}
		if err := deleteMinerBlock(active, b); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// BlocksToPromote and BlocksToPurge expose the selection predicates alone,
// useful for callers (observer metrics, CLI inspection) that want a preview
// without mutating anything.
func (r *Router) BlocksToPromote(curEpoch uint64) ([]*model.MinerBlock, error) {
	blocks, err := scanAllMinerBlocks(r.store(MinerActive))
	if err != nil {
		return nil, err
	}
	var out []*model.MinerBlock
	for _, b := range blocks {
		if curEpoch >= b.Epoch+r.cfg.PromoteAfter && (b.IsCanonical || b.IsOrphaned) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *Router) BlocksToPurge(curEpoch uint64) ([]*model.MinerBlock, error) {
	blocks, err := scanAllMinerBlocks(r.store(MinerActive))
	if err != nil {
		return nil, err
	}
	var out []*model.MinerBlock
	for _, b := range blocks {
		if curEpoch >= b.Epoch+r.cfg.PurgeAfter {
			out = append(out, b)
		}
	}
	return out, nil
}
