package observer

import (
	"sort"

	"github.com/sirupsen/logrus"

	"modalnode/model"
)

// AdoptRemoteChain performs the reorganization section 4.5 describes after
// compare_chains returns Adopt: every local canonical block with index
// greater than ancestorIndex is orphaned (reason "Replaced by heavier
// chain"), the supplied blocks are persisted as canonical, and the chain is
// revalidated. Reorganization never runs from ProcessGossipedBlock — the
// sync engine is the only caller, per section 4.4.
func (o *Observer) AdoptRemoteChain(ancestorIndex uint64, blocks []*model.MinerBlock) (ChainIntegrityReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	local, err := o.router.FindAllCanonicalMinerBlocks()
	if err != nil {
		return ChainIntegrityReport{}, err
	}
	for _, b := range local {
		if b.Index <= ancestorIndex {
			continue
		}
		competing := b.Hash
		b.MarkOrphaned("Replaced by heavier chain", &competing)
		if err := o.router.UpdateMinerBlockWherever(b); err != nil {
			return ChainIntegrityReport{}, err
		}
	}

	sorted := make([]*model.MinerBlock, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for _, b := range sorted {
		b.MarkCanonical()
		if err := o.router.SaveMinerBlockToActive(b); err != nil {
			return ChainIntegrityReport{}, err
		}
	}

	if len(sorted) > 0 {
		last := sorted[len(sorted)-1]
		if err := o.setTip(last.Index, last.Hash); err != nil {
			return ChainIntegrityReport{}, err
		}
	}

	report, err := o.validateAndRepairLocked(nil, true)
	if err != nil {
		return report, err
	}
	o.log.WithFields(logrus.Fields{
		"ancestor_index": ancestorIndex,
		"adopted_blocks": len(sorted),
	}).Info("sync: adopted remote chain")
	return report, nil
}
