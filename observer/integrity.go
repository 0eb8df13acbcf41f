package observer

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// ChainIntegrityReport is the result of a chain-integrity walk, matching
// validate_and_repair_chain's return shape: total/valid counts, the first
// break (nil if none), how many blocks were orphaned, and whether a repair
// was actually performed.
type ChainIntegrityReport struct {
	TotalBlocks   int
	ValidBlocks   int
	BreakPoint    *uint64
	OrphanedCount int
	Repaired      bool
}

// ValidateAndRepairChain walks the full canonical set by index, verifying
// block[i].previous_hash == block[i-1].hash for every i > 0. The first
// break defines the break point; when repair is true, every canonical
// block from the break point onward is orphaned with reason "Chain
// integrity repair".
func (o *Observer) ValidateAndRepairChain(repair bool) (ChainIntegrityReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.validateAndRepairLocked(nil, repair)
}

// CheckChainIntegrity is the quick boolean form: true iff the full
// canonical chain has no break.
func (o *Observer) CheckChainIntegrity() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	report, err := o.validateAndRepairLocked(nil, false)
	if err != nil {
		return false, err
	}
	return report.BreakPoint == nil, nil
}

// CheckRecentBlocks is the rolling-window variant: it validates only the
// last windowSize canonical blocks (by index), invoked after every accepted
// block per section 4.4. A windowSize <= 0 selects the observer's
// configured default.
func (o *Observer) CheckRecentBlocks(windowSize int, repair bool) (ChainIntegrityReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.checkRecentLocked(windowSize, repair)
}

func (o *Observer) checkRecentLocked(windowSize int, repair bool) (ChainIntegrityReport, error) {
	if windowSize <= 0 {
		windowSize = o.rollingWindow
	}
	return o.validateAndRepairLocked(&windowSize, repair)
}

// validateAndRepairLocked is the shared implementation: window nil means a
// full walk, non-nil restricts the walk to the trailing N canonical blocks
// by index.
func (o *Observer) validateAndRepairLocked(window *int, repair bool) (ChainIntegrityReport, error) {
	all, err := o.router.FindAllCanonicalMinerBlocks()
	if err != nil {
		return ChainIntegrityReport{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Index < all[j].Index })

	if window != nil && len(all) > *window {
		all = all[len(all)-*window:]
	}

	report := ChainIntegrityReport{TotalBlocks: len(all)}
	if len(all) == 0 {
		return report, nil
	}

	var breakIdx int = -1
	report.ValidBlocks = 1
	for i := 1; i < len(all); i++ {
		if all[i].PreviousHash != all[i-1].Hash {
			breakIdx = i
			break
		}
		report.ValidBlocks++
	}

	if breakIdx == -1 {
		return report, nil
	}

	breakPoint := all[breakIdx].Index
	report.BreakPoint = &breakPoint

	if !repair {
		return report, nil
	}

	for i := breakIdx; i < len(all); i++ {
		b := all[i]
		competing := b.Hash
		b.MarkOrphaned("Chain integrity repair", &competing)
		if err := o.router.UpdateMinerBlockWherever(b); err != nil {
			return report, err
		}
		report.OrphanedCount++
	}
	report.Repaired = true
	o.log.WithFields(logrus.Fields{"break_point": breakPoint, "orphaned": report.OrphanedCount}).Warn("chain integrity repaired")

	// The tip must no longer point past the break; rewind it to the last
	// block that stayed canonical.
	if breakIdx > 0 {
		last := all[breakIdx-1]
		if err := o.setTip(last.Index, last.Hash); err != nil {
			return report, err
		}
	}

	return report, nil
}
