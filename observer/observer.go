// Package observer implements the chain observer (C4): the acceptance
// policy for gossiped proof-of-work blocks, orphan bookkeeping and
// promotion, and chain-integrity validation/repair. Fork-choice reorgs are
// deliberately out of scope here — section 4.4 reserves those for the sync
// engine — but observer still exposes the mutex fork-choice serializes
// behind, per the design note resolving the sync/observer race (see
// DESIGN.md).
package observer

import (
	"sync"

	"github.com/sirupsen/logrus"

	"modalnode/kv"
	"modalnode/metrics"
	"modalnode/model"
	"modalnode/multistore"
)

const defaultRollingWindow = 160

// Observer owns acceptance of new blocks into the canonical chain. All
// mutations to canonical state funnel through its single mutex — including
// calls the sync engine makes during reorg — so there is exactly one lock
// guarding fork choice (see Open Question 1 in DESIGN.md).
type Observer struct {
	mu      sync.Mutex
	router  *multistore.Router
	store   kv.Store // MinerActive, for tip + pending-by-parent bookkeeping
	log     *logrus.Logger
	metrics *metrics.Registry

	rollingWindow int
}

// New builds an Observer over router. rollingWindow is the number of
// trailing canonical blocks CheckRecentBlocks re-validates after each
// acceptance; 0 selects the section 4.4 default of 160. A nil m records to a
// throwaway registry, for callers (tests, one-off tooling) that don't care
// about metrics.
func New(router *multistore.Router, rollingWindow int, log *logrus.Logger, m *metrics.Registry) *Observer {
	if rollingWindow <= 0 {
		rollingWindow = defaultRollingWindow
	}
	if log == nil {
		log = logrus.New()
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Observer{
		router:        router,
		store:         router.ActiveMinerStore(),
		log:           log,
		metrics:       m,
		rollingWindow: rollingWindow,
	}
}

// Lock/Unlock expose the observer's mutex to collaborators. The sync engine
// does not call them: AdoptRemoteChain takes the mutex itself, as does every
// other exported Observer method, so none of those may be called while a
// caller holds the lock through Lock.
func (o *Observer) Lock()   { o.mu.Lock() }
func (o *Observer) Unlock() { o.mu.Unlock() }

// Router returns the underlying multi-store router, so collaborators that
// need direct read access (sync, checkpoint) don't need a second handle
// constructed separately.
func (o *Observer) Router() *multistore.Router { return o.router }

// ProcessGossipedBlock implements the acceptance policy of section 4.4.
// Signature/PoW sanity is assumed already checked by the caller (collaborator
// validation, not this component's concern). Returns whether the block was
// accepted as canonical.
func (o *Observer) ProcessGossipedBlock(b *model.MinerBlock) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acceptLocked(b)
}

func (o *Observer) acceptLocked(b *model.MinerBlock) (bool, error) {
	if b.Index == 0 {
		return o.acceptGenesisLocked(b)
	}

	_, _, found, err := o.router.FindMinerBlockByHash(b.PreviousHash)
	if err != nil {
		return false, err
	}
	if !found {
		b.MarkOrphaned("Missing parent: parent block not found", nil)
		if err := o.router.SaveMinerBlockToActive(b); err != nil {
			return false, err
		}
		if err := o.addPending(b.PreviousHash, b.Hash); err != nil {
			return false, err
		}
		o.metrics.BlocksOrphaned.WithLabelValues("missing_parent").Inc()
		o.log.WithFields(logrus.Fields{"index": b.Index, "hash": b.Hash}).Warn("orphaned: missing parent")
		return false, nil
	}
	tip, hasTip, err := o.getTip()
	if err != nil {
		return false, err
	}
	tipIndex := uint64(0)
	if hasTip {
		tipIndex = tip.Index
	}

	if hasTip && b.Index > tipIndex+1 {
		b.MarkOrphaned("Gap: block index skips ahead of the canonical tip", nil)
		if err := o.router.SaveMinerBlockToActive(b); err != nil {
			return false, err
		}
		if err := o.addPending(b.PreviousHash, b.Hash); err != nil {
			return false, err
		}
		o.metrics.BlocksOrphaned.WithLabelValues("gap").Inc()
		o.log.WithFields(logrus.Fields{"index": b.Index, "tip": tipIndex}).Warn("orphaned: gap")
		return false, nil
	}

	existing, err := o.router.FindMinerBlocksAtIndex(b.Index)
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.IsCanonical {
			competing := e.Hash
			b.MarkOrphaned("Rejected by first-seen rule", &competing)
			if err := o.router.SaveMinerBlockToActive(b); err != nil {
				return false, err
			}
			o.metrics.BlocksOrphaned.WithLabelValues("first_seen_fork").Inc()
			o.log.WithFields(logrus.Fields{"index": b.Index, "hash": b.Hash, "canonical": e.Hash}).Warn("orphaned: first-seen fork rule")
			return false, nil
		}
	}

	if err := o.commitCanonicalLocked(b); err != nil {
		return false, err
	}
	o.metrics.BlocksAccepted.Inc()
	o.log.WithFields(logrus.Fields{"index": b.Index, "hash": b.Hash}).Info("accepted block")

	if _, err := o.checkRecentLocked(o.rollingWindow, false); err != nil {
		o.log.WithError(err).Warn("rolling chain-integrity check failed")
	}

	return true, nil
}

func (o *Observer) acceptGenesisLocked(b *model.MinerBlock) (bool, error) {
	_, hasTip, err := o.getTip()
	if err != nil {
		return false, err
	}
	existing, err := o.router.FindMinerBlocksAtIndex(0)
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.IsCanonical {
			competing := e.Hash
			b.MarkOrphaned("Rejected by first-seen rule", &competing)
			if err := o.router.SaveMinerBlockToActive(b); err != nil {
				return false, err
			}
			o.metrics.BlocksOrphaned.WithLabelValues("first_seen_fork").Inc()
			return false, nil
		}
	}
	if hasTip {
		// A tip exists with no canonical genesis at index 0: an inconsistent
		// store state this block can't resolve. Treat as fork rejection.
		b.MarkOrphaned("Rejected by first-seen rule", nil)
		if err := o.router.SaveMinerBlockToActive(b); err != nil {
			return false, err
		}
		o.metrics.BlocksOrphaned.WithLabelValues("inconsistent_tip").Inc()
		return false, nil
	}
	if err := o.commitCanonicalLocked(b); err != nil {
		return false, err
	}
	o.metrics.BlocksAccepted.Inc()
	o.log.WithFields(logrus.Fields{"hash": b.Hash}).Info("accepted genesis block")
	return true, nil
}

// commitCanonicalLocked marks b canonical, persists it, advances the tip,
// and promotes any children that were waiting on it.
func (o *Observer) commitCanonicalLocked(b *model.MinerBlock) error {
	b.MarkCanonical()
	if err := o.router.SaveMinerBlockToActive(b); err != nil {
		return err
	}
	if err := o.setTip(b.Index, b.Hash); err != nil {
		return err
	}
	return o.promoteChildrenLocked(b.Hash)
}

// promoteChildrenLocked re-evaluates every block that was orphaned waiting
// on parent (orphan promotion). A child may itself still be rejected (e.g.
// a second gap), in which case it stays orphaned and its own pending entry
// is left for its eventual parent.
func (o *Observer) promoteChildrenLocked(parent model.Hash) error {
	children, err := o.pendingChildrenOf(parent)
	if err != nil {
		return err
	}
	for _, childHash := range children {
		if err := o.removePending(parent, childHash); err != nil {
			return err
		}
		child, _, found, err := o.router.FindMinerBlockByHash(childHash)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if _, err := o.acceptLocked(child); err != nil {
			return err
		}
	}
	return nil
}
