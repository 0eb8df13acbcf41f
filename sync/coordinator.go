package sync

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"modalnode/errkind"
	"modalnode/metrics"
	"modalnode/model"
	"modalnode/observer"
)

// maxConcurrentRangeFetches bounds how many batches fetchRange requests from
// a peer at once — a peer-request fan-out limit, not a CPU one.
const maxConcurrentRangeFetches = 4

const defaultRangeFetchBatchSize = 64

// Coordinator drives the fork-choice/sync engine end to end: computing the
// local chain's cumulative difficulty, finding the common ancestor with a
// peer, comparing chains, and — on Adopt — fetching the missing range and
// applying the reorg through Observer.AdoptRemoteChain. It also owns the
// syncing-peer set (section 4.5's concurrency guard): at most one sync task
// runs against a given peer at a time.
type Coordinator struct {
	obs     *observer.Observer
	log     *logrus.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	syncing map[string]struct{}

	rangeFetchBatchSize int
}

// NewCoordinator builds a Coordinator over obs. rangeFetchBatchSize is the
// number of blocks requested per BlocksRange call during adoption; 0
// selects a sensible default. A nil m records to a throwaway registry.
func NewCoordinator(obs *observer.Observer, rangeFetchBatchSize int, log *logrus.Logger, m *metrics.Registry) *Coordinator {
	if rangeFetchBatchSize <= 0 {
		rangeFetchBatchSize = defaultRangeFetchBatchSize
	}
	if log == nil {
		log = logrus.New()
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Coordinator{
		obs:                 obs,
		log:                 log,
		metrics:             m,
		syncing:             make(map[string]struct{}),
		rangeFetchBatchSize: rangeFetchBatchSize,
	}
}

// beginSync claims the syncing token for peerID, returning false if a sync
// task against that peer is already running.
func (c *Coordinator) beginSync(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.syncing[peerID]; ok {
		return false
	}
	c.syncing[peerID] = struct{}{}
	return true
}

func (c *Coordinator) endSync(peerID string) {
	c.mu.Lock()
	delete(c.syncing, peerID)
	c.mu.Unlock()
}

// LocalChainState returns the local canonical chain sorted by index and its
// cumulative difficulty — the sum of every canonical block's Difficulty
// field (glossary: "Cumulative difficulty"). Overflow is reported as an
// Integrity error rather than silently wrapping, per the design note on
// unbounded-difficulty arithmetic.
func (c *Coordinator) LocalChainState() ([]*model.MinerBlock, model.Decimal, error) {
	blocks, err := c.obs.Router().FindAllCanonicalMinerBlocks()
	if err != nil {
		return nil, model.Decimal{}, err
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Index < blocks[j].Index })

	total := model.DecimalFromInt64(0)
	for _, b := range blocks {
		next, err := total.CheckedAdd(b.Difficulty)
		if err != nil {
			return nil, model.Decimal{}, errkind.Wrap(errkind.Integrity, err, "cumulative difficulty overflow")
		}
		total = next
	}
	return blocks, total, nil
}

// SyncWithPeer runs one full fork-choice cycle against peer per section 4.5:
// find the common ancestor, compare cumulative difficulty (length as
// tiebreak), and on Adopt fetch the missing range and apply the reorg.
// Keep/Tie leave local state untouched. Concurrent Adopt decisions racing in
// from different peers still resolve to the single heaviest chain, because
// AdoptRemoteChain serializes behind Observer's own mutex (Open Question 1
// in DESIGN.md) — this method's syncing-peer guard only prevents duplicate
// tasks against the *same* peer, it is not itself the fork-choice lock.
func (c *Coordinator) SyncWithPeer(ctx context.Context, peer Peer) (Decision, observer.ChainIntegrityReport, error) {
	peerID := peer.ID()
	if !c.beginSync(peerID) {
		return Keep, observer.ChainIntegrityReport{}, errkind.New(errkind.Transient, "sync already in progress for peer "+peerID)
	}
	defer c.endSync(peerID)

	log := c.log.WithFields(logrus.Fields{"peer": peerID, "task": uuid.NewString()})

	local, localDiff, err := c.LocalChainState()
	if err != nil {
		return Keep, observer.ChainIntegrityReport{}, err
	}

	result, err := FindCommonAncestor(ctx, peer, local)
	if err != nil {
		return Keep, observer.ChainIntegrityReport{}, errkind.Wrap(errkind.Transient, err, "find common ancestor")
	}
	if result.AncestorIndex == nil {
		log.Warn("sync: peer shares no common ancestor (different genesis)")
		return Keep, observer.ChainIntegrityReport{}, nil
	}

	decision := CompareChains(localDiff, uint64(len(local)), result.RemoteCumulativeDiff, result.RemoteChainLength)
	if decision != Adopt {
		log.WithField("decision", decision.String()).Info("sync: keeping local chain")
		return decision, observer.ChainIntegrityReport{}, nil
	}

	var from uint64
	if *result.AncestorIndex < result.RemoteChainLength {
		from = *result.AncestorIndex + 1
	}
	blocks, err := c.fetchRange(ctx, peer, from, saturatingSub(result.RemoteChainLength, 1))
	if err != nil {
		return Keep, observer.ChainIntegrityReport{}, errkind.Wrap(errkind.Transient, err, "range fetch")
	}

	report, err := c.obs.AdoptRemoteChain(*result.AncestorIndex, blocks)
	if err != nil {
		return Adopt, report, err
	}
	c.metrics.ChainReorgs.Inc()
	log.WithFields(logrus.Fields{
		"ancestor_index": *result.AncestorIndex,
		"fetched_blocks": len(blocks),
	}).Info("sync: adopted heavier remote chain")
	return Adopt, report, nil
}

// fetchRange requests blocks [from, to] from peer in batches of at most
// rangeFetchBatchSize, per section 4.5's "Range fetch". Batches have no
// data dependency on one another, so they fan out across up to
// maxConcurrentRangeFetches concurrent BlocksRange calls; results are
// written into a pre-sized slice indexed by batch position so the final
// flatten preserves block order regardless of completion order.
func (c *Coordinator) fetchRange(ctx context.Context, peer Peer, from, to uint64) ([]*model.MinerBlock, error) {
	if to < from {
		return nil, nil
	}
	batch := uint64(c.rangeFetchBatchSize)
	var starts []uint64
	for start := from; start <= to; start += batch {
		starts = append(starts, start)
	}

	results := make([][]*model.MinerBlock, len(starts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRangeFetches)
	for i, start := range starts {
		i, start := i, start
		g.Go(func() error {
			end := start + batch - 1
			if end > to {
				end = to
			}
			got, err := peer.BlocksRange(gctx, start, end)
			if err != nil {
				return err
			}
			results[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*model.MinerBlock
	for _, batchBlocks := range results {
		out = append(out, batchBlocks...)
	}
	return out, nil
}
