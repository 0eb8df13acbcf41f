package sync_test

import (
	"context"
	"testing"

	"modalnode/kv"
	"modalnode/model"
	"modalnode/multistore"
	"modalnode/observer"
	"modalnode/sync"
)

func newTestObserver(t *testing.T) *observer.Observer {
	t.Helper()
	stores := map[multistore.StoreName]kv.Store{
		multistore.MinerActive:     kv.NewMemory(),
		multistore.MinerCanon:      kv.NewMemory(),
		multistore.MinerForks:      kv.NewMemory(),
		multistore.ValidatorActive: kv.NewMemory(),
		multistore.ValidatorFinal:  kv.NewMemory(),
	}
	router := multistore.New(stores, multistore.DefaultConfig(), nil)
	return observer.New(router, 160, nil, nil)
}

func mkDiffBlock(index uint64, hashByte, prevByte byte, difficulty int64) *model.MinerBlock {
	var h, prev model.Hash
	h[0] = hashByte
	prev[0] = prevByte
	return &model.MinerBlock{
		Hash: h, Index: index, PreviousHash: prev,
		Nonce: model.DecimalFromInt64(0), Difficulty: model.DecimalFromInt64(difficulty),
	}
}

// fakePeer implements sync.Peer entirely from an in-memory chain, so
// FindCommonAncestor and BlocksRange exercise the real algorithm against a
// scripted remote.
type fakePeer struct {
	id    string
	chain []*model.MinerBlock // index-ordered
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) ChainInfo(ctx context.Context) (sync.ChainInfo, error) {
	return sync.ChainInfo{ChainLength: uint64(len(p.chain)), CumulativeDifficulty: p.cumulativeDiff()}, nil
}

func (p *fakePeer) cumulativeDiff() model.Decimal {
	total := model.DecimalFromInt64(0)
	for _, b := range p.chain {
		total, _ = total.CheckedAdd(b.Difficulty)
	}
	return total
}

func (p *fakePeer) FindAncestor(ctx context.Context, checkpoints []sync.Checkpoint) (sync.FindAncestorResponse, error) {
	resp := sync.FindAncestorResponse{ChainLength: uint64(len(p.chain)), CumulativeDifficulty: p.cumulativeDiff()}
	var highest *uint64
	for _, cp := range checkpoints {
		matches := cp.Index < uint64(len(p.chain)) && p.chain[cp.Index].Hash == cp.Hash
		resp.Matches = append(resp.Matches, sync.CheckpointMatch{Index: cp.Index, Matches: matches})
		if matches {
			idx := cp.Index
			if highest == nil || idx > *highest {
				highest = &idx
			}
		}
	}
	resp.HighestMatch = highest
	return resp, nil
}

func (p *fakePeer) BlocksRange(ctx context.Context, from, to uint64) ([]*model.MinerBlock, error) {
	var out []*model.MinerBlock
	for idx := from; idx <= to && idx < uint64(len(p.chain)); idx++ {
		out = append(out, p.chain[idx])
	}
	return out, nil
}

// TestSyncAdoptsHeavierChain reproduces spec scenario S5: local chain has
// cumulative difficulty 2000, the remote chain shares genesis but diverges
// at index 1 with cumulative difficulty 4000. Adoption must orphan B1 and
// make B2' the new canonical tip.
func TestSyncAdoptsHeavierChain(t *testing.T) {
	o := newTestObserver(t)

	genesis := mkDiffBlock(0, 0xAA, 0x00, 1000)
	if ok, err := o.ProcessGossipedBlock(genesis); err != nil || !ok {
		t.Fatalf("genesis accept: ok=%v err=%v", ok, err)
	}
	b1 := mkDiffBlock(1, 0x01, genesis.Hash[0], 1000)
	if ok, err := o.ProcessGossipedBlock(b1); err != nil || !ok {
		t.Fatalf("b1 accept: ok=%v err=%v", ok, err)
	}

	remoteB1 := mkDiffBlock(1, 0xB1, genesis.Hash[0], 1500)
	remoteB2 := mkDiffBlock(2, 0xB2, remoteB1.Hash[0], 1500)
	peer := &fakePeer{id: "peer-1", chain: []*model.MinerBlock{genesis, remoteB1, remoteB2}}

	coord := sync.NewCoordinator(o, 0, nil, nil)
	decision, report, err := coord.SyncWithPeer(context.Background(), peer)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if decision != sync.Adopt {
		t.Fatalf("expected Adopt, got %s", decision)
	}
	if !report.Repaired && report.BreakPoint != nil {
		t.Fatalf("unexpected integrity break after adoption: %+v", report)
	}

	canon, err := o.Router().FindAllCanonicalMinerBlocks()
	if err != nil {
		t.Fatalf("find canonical: %v", err)
	}
	var tip *model.MinerBlock
	for _, b := range canon {
		if tip == nil || b.Index > tip.Index {
			tip = b
		}
	}
	if tip == nil || tip.Hash != remoteB2.Hash {
		t.Fatalf("expected canonical tip to be remote B2, got %+v", tip)
	}

	orphaned, err := o.Router().FindAllOrphanedMinerBlocks()
	if err != nil {
		t.Fatalf("find orphaned: %v", err)
	}
	foundOldB1 := false
	for _, b := range orphaned {
		if b.Hash == b1.Hash {
			foundOldB1 = true
			if b.CompetingHash == nil || *b.CompetingHash != b1.Hash {
				t.Fatalf("expected competing_hash to point at the orphaned block's own old hash slot, got %+v", b.CompetingHash)
			}
		}
	}
	if !foundOldB1 {
		t.Fatalf("expected local B1 to be orphaned after adoption")
	}

	_, totalDiff, err := coord.LocalChainState()
	if err != nil {
		t.Fatalf("local chain state: %v", err)
	}
	if totalDiff.Cmp(model.DecimalFromInt64(4000)) != 0 {
		t.Fatalf("expected cumulative difficulty 4000, got %s", totalDiff.String())
	}
}

func TestSyncKeepsLighterChain(t *testing.T) {
	o := newTestObserver(t)
	genesis := mkDiffBlock(0, 0xAA, 0x00, 1000)
	if ok, err := o.ProcessGossipedBlock(genesis); err != nil || !ok {
		t.Fatalf("genesis accept: ok=%v err=%v", ok, err)
	}
	b1 := mkDiffBlock(1, 0x01, genesis.Hash[0], 2000)
	if ok, err := o.ProcessGossipedBlock(b1); err != nil || !ok {
		t.Fatalf("b1 accept: ok=%v err=%v", ok, err)
	}

	lighterRemote := mkDiffBlock(1, 0x02, genesis.Hash[0], 500)
	peer := &fakePeer{id: "peer-2", chain: []*model.MinerBlock{genesis, lighterRemote}}

	coord := sync.NewCoordinator(o, 0, nil, nil)
	decision, _, err := coord.SyncWithPeer(context.Background(), peer)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if decision != sync.Keep {
		t.Fatalf("expected Keep, got %s", decision)
	}
}

// blockingPeer blocks inside FindAncestor until release is closed, letting
// the test observe a second SyncWithPeer call for the same peer id being
// rejected by the syncing-peer-set guard while the first is still running.
type blockingPeer struct {
	fakePeer
	started chan struct{}
	release chan struct{}
}

func (p *blockingPeer) FindAncestor(ctx context.Context, checkpoints []sync.Checkpoint) (sync.FindAncestorResponse, error) {
	close(p.started)
	<-p.release
	return p.fakePeer.FindAncestor(ctx, checkpoints)
}

func TestSyncingPeerSetRejectsDuplicateTask(t *testing.T) {
	o := newTestObserver(t)
	genesis := mkDiffBlock(0, 0xAA, 0x00, 1000)
	if ok, err := o.ProcessGossipedBlock(genesis); err != nil || !ok {
		t.Fatalf("genesis accept: ok=%v err=%v", ok, err)
	}

	peer := &blockingPeer{
		fakePeer: fakePeer{id: "peer-4", chain: []*model.MinerBlock{genesis}},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	coord := sync.NewCoordinator(o, 0, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, _, err := coord.SyncWithPeer(context.Background(), peer)
		done <- err
	}()

	<-peer.started
	if _, _, err := coord.SyncWithPeer(context.Background(), peer); err == nil {
		t.Fatalf("expected concurrent sync against the same peer to be rejected")
	}
	close(peer.release)
	if err := <-done; err != nil {
		t.Fatalf("first sync task failed: %v", err)
	}
}
