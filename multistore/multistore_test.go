package multistore_test

import (
	"testing"

	"modalnode/kv"
	"modalnode/model"
	"modalnode/multistore"
)

func newRouter(t *testing.T) *multistore.Router {
	t.Helper()
	stores := map[multistore.StoreName]kv.Store{
		multistore.MinerActive:     kv.NewMemory(),
		multistore.MinerCanon:      kv.NewMemory(),
		multistore.MinerForks:      kv.NewMemory(),
		multistore.ValidatorActive: kv.NewMemory(),
		multistore.ValidatorFinal:  kv.NewMemory(),
	}
	cfg := multistore.Config{BlocksPerEpoch: 10, PromoteAfter: 2, PurgeAfter: 12, RetainRounds: 10}
	return multistore.New(stores, cfg, nil)
}

func block(index uint64, hashByte byte, canonical, orphaned bool) *model.MinerBlock {
	var h model.Hash
	h[0] = hashByte
	b := &model.MinerBlock{Hash: h, Index: index, Epoch: model.Epoch(index, 10)}
	if canonical {
		b.MarkCanonical()
	}
	if orphaned {
		b.MarkOrphaned("test", nil)
	}
	return b
}

func TestFindByHashSearchesActiveThenCanonThenForks(t *testing.T) {
	r := newRouter(t)
	b := block(1, 0xAA, true, false)
	if err := r.SaveMinerBlockToActive(b); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, store, ok, err := r.FindMinerBlockByHash(b.Hash)
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if store != multistore.MinerActive {
		t.Fatalf("store = %v, want MinerActive", store)
	}
	if got.Index != 1 {
		t.Fatalf("index = %d, want 1", got.Index)
	}
}

func TestRunPromotionMovesSettledBlocksAndLeavesPending(t *testing.T) {
	r := newRouter(t)
	canon := block(5, 0x01, true, false)   // epoch 0
	orphan := block(6, 0x02, false, true)  // epoch 0
	pending := block(7, 0x03, false, false) // epoch 0, neither flag set
	for _, b := range []*model.MinerBlock{canon, orphan, pending} {
		if err := r.SaveMinerBlockToActive(b); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	// Before epoch+2, nothing promotes.
	cc, oc, err := r.RunPromotion(1)
	if err != nil || cc != 0 || oc != 0 {
		t.Fatalf("premature promotion: cc=%d oc=%d err=%v", cc, oc, err)
	}

	cc, oc, err = r.RunPromotion(2)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if cc != 1 || oc != 1 {
		t.Fatalf("cc=%d oc=%d, want 1,1", cc, oc)
	}

	if _, ok, err := r.FindMinerBlockByHash(canon.Hash); err != nil || !ok {
		t.Fatalf("canon block missing after promotion: ok=%v err=%v", ok, err)
	}
	all, err := r.FindAllCanonicalMinerBlocks()
	if err != nil || len(all) != 1 {
		t.Fatalf("canonical set = %d, want 1 (err=%v)", len(all), err)
	}
	allOrphan, err := r.FindAllOrphanedMinerBlocks()
	if err != nil || len(allOrphan) != 1 {
		t.Fatalf("orphan set = %d, want 1 (err=%v)", len(allOrphan), err)
	}

	// Idempotent: running again at the same epoch promotes nothing new.
	cc, oc, err = r.RunPromotion(2)
	if err != nil || cc != 0 || oc != 0 {
		t.Fatalf("expected idempotent no-op, got cc=%d oc=%d err=%v", cc, oc, err)
	}

	// The pending block, having no flag set, never promotes.
	pendingBlocks, err := r.BlocksToPromote(100)
	if err != nil {
		t.Fatalf("blocks to promote: %v", err)
	}
	for _, b := range pendingBlocks {
		if b.Hash == pending.Hash {
			t.Fatalf("pending block should never appear as promotable")
		}
	}
}

func TestRunPurgeRequiresPriorPromotion(t *testing.T) {
	r := newRouter(t)
	b := block(1, 0xAA, true, false) // epoch 0
	if err := r.SaveMinerBlockToActive(b); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Purge at epoch 12 without promotion having run must not delete: the
	// block has no Canon counterpart yet.
	purged, err := r.RunPurge(12)
	if err != nil || purged != 0 {
		t.Fatalf("purge without promotion: purged=%d err=%v", purged, err)
	}
	if _, _, ok, _ := r.FindMinerBlockByHash(b.Hash); !ok {
		t.Fatalf("block should still be in Active")
	}

	if _, _, err := r.RunPromotion(2); err != nil {
		t.Fatalf("promote: %v", err)
	}
	purged, err = r.RunPurge(12)
	if err != nil || purged != 1 {
		t.Fatalf("purge=%d, want 1 (err=%v)", purged, err)
	}
	// Still found via Canon.
	_, store, ok, err := r.FindMinerBlockByHash(b.Hash)
	if err != nil || !ok {
		t.Fatalf("block should remain visible via Canon: ok=%v err=%v", ok, err)
	}
	if store != multistore.MinerCanon {
		t.Fatalf("store = %v, want MinerCanon", store)
	}
}

func TestFindCanonicalByIndexSearchesActiveBeforePromotion(t *testing.T) {
	r := newRouter(t)
	b := block(3, 0x09, true, false) // epoch 0
	if err := r.SaveMinerBlockToActive(b); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := r.FindCanonicalMinerBlockByIndex(3, 0)
	if err != nil || !ok || got.Hash != b.Hash {
		t.Fatalf("find canonical by index (pre-promotion): ok=%v err=%v", ok, err)
	}
	if _, _, err := r.RunPromotion(2); err != nil {
		t.Fatalf("promote: %v", err)
	}
	got, ok, err = r.FindCanonicalMinerBlockByIndex(3, 2)
	if err != nil || !ok || got.Hash != b.Hash {
		t.Fatalf("find canonical by index (post-promotion): ok=%v err=%v", ok, err)
	}
}

func TestValidatorDraftCertifyAndPurge(t *testing.T) {
	r := newRouter(t)
	var peer model.Address
	peer[0] = 0x7
	v := &model.ValidatorBlock{Round: 1, PeerID: peer}
	if err := r.SaveValidatorDraft(v); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if _, ok, err := r.FindValidatorBlock(1, peer); err != nil || !ok {
		t.Fatalf("find draft: ok=%v err=%v", ok, err)
	}

	// Purge before retain window elapses: no-op.
	n, err := r.PurgeValidatorDrafts(5)
	if err != nil || n != 0 {
		t.Fatalf("premature purge: n=%d err=%v", n, err)
	}

	// Purge after the window but before certification: still a no-op, since
	// an uncertified draft must never be silently dropped.
	n, err = r.PurgeValidatorDrafts(11)
	if err != nil || n != 0 {
		t.Fatalf("purge of uncertified draft: n=%d err=%v", n, err)
	}

	if err := r.CertifyValidatorBlock(v); err != nil {
		t.Fatalf("certify: %v", err)
	}
	n, err = r.PurgeValidatorDrafts(11)
	if err != nil || n != 1 {
		t.Fatalf("purge after certify: n=%d err=%v", n, err)
	}
	if _, ok, err := r.FindValidatorBlock(1, peer); err != nil || !ok {
		t.Fatalf("certified block should still resolve via Final: ok=%v err=%v", ok, err)
	}
}
