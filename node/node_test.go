package node

import (
	"testing"

	"modalnode/certificate"
	"modalnode/config"
	"modalnode/kv"
	"modalnode/model"
	"modalnode/multistore"
)

func newTestNode(t *testing.T, committee []model.Address) *Node {
	t.Helper()
	stores := map[multistore.StoreName]kv.Store{
		multistore.MinerActive:     kv.NewMemory(),
		multistore.MinerCanon:      kv.NewMemory(),
		multistore.MinerForks:      kv.NewMemory(),
		multistore.ValidatorActive: kv.NewMemory(),
		multistore.ValidatorFinal:  kv.NewMemory(),
	}
	n, err := New(config.Defaults(), stores, Options{Committee: committee}, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func mkBlock(index uint64, hashByte, prevHashByte byte) *model.MinerBlock {
	var h, prev model.Hash
	h[0] = hashByte
	prev[0] = prevHashByte
	return &model.MinerBlock{
		Hash:         h,
		Index:        index,
		PreviousHash: prev,
		Nonce:        model.DecimalFromInt64(0),
		Difficulty:   model.DecimalFromInt64(1),
	}
}

func TestNewRejectsIncompleteStoreSet(t *testing.T) {
	stores := map[multistore.StoreName]kv.Store{
		multistore.MinerActive: kv.NewMemory(),
	}
	if _, err := New(config.Defaults(), stores, Options{}, nil); err == nil {
		t.Fatalf("expected error for missing store backends")
	}
}

func TestAcceptMinerBlockAcceptsGenesisThenChildThenRejectsFork(t *testing.T) {
	n := newTestNode(t, nil)

	genesis := mkBlock(0, 0x01, 0x00)
	ok, err := n.AcceptMinerBlock(genesis)
	if err != nil || !ok {
		t.Fatalf("genesis accept: ok=%v err=%v", ok, err)
	}

	child := mkBlock(1, 0x02, genesis.Hash[0])
	ok, err = n.AcceptMinerBlock(child)
	if err != nil || !ok {
		t.Fatalf("child accept: ok=%v err=%v", ok, err)
	}

	fork := mkBlock(1, 0x03, genesis.Hash[0])
	ok, err = n.AcceptMinerBlock(fork)
	if err != nil {
		t.Fatalf("process fork: %v", err)
	}
	if ok {
		t.Fatalf("competing block at an already-canonical index must be rejected")
	}
	if !fork.IsOrphaned {
		t.Fatalf("rejected fork should be recorded as orphan")
	}
}

func TestBeginCertificateReturnsSameBuilderForSameDigest(t *testing.T) {
	n := newTestNode(t, nil)
	var digest model.Hash
	digest[0] = 0xAA
	var author model.Address
	author[0] = 0x01

	b1 := n.BeginCertificate(digest, author, 1, nil)
	b2 := n.BeginCertificate(digest, author, 1, nil)
	if b1 != b2 {
		t.Fatalf("expected the same in-flight builder to be returned")
	}
}

func TestFinalizeCertificateRejectsUnknownDigest(t *testing.T) {
	n := newTestNode(t, nil)
	var digest model.Hash
	digest[0] = 0xBB

	if _, _, err := n.FinalizeCertificate(digest); err == nil {
		t.Fatalf("expected error finalizing a digest with no in-flight builder")
	}
}

func TestBeginAndFinalizeCertificateRoundTrip(t *testing.T) {
	committee := make([]model.Address, 4)
	for i := range committee {
		committee[i][0] = byte(i + 1)
	}
	n := newTestNode(t, committee)

	var digest model.Hash
	digest[0] = 0xCC

	b := n.BeginCertificate(digest, committee[0], 1, nil)
	for _, v := range committee[:certificate.Quorum(len(committee))] {
		b.AddVote(v, []byte("sig"))
	}

	cert, committed, err := n.FinalizeCertificate(digest)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cert == nil || cert.Digest != digest {
		t.Fatalf("expected a certificate for digest, got %+v", cert)
	}
	_ = committed

	if _, _, err := n.FinalizeCertificate(digest); err == nil {
		t.Fatalf("expected finalizing a consumed builder to fail")
	}
}

func TestAcceptAckValidatesClosingSignaturePresence(t *testing.T) {
	n := newTestNode(t, nil)
	var author, peerID, acker model.Address
	author[0], peerID[0], acker[0] = 0x01, 0x02, 0x03

	ok, err := n.AcceptAck(1, author, peerID, acker, nil, nil)
	if err == nil && ok {
		t.Fatalf("expected an ack with no signatures to be rejected or erroring")
	}
}

func TestAccessorsReturnWiredComponents(t *testing.T) {
	n := newTestNode(t, nil)
	if n.Router() == nil || n.Observer() == nil || n.SyncCoordinator() == nil ||
		n.Checkpoints() == nil || n.DAG() == nil || n.Reputation() == nil ||
		n.Consensus() == nil || n.Contracts() == nil || n.Predicates() == nil {
		t.Fatalf("expected every accessor to return a non-nil component")
	}
}

func TestCloseIsIdempotentSafeOnStores(t *testing.T) {
	n := newTestNode(t, nil)
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
