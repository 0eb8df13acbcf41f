package transport

import (
	"encoding/json"
	"testing"

	"modalnode/model"
	"modalnode/sync"
)

// TestMinerBlockRoundTripsThroughJSON exercises the same marshal/unmarshal
// path BroadcastMinerBlock/SubscribeMinerBlocks use, without requiring an
// actual libp2p host — the wire format is the thing under test here, not
// libp2p's transport behavior.
func TestMinerBlockRoundTripsThroughJSON(t *testing.T) {
	var h model.Hash
	h[0] = 0xAB
	block := &model.MinerBlock{
		Hash:       h,
		Index:      7,
		Nonce:      model.DecimalFromInt64(42),
		Difficulty: model.DecimalFromInt64(1000),
	}

	data, err := json.Marshal(block)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got model.MinerBlock
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Hash != block.Hash || got.Index != block.Index {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, block)
	}
	if got.Difficulty.Cmp(block.Difficulty) != 0 {
		t.Fatalf("difficulty mismatch: got %s, want %s", got.Difficulty, block.Difficulty)
	}
}

func TestCertificateRoundTripsThroughJSON(t *testing.T) {
	var digest model.Hash
	digest[0] = 0xCD
	cert := &model.Certificate{
		Digest:  digest,
		Round:   3,
		Parents: []model.Hash{digest},
		Signers: []bool{true, false, true},
	}

	data, err := json.Marshal(cert)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got model.Certificate
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Digest != cert.Digest || got.Round != cert.Round || len(got.Signers) != len(cert.Signers) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cert)
	}
}

// TestFindAncestorRequestRoundTripsThroughJSON exercises the wire body the
// find_ancestor stream handler decodes, matching what StreamPeer.FindAncestor
// encodes.
func TestFindAncestorRequestRoundTripsThroughJSON(t *testing.T) {
	var hash model.Hash
	hash[0] = 0x11
	req := findAncestorRequest{Checkpoints: []sync.Checkpoint{{Index: 5, Hash: hash}}}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got findAncestorRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Checkpoints) != 1 || got.Checkpoints[0].Index != 5 || got.Checkpoints[0].Hash != hash {
		t.Fatalf("checkpoint round trip mismatch: got %+v", got)
	}
}

func TestBlocksRangeRequestRoundTripsThroughJSON(t *testing.T) {
	req := blocksRangeRequest{From: 10, To: 20}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got blocksRangeRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.From != 10 || got.To != 20 {
		t.Fatalf("range round trip mismatch: got %+v", got)
	}
}

// newTestHost builds a Host on the loopback interface with an ephemeral
// port, the same pattern core's own tests would use for a throwaway libp2p
// node — used only by the handful of tests that need a live host to confirm
// ID()/Close() don't panic, not for network traffic.
func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := New("/ip4/127.0.0.1/tcp/0", nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHostIDIsStable(t *testing.T) {
	h := newTestHost(t)
	id1 := h.ID()
	id2 := h.ID()
	if id1 == "" || id1 != id2 {
		t.Fatalf("expected stable non-empty host id, got %q and %q", id1, id2)
	}
}

func TestNewStreamPeerRejectsInvalidID(t *testing.T) {
	h := newTestHost(t)
	if _, err := NewStreamPeer(h, "not-a-valid-peer-id"); err == nil {
		t.Fatalf("expected invalid peer id to be rejected")
	}
}
