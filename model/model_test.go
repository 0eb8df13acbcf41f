package model_test

import (
	"encoding/json"
	"testing"

	"modalnode/model"
)

func TestMinerBlockKeyPaths(t *testing.T) {
	var h model.Hash
	h[0] = 0xAB
	b := &model.MinerBlock{Hash: h, Index: 7}
	if got, want := b.KeyPath(), "/miner_blocks/hash/"+h.Hex(); got != want {
		t.Fatalf("KeyPath = %q, want %q", got, want)
	}
	if got, want := b.IndexKeyPath(), "/miner_blocks/index/7/hash/"+h.Hex(); got != want {
		t.Fatalf("IndexKeyPath = %q, want %q", got, want)
	}
}

func TestMarkOrphanedClearsCanonical(t *testing.T) {
	b := &model.MinerBlock{}
	b.MarkCanonical()
	if !b.IsCanonical || b.IsOrphaned {
		t.Fatalf("expected canonical after MarkCanonical: %+v", b)
	}
	var competing model.Hash
	competing[0] = 1
	b.MarkOrphaned("Rejected by first-seen rule", &competing)
	if b.IsCanonical {
		t.Fatalf("expected IsCanonical cleared after MarkOrphaned")
	}
	if !b.IsOrphaned || b.OrphanReason == "" {
		t.Fatalf("expected orphan metadata set: %+v", b)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDecodeFillsMissingFieldsFromDefaults(t *testing.T) {
	raw := []byte(`{"hash":"","index":3}`)
	defaults := map[string]json.RawMessage{
		"is_canonical": json.RawMessage("true"),
	}
	var out struct {
		Index       uint64 `json:"index"`
		IsCanonical bool   `json:"is_canonical"`
	}
	if err := model.Decode(raw, defaults, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Index != 3 {
		t.Fatalf("index = %d, want 3", out.Index)
	}
	if !out.IsCanonical {
		t.Fatalf("expected default is_canonical=true to be applied")
	}
}

func TestDecimalRoundTripsThroughJSONAsString(t *testing.T) {
	d, err := model.DecimalFromString("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"123456789012345678901234567890"` {
		t.Fatalf("expected quoted decimal string, got %s", raw)
	}
	var d2 model.Decimal
	if err := json.Unmarshal(raw, &d2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Cmp(d2) != 0 {
		t.Fatalf("round trip mismatch: %s != %s", d, d2)
	}
}

func TestDecimalCheckedAddRejectsOversizedSum(t *testing.T) {
	huge, _ := model.DecimalFromString("1" + repeat("0", 2000))
	_, err := huge.CheckedAdd(huge)
	if err == nil {
		t.Fatalf("expected checked-add to reject an oversized sum")
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s[0])
	}
	return string(out)
}
