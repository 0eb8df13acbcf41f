package predicate_test

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"modalnode/predicate"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func ctx() predicate.Context {
	return predicate.Context{ContractID: "contract-1", BlockHeight: 10, Timestamp: 1000}
}

func TestSignedByAcceptsMatchingSignature(t *testing.T) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := ethcrypto.PubkeyToAddress(priv.PublicKey)

	message := []byte("hello predicate")
	digest := ethcrypto.Keccak256(message)
	sig, err := ethcrypto.Sign(digest, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := predicate.New(1_000_000, nil, nil)
	data := mustJSON(t, map[string]string{
		"message":   hex.EncodeToString(message),
		"signature": hex.EncodeToString(sig),
		"address":   hex.EncodeToString(addr.Bytes()),
	})

	result, err := r.Evaluate("signed_by", predicate.Input{Context: ctx(), Data: data}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got errors %v", result.Errors)
	}
	if result.GasUsed == 0 {
		t.Fatalf("expected nonzero gas usage")
	}
}

func TestSignedByRejectsWrongSigner(t *testing.T) {
	priv, _ := ethcrypto.GenerateKey()
	otherPriv, _ := ethcrypto.GenerateKey()
	addr := ethcrypto.PubkeyToAddress(priv.PublicKey)

	message := []byte("hello predicate")
	digest := ethcrypto.Keccak256(message)
	sig, _ := ethcrypto.Sign(digest, otherPriv)

	r := predicate.New(1_000_000, nil, nil)
	data := mustJSON(t, map[string]string{
		"message":   hex.EncodeToString(message),
		"signature": hex.EncodeToString(sig),
		"address":   hex.EncodeToString(addr.Bytes()),
	})

	result, err := r.Evaluate("signed_by", predicate.Input{Context: ctx(), Data: data}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected invalid for mismatched signer")
	}
}

func TestAmountInRange(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	data := mustJSON(t, map[string]string{"amount": "50", "min": "10", "max": "100"})

	result, err := r.Evaluate("amount_in_range", predicate.Input{Context: ctx(), Data: data}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected amount within range to be valid, got %v", result.Errors)
	}

	outOfRange := mustJSON(t, map[string]string{"amount": "500", "min": "10", "max": "100"})
	result, err = r.Evaluate("amount_in_range", predicate.Input{Context: ctx(), Data: outOfRange}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected amount outside range to be invalid")
	}
}

func TestHasProperty(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	data := mustJSON(t, map[string]any{
		"object":   map[string]any{"owner": "alice"},
		"property": "owner",
	})

	result, err := r.Evaluate("has_property", predicate.Input{Context: ctx(), Data: data}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected property present, got %v", result.Errors)
	}

	missing := mustJSON(t, map[string]any{
		"object":   map[string]any{"owner": "alice"},
		"property": "balance",
	})
	result, err = r.Evaluate("has_property", predicate.Input{Context: ctx(), Data: missing}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected missing property to be invalid")
	}
}

func TestTimestampValid(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	within := mustJSON(t, map[string]int64{"timestamp": 990, "tolerance_seconds": 20})
	result, err := r.Evaluate("timestamp_valid", predicate.Input{Context: ctx(), Data: within}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected timestamp within tolerance to be valid, got %v", result.Errors)
	}

	outside := mustJSON(t, map[string]int64{"timestamp": 500, "tolerance_seconds": 20})
	result, err = r.Evaluate("timestamp_valid", predicate.Input{Context: ctx(), Data: outside}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected timestamp outside tolerance to be invalid")
	}
}

func TestPostToPath(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	data := mustJSON(t, map[string]any{
		"path":           "/accounts/alice/balance",
		"current_value":  5,
		"proposed_value": 5,
	})
	result, err := r.Evaluate("post_to_path", predicate.Input{Context: ctx(), Data: data}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected matching values to be valid, got %v", result.Errors)
	}

	mismatch := mustJSON(t, map[string]any{
		"path":           "/accounts/alice/balance",
		"current_value":  5,
		"proposed_value": 6,
	})
	result, err = r.Evaluate("post_to_path", predicate.Input{Context: ctx(), Data: mismatch}, 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected mismatched values to be invalid")
	}
}

func TestComparators(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)

	textData := mustJSON(t, map[string]any{"op": "eq", "a": "alice", "b": "alice"})
	result, err := r.Evaluate("text_equals", predicate.Input{Context: ctx(), Data: textData}, 0)
	if err != nil {
		t.Fatalf("evaluate text_equals: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected equal text to be valid")
	}

	numericData := mustJSON(t, map[string]any{"op": "gt", "a": "10", "b": "3"})
	result, err = r.Evaluate("numeric_compare", predicate.Input{Context: ctx(), Data: numericData}, 0)
	if err != nil {
		t.Fatalf("evaluate numeric_compare: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected 10 > 3 to be valid")
	}

	boolData := mustJSON(t, map[string]any{"op": "ne", "a": true, "b": false})
	result, err = r.Evaluate("boolean_equals", predicate.Input{Context: ctx(), Data: boolData}, 0)
	if err != nil {
		t.Fatalf("evaluate boolean_equals: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected true != false to be valid")
	}
}

func TestGasCeilingRejectsEvaluation(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	data := mustJSON(t, map[string]string{"amount": "50", "min": "10", "max": "100"})

	if _, err := r.Evaluate("amount_in_range", predicate.Input{Context: ctx(), Data: data}, 1); err == nil {
		t.Fatalf("expected a near-zero gas ceiling to reject evaluation")
	}
}

func TestUnknownPredicateIsMissing(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	if _, err := r.Evaluate("does_not_exist", predicate.Input{Context: ctx()}, 0); err == nil {
		t.Fatalf("expected unknown predicate name to fail")
	}
}

func TestRegisterModuleRejectsEmptyBytecode(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	if err := r.RegisterModule("contract-1", "custom_check", nil); err == nil {
		t.Fatalf("expected empty bytecode registration to fail")
	}
}

func TestRegisterModuleThenEvaluateMalformedModuleFails(t *testing.T) {
	r := predicate.New(1_000_000, nil, nil)
	// Not a real WASM module, but enough to exercise the register/lookup path;
	// compilation failure itself is the expected outcome here, not a panic.
	if err := r.RegisterModule("contract-1", "custom_check", []byte{0x00, 0x61, 0x73, 0x6d}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Evaluate("custom_check", predicate.Input{Context: ctx(), Data: mustJSON(t, map[string]string{})}, 0); err == nil {
		t.Fatalf("expected malformed wasm module to fail evaluation")
	}
}
