package predicate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"modalnode/errkind"
	"modalnode/model"
)

// Gas costs for built-ins. Signature recovery is the expensive one; plain
// comparisons are flat-rate, matching the coarse-grained per-opcode costing
// core/gas_table.go uses for its own built-in operations rather than a
// byte-metered cost model.
const (
	gasSignatureOp  uint64 = 200
	gasComparisonOp uint64 = 10
	gasPropertyOp   uint64 = 10
	gasTimestampOp  uint64 = 5
	gasPostToPathOp uint64 = 15
)

func standardBuiltins() map[string]Builtin {
	return map[string]Builtin{
		"signed_by":        signedBy,
		"amount_in_range":  amountInRange,
		"has_property":     hasProperty,
		"timestamp_valid":  timestampValid,
		"post_to_path":     postToPath,
		"text_equals":      comparator(compareText),
		"numeric_compare":  comparator(compareNumeric),
		"boolean_equals":   comparator(compareBoolean),
	}
}

// signedByData is signed_by's input shape: message/signature/address as hex
// strings (0x-prefixed or not), the same recover-and-compare convention
// certificate.AckTracker.Accept uses for ack signatures.
type signedByData struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

func signedBy(input Input, meter *GasMeter) (bool, []string, error) {
	if err := meter.Consume(gasSignatureOp); err != nil {
		return false, nil, err
	}
	var d signedByData
	if err := json.Unmarshal(input.Data, &d); err != nil {
		return false, []string{"malformed signed_by input: " + err.Error()}, nil
	}
	msg, err := decodeHex(d.Message)
	if err != nil {
		return false, []string{"malformed message: " + err.Error()}, nil
	}
	sig, err := decodeHex(d.Signature)
	if err != nil {
		return false, []string{"malformed signature: " + err.Error()}, nil
	}
	wantAddr, err := decodeHex(d.Address)
	if err != nil || len(wantAddr) != len(model.Address{}) {
		return false, []string{"malformed address"}, nil
	}

	digest := ethcrypto.Keccak256(msg)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, []string{"signature recovery failed: " + err.Error()}, nil
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if !bytesEqual(recovered.Bytes(), wantAddr) {
		return false, []string{"signature does not match claimed address"}, nil
	}
	return true, nil, nil
}

// amountInRangeData is amount_in_range's input: unbounded-decimal strings
// per the design note on difficulty/amount arithmetic (model.Decimal),
// rather than a fixed-width integer that could silently overflow.
type amountInRangeData struct {
	Amount string `json:"amount"`
	Min    string `json:"min"`
	Max    string `json:"max"`
}

func amountInRange(input Input, meter *GasMeter) (bool, []string, error) {
	if err := meter.Consume(gasComparisonOp); err != nil {
		return false, nil, err
	}
	var d amountInRangeData
	if err := json.Unmarshal(input.Data, &d); err != nil {
		return false, []string{"malformed amount_in_range input: " + err.Error()}, nil
	}
	amount, err := model.DecimalFromString(d.Amount)
	if err != nil {
		return false, []string{"malformed amount: " + err.Error()}, nil
	}
	min, err := model.DecimalFromString(d.Min)
	if err != nil {
		return false, []string{"malformed min: " + err.Error()}, nil
	}
	max, err := model.DecimalFromString(d.Max)
	if err != nil {
		return false, []string{"malformed max: " + err.Error()}, nil
	}
	if amount.Cmp(min) < 0 || amount.Cmp(max) > 0 {
		return false, []string{fmt.Sprintf("amount %s outside [%s, %s]", amount, min, max)}, nil
	}
	return true, nil, nil
}

// hasPropertyData is has_property's input: an arbitrary JSON object and a
// dotted-free top-level property name to look for.
type hasPropertyData struct {
	Object   map[string]json.RawMessage `json:"object"`
	Property string                     `json:"property"`
}

func hasProperty(input Input, meter *GasMeter) (bool, []string, error) {
	if err := meter.Consume(gasPropertyOp); err != nil {
		return false, nil, err
	}
	var d hasPropertyData
	if err := json.Unmarshal(input.Data, &d); err != nil {
		return false, []string{"malformed has_property input: " + err.Error()}, nil
	}
	if _, ok := d.Object[d.Property]; !ok {
		return false, []string{"property not present: " + d.Property}, nil
	}
	return true, nil, nil
}

// timestampValidData is timestamp_valid's input: a timestamp to check
// against the invocation context's block timestamp, within tolerance.
type timestampValidData struct {
	Timestamp        int64 `json:"timestamp"`
	ToleranceSeconds int64 `json:"tolerance_seconds"`
}

func timestampValid(input Input, meter *GasMeter) (bool, []string, error) {
	if err := meter.Consume(gasTimestampOp); err != nil {
		return false, nil, err
	}
	var d timestampValidData
	if err := json.Unmarshal(input.Data, &d); err != nil {
		return false, []string{"malformed timestamp_valid input: " + err.Error()}, nil
	}
	delta := input.Context.Timestamp - d.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > d.ToleranceSeconds {
		return false, []string{fmt.Sprintf("timestamp %d outside %ds tolerance of context timestamp %d", d.Timestamp, d.ToleranceSeconds, input.Context.Timestamp)}, nil
	}
	return true, nil, nil
}

// postToPathData is post_to_path's input: a proposed value for a path and
// the path's current value, the same equality contractstore's REPOST
// validation performs (jsonValuesEqual in repost.go) but exposed here as a
// predicate so modal ACTION/RULE commits can gate on it without importing
// contractstore.
type postToPathData struct {
	Path          string          `json:"path"`
	CurrentValue  json.RawMessage `json:"current_value"`
	ProposedValue json.RawMessage `json:"proposed_value"`
}

func postToPath(input Input, meter *GasMeter) (bool, []string, error) {
	if err := meter.Consume(gasPostToPathOp); err != nil {
		return false, nil, err
	}
	var d postToPathData
	if err := json.Unmarshal(input.Data, &d); err != nil {
		return false, []string{"malformed post_to_path input: " + err.Error()}, nil
	}
	if !jsonValuesEqual(d.CurrentValue, d.ProposedValue) {
		return false, []string{"proposed value does not match current value at " + d.Path}, nil
	}
	return true, nil, nil
}

// comparatorData is the shared input shape for the text/numeric/boolean
// comparator family: an operator plus two operands.
type comparatorData struct {
	Op string          `json:"op"`
	A  json.RawMessage `json:"a"`
	B  json.RawMessage `json:"b"`
}

// comparator adapts a two-value comparison function (returning a tri-state
// -1/0/1 like model.Decimal.Cmp) into a Builtin supporting eq/ne/lt/gt/le/ge.
func comparator(cmp func(a, b json.RawMessage) (int, error)) Builtin {
	return func(input Input, meter *GasMeter) (bool, []string, error) {
		if err := meter.Consume(gasComparisonOp); err != nil {
			return false, nil, err
		}
		var d comparatorData
		if err := json.Unmarshal(input.Data, &d); err != nil {
			return false, []string{"malformed comparator input: " + err.Error()}, nil
		}
		c, err := cmp(d.A, d.B)
		if err != nil {
			return false, []string{err.Error()}, nil
		}
		var result bool
		switch d.Op {
		case "eq":
			result = c == 0
		case "ne":
			result = c != 0
		case "lt":
			result = c < 0
		case "gt":
			result = c > 0
		case "le":
			result = c <= 0
		case "ge":
			result = c >= 0
		default:
			return false, []string{"unknown comparator op: " + d.Op}, nil
		}
		if !result {
			return false, []string{fmt.Sprintf("comparison %s failed", d.Op)}, nil
		}
		return true, nil, nil
	}
}

func compareText(a, b json.RawMessage) (int, error) {
	var sa, sb string
	if err := json.Unmarshal(a, &sa); err != nil {
		return 0, errkind.Wrap(errkind.Invalid, err, "malformed text operand a")
	}
	if err := json.Unmarshal(b, &sb); err != nil {
		return 0, errkind.Wrap(errkind.Invalid, err, "malformed text operand b")
	}
	switch {
	case sa < sb:
		return -1, nil
	case sa > sb:
		return 1, nil
	default:
		return 0, nil
	}
}

func compareNumeric(a, b json.RawMessage) (int, error) {
	var sa, sb string
	if json.Unmarshal(a, &sa) != nil {
		sa = string(a)
	}
	if json.Unmarshal(b, &sb) != nil {
		sb = string(b)
	}
	da, err := model.DecimalFromString(sa)
	if err != nil {
		return 0, errkind.Wrap(errkind.Invalid, err, "malformed numeric operand a")
	}
	db, err := model.DecimalFromString(sb)
	if err != nil {
		return 0, errkind.Wrap(errkind.Invalid, err, "malformed numeric operand b")
	}
	return da.Cmp(db), nil
}

func compareBoolean(a, b json.RawMessage) (int, error) {
	var ba, bb bool
	if err := json.Unmarshal(a, &ba); err != nil {
		return 0, errkind.Wrap(errkind.Invalid, err, "malformed boolean operand a")
	}
	if err := json.Unmarshal(b, &bb); err != nil {
		return 0, errkind.Wrap(errkind.Invalid, err, "malformed boolean operand b")
	}
	if ba == bb {
		return 0, nil
	}
	if !ba && bb {
		return -1, nil
	}
	return 1, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func jsonValuesEqual(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	return deepEqualJSON(va, vb)
}

func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
