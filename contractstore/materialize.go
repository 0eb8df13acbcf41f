package contractstore

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"modalnode/errkind"
	"modalnode/model"
)

// validateTypedValue checks that value's JSON shape matches the type
// declared by its path extension (section 3's "type at write must match
// declared extension" invariant).
func validateTypedValue(t ValueType, value json.RawMessage) error {
	switch t {
	case TypeText, TypePubkey:
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return errkind.Wrap(errkind.Invalid, err, fmt.Sprintf("value is not a %s string", t))
		}
	case TypeInt, TypeBalance:
		// Both serialize as a decimal string per the data model's
		// unbounded-integer convention (section 9); a bare JSON number
		// would silently truncate for large balances.
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return errkind.New(errkind.Invalid, fmt.Sprintf("%s value must be a decimal string", t))
		}
		if _, err := model.DecimalFromString(s); err != nil {
			return errkind.Wrap(errkind.Invalid, err, fmt.Sprintf("%s value is not a decimal integer", t))
		}
	case TypeBool:
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return errkind.Wrap(errkind.Invalid, err, "value is not a bool")
		}
	case TypeSet, TypeList:
		var arr []json.RawMessage
		if err := json.Unmarshal(value, &arr); err != nil {
			return errkind.Wrap(errkind.Invalid, err, fmt.Sprintf("value is not a %s array", t))
		}
	case TypeJSON:
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return errkind.Wrap(errkind.Invalid, err, "value is not valid json")
		}
	default:
		return errkind.New(errkind.Invalid, "unknown value type "+string(t))
	}
	return nil
}

// materializedState is an in-memory path -> value map, folded from a
// contract's ordered commit list. It exists purely to compute writes before
// they're persisted back into the Final store at their /contracts/${id}/...
// keys.
type materializedState map[string]json.RawMessage

// fold applies a single commit's actions oldest-to-newest, per section
// 4.11's "Re-materialize state by folding all commits oldest-to-newest".
// POST/GENESIS/RULE/REPOST write action.value at action.path directly;
// CREATE/SEND/RECV implement the balance and inbox semantics the reference
// leaves as an unimplemented stub (SPEC_FULL.md's supplemented features).
func (s materializedState) fold(c model.Commit) error {
	for _, a := range c.Body {
		switch a.Method {
		case model.MethodPost, model.MethodGenesis, model.MethodRule, model.MethodRepost:
			if err := s.write(a.Path, a.Value); err != nil {
				return err
			}
		case model.MethodCreate:
			if err := s.create(a.Path, a.Value); err != nil {
				return err
			}
		case model.MethodSend:
			if err := s.send(a.Path, a.Value); err != nil {
				return err
			}
		case model.MethodRecv:
			if err := s.recv(a.Path, a.Value); err != nil {
				return err
			}
		case model.MethodModel, model.MethodAction:
			// Model/rule-machine state lives in the anchored-rule
			// validator (modal.go), not the materialized path tree.
		}
	}
	return nil
}

func (s materializedState) write(path string, value json.RawMessage) error {
	if path == "" {
		return errkind.New(errkind.Invalid, "action missing path")
	}
	t, err := pathType(path)
	if err != nil {
		return err
	}
	if err := validateTypedValue(t, value); err != nil {
		return err
	}
	s[normalizePath(path)] = value
	return nil
}

// create initializes a balance actor at path with value as the opening
// balance. path must be typed ".balance".
func (s materializedState) create(path string, value json.RawMessage) error {
	t, err := pathType(path)
	if err != nil {
		return err
	}
	if t != TypeBalance {
		return errkind.New(errkind.Invalid, "CREATE requires a .balance path")
	}
	if err := validateTypedValue(t, value); err != nil {
		return err
	}
	s[normalizePath(path)] = value
	return nil
}

// send debits the sender's balance at path and appends an envelope to the
// recipient's inbox. value carries {"to": "<account-dir>", "amount":
// "<decimal>"}; path names the sender's account directory, so the sender's
// balance path is derived as "<path>/balance.balance" and the recipient inbox as
// "<to>/inbox/${index}.json".
func (s materializedState) send(path string, value json.RawMessage) error {
	var payload struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		return errkind.Wrap(errkind.Invalid, err, "SEND value must be {to, amount}")
	}
	amount, err := model.DecimalFromString(payload.Amount)
	if err != nil {
		return errkind.Wrap(errkind.Invalid, err, "SEND amount is not a decimal integer")
	}
	senderBalancePath := normalizePath(strings.TrimSuffix(path, "/") + "/balance.balance")
	balance, err := s.decimalAt(senderBalancePath)
	if err != nil {
		return err
	}
	diff, err := checkedSub(balance, amount)
	if err != nil {
		return err
	}
	s[senderBalancePath] = jsonDecimal(diff)

	inboxPath := normalizePath(strings.TrimSuffix(payload.To, "/") + fmt.Sprintf("/inbox/%d.json", s.nextInboxIndex(payload.To)))
	envelope, err := json.Marshal(map[string]string{"from": path, "amount": payload.Amount})
	if err != nil {
		return err
	}
	s[inboxPath] = envelope
	return nil
}

// recv consumes the inbox entry named by path (an inbox/${index}.json
// envelope) and credits the local balance path named in value's "balance"
// field.
func (s materializedState) recv(path string, value json.RawMessage) error {
	var payload struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		return errkind.Wrap(errkind.Invalid, err, "RECV value must be {balance}")
	}
	normalized := normalizePath(path)
	raw, ok := s[normalized]
	if !ok {
		return errkind.New(errkind.Missing, "RECV references unknown inbox entry: "+path)
	}
	var envelope struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errkind.Wrap(errkind.Invalid, err, "inbox entry is malformed")
	}
	amount, err := model.DecimalFromString(envelope.Amount)
	if err != nil {
		return err
	}
	balancePath := normalizePath(payload.Balance)
	current, err := s.decimalAt(balancePath)
	if err != nil {
		return err
	}
	sum, err := current.CheckedAdd(amount)
	if err != nil {
		return errkind.Wrap(errkind.Integrity, err, "RECV balance overflow")
	}
	s[balancePath] = jsonDecimal(sum)
	delete(s, normalized)
	return nil
}

func (s materializedState) decimalAt(path string) (model.Decimal, error) {
	raw, ok := s[path]
	if !ok {
		return model.DecimalFromInt64(0), nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return model.Decimal{}, errkind.Wrap(errkind.Invalid, err, "balance value is not a decimal string")
	}
	return model.DecimalFromString(str)
}

// nextInboxIndex scans already-materialized inbox entries under
// "<to>/inbox/" to find the next free numeric index; it's a linear scan
// over the fold's own in-memory map, not the backing store, so it stays
// cheap for the commit counts this engine expects.
func (s materializedState) nextInboxIndex(to string) int {
	prefix := normalizePath(strings.TrimSuffix(to, "/")) + "/inbox/"
	max := -1
	for k := range s {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(k, prefix), ".json")
		var idx int
		if _, err := fmt.Sscanf(rest, "%d", &idx); err == nil && idx > max {
			max = idx
		}
	}
	return max + 1
}

func checkedSub(balance, amount model.Decimal) (model.Decimal, error) {
	if balance.Int().Cmp(amount.Int()) < 0 {
		return model.Decimal{}, errkind.New(errkind.Invalid, "SEND amount exceeds balance")
	}
	diff := new(big.Int).Sub(balance.Int(), amount.Int())
	return model.NewDecimal(diff), nil
}

func jsonDecimal(d model.Decimal) json.RawMessage {
	b, _ := json.Marshal(d.String())
	return b
}
