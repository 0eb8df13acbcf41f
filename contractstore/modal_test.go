package contractstore

import (
	"encoding/json"
	"testing"
	"time"

	"modalnode/kv"
	"modalnode/model"
)

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func simpleModel() Model {
	return Model{
		Name: "door",
		Parts: []Part{{
			Name: "door",
			Transitions: []Transition{
				{From: "closed", To: "open", Labels: []string{"open"}},
				{From: "open", To: "closed", Labels: []string{"close"}},
			},
		}},
	}
}

func TestApplyModelComputesInitialStates(t *testing.T) {
	v := newModelValidator()
	m := simpleModel()
	if err := v.applyModel(&m, 0); err != nil {
		t.Fatalf("applyModel: %v", err)
	}
	if !v.states["closed"] || len(v.states) != 1 {
		t.Fatalf("expected initial state {closed}, got %v", v.states)
	}
}

func TestApplyActionAdvancesState(t *testing.T) {
	v := newModelValidator()
	m := simpleModel()
	if err := v.applyModel(&m, 0); err != nil {
		t.Fatalf("applyModel: %v", err)
	}
	if err := v.applyAction([]string{"open"}); err != nil {
		t.Fatalf("applyAction: %v", err)
	}
	if !v.states["open"] || len(v.states) != 1 {
		t.Fatalf("expected state {open} after action, got %v", v.states)
	}
}

func TestApplyActionRejectsInvalidTransition(t *testing.T) {
	v := newModelValidator()
	m := simpleModel()
	if err := v.applyModel(&m, 0); err != nil {
		t.Fatalf("applyModel: %v", err)
	}
	if err := v.applyAction([]string{"close"}); err == nil {
		t.Fatalf("expected error advancing 'close' from 'closed' state")
	}
}

func TestApplyRuleAnchorsAgainstCurrentStates(t *testing.T) {
	v := newModelValidator()
	m := simpleModel()
	if err := v.applyModel(&m, 0); err != nil {
		t.Fatalf("applyModel: %v", err)
	}
	// The atom "open" (an outgoing transition labelled open) holds at the
	// initial closed state.
	f := Formula{Kind: FormulaAtom, Label: "open"}
	if err := v.applyRule(f, 1); err != nil {
		t.Fatalf("applyRule: %v", err)
	}
	if len(v.rules) != 1 {
		t.Fatalf("expected one anchored rule")
	}
}

func TestApplyModelRejectsWhenViolatesAnchoredRule(t *testing.T) {
	v := newModelValidator()
	m := simpleModel()
	if err := v.applyModel(&m, 0); err != nil {
		t.Fatalf("applyModel: %v", err)
	}
	f := Formula{Kind: FormulaAtom, Label: "open"}
	if err := v.applyRule(f, 1); err != nil {
		t.Fatalf("applyRule: %v", err)
	}
	// A replacement model with no "open" labelled transition out of
	// "closed" violates the previously anchored rule.
	broken := Model{Name: "door2", Parts: []Part{{
		Name: "door",
		Transitions: []Transition{
			{From: "closed", To: "jammed", Labels: []string{"force"}},
		},
	}}}
	if err := v.applyModel(&broken, 2); err == nil {
		t.Fatalf("expected new model to be rejected for violating anchored rule")
	}
}

func TestValidateModalActionsThroughStore(t *testing.T) {
	s := New(kv.NewMemory(), nil, nil)
	c, err := s.CreateContract("door1", nil, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m := simpleModel()
	body := []model.Action{{Method: model.MethodModel, Value: mustMarshal(t, m)}}
	h1, err := s.Submit("door1", body, c.Head, nil, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("submit MODEL: %v", err)
	}

	action := []model.Action{{Method: model.MethodAction, Labels: []string{"open"}}}
	h2, err := s.Submit("door1", action, h1, nil, time.Unix(2, 0))
	if err != nil {
		t.Fatalf("submit ACTION open: %v", err)
	}

	cached, ok := s.models.Load("door1")
	if !ok {
		t.Fatalf("expected cached modal validator after submit")
	}
	v := cached.(*modelValidator)
	if !v.states["open"] {
		t.Fatalf("expected cached validator state 'open', got %v", v.states)
	}

	badAction := []model.Action{{Method: model.MethodAction, Labels: []string{"open"}}}
	if _, err := s.Submit("door1", badAction, h2, nil, time.Unix(3, 0)); err == nil {
		t.Fatalf("expected invalid transition (already open, opening again) to fail")
	}
}
