// Package contractstore's modal-model rule anchoring (section 4.11): MODEL
// commits install a nondeterministic state machine, RULE commits anchor a
// modal-logic formula to the state set reachable at the commit that added
// it, and ACTION commits advance the current state set along labelled
// transitions. A MODEL or RULE commit that would violate an already
// anchored rule is rejected.
//
// This is grounded on model_validator.rs's ModelValidator (state-set
// replay, AnchoredRule, labels_match's subset-of-positive-labels rule) with
// one deliberate substitution: where the reference parses a bespoke
// Modality DSL text grammar via a lalrpop parser that lives entirely
// outside this pack's Go surface, model/rule/action content here is a
// structured JSON document instead (Model/Formula below) — the same
// substitution the teacher itself makes elsewhere (core/smart_legal_contracts.go's
// Ricardian "conditions" are JSON, not a parsed legal-prose grammar).
package contractstore

import (
	"encoding/json"
	"strconv"

	"modalnode/errkind"
	"modalnode/model"
)

// Transition is one labelled edge in a modal-model part. Labels are the
// transition's positive action labels; an empty Labels list is a wildcard
// matching any action, per labels_match's "empty transition = wildcard"
// rule.
type Transition struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Labels []string `json:"labels,omitempty"`
}

// Part is one independently-evolving component of a modal model (the
// reference's "parts" — e.g. separate state machines for each contract
// role).
type Part struct {
	Name        string       `json:"name"`
	Transitions []Transition `json:"transitions"`
}

// Model is the full modal-logic state machine a MODEL commit installs.
type Model struct {
	Name  string `json:"name"`
	Parts []Part `json:"parts"`
}

// FormulaKind is one modal-logic connective.
type FormulaKind string

const (
	FormulaAtom    FormulaKind = "atom"    // true iff an outgoing transition from the state carries Label
	FormulaNot     FormulaKind = "not"
	FormulaAnd     FormulaKind = "and"
	FormulaOr      FormulaKind = "or"
	FormulaBox     FormulaKind = "box"     // holds at every successor state
	FormulaDiamond FormulaKind = "diamond" // holds at some successor state
)

// Formula is a modal-logic formula over a Model's states.
type Formula struct {
	Kind  FormulaKind `json:"kind"`
	Label string      `json:"label,omitempty"`
	Sub   []Formula   `json:"sub,omitempty"`
}

// AnchoredRule is a formula bound to the state set reachable at the commit
// that introduced it.
type AnchoredRule struct {
	Formula      Formula
	AnchorCommit int
	AnchorStates map[string]bool
}

// modelValidator is one contract's modal-machine replay state.
type modelValidator struct {
	model            *Model
	modelInstalledAt int // commit index of the MODEL commit that installed model
	rules            []AnchoredRule
	states           map[string]bool
}

func newModelValidator() *modelValidator {
	return &modelValidator{states: map[string]bool{"*": true}}
}

func (v *modelValidator) clone() *modelValidator {
	c := &modelValidator{states: cloneStates(v.states), modelInstalledAt: v.modelInstalledAt}
	if v.model != nil {
		m := *v.model
		c.model = &m
	}
	c.rules = append([]AnchoredRule(nil), v.rules...)
	return c
}

func cloneStates(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

// applyModel installs a new model, first checking every previously anchored
// rule still holds from its own anchor state set under the new model (the
// MODEL-commit violation rule), then resetting the current state set to the
// new model's initial states. Earlier ACTION commits are not replayed
// against the new model.
func (v *modelValidator) applyModel(m *Model, commitIndex int) error {
	for _, rule := range v.rules {
		if !checkRule(rule.Formula, m, rule.AnchorStates) {
			return errkind.New(errkind.Invalid, "model violates anchored rule from commit "+strconv.Itoa(rule.AnchorCommit))
		}
	}
	v.model = m
	v.modelInstalledAt = commitIndex
	v.states = initialStates(m)
	return nil
}

// applyRule parses and anchors a new rule: it must be satisfied by the
// current state set under the current model (no model yet means no
// constraint, matching the reference's permissive no-model case), then is
// anchored to the current state set and commit index.
func (v *modelValidator) applyRule(f Formula, commitIndex int) error {
	if v.model != nil {
		if !checkRule(f, v.model, v.states) {
			return errkind.New(errkind.Invalid, "rule is not satisfied by current model at current states")
		}
	}
	v.rules = append(v.rules, AnchoredRule{Formula: f, AnchorCommit: commitIndex, AnchorStates: cloneStates(v.states)})
	return nil
}

// applyAction advances the current state set to the union of transition
// targets from each current state whose labels are a superset of the
// action's positive labels (section 4.11's ACTION rule). No model installed
// yet means any action is accepted (wildcard states accept anything).
func (v *modelValidator) applyAction(labels []string) error {
	if v.model == nil {
		return nil
	}
	next := make(map[string]bool)
	for state := range v.states {
		for _, part := range v.model.Parts {
			for _, t := range part.Transitions {
				if t.From != state && !v.states["*"] {
					continue
				}
				if labelsMatch(t.Labels, labels) {
					next[t.To] = true
				}
			}
		}
	}
	if len(next) == 0 && !v.states["*"] {
		return errkind.New(errkind.Invalid, "no valid transition for action labels from current states")
	}
	if len(next) > 0 {
		v.states = next
	}
	return nil
}

// labelsMatch reports whether action is a subset of transition, per the
// reference's labels_match: an empty transition label set is a wildcard.
func labelsMatch(transition, action []string) bool {
	if len(transition) == 0 {
		return true
	}
	set := make(map[string]bool, len(transition))
	for _, l := range transition {
		set[l] = true
	}
	for _, l := range action {
		if !set[l] {
			return false
		}
	}
	return true
}

// initialStates finds each part's initial node: the From of a transition
// whose own name never appears as a To (i.e. has no incoming edge),
// matching find_initial_states's fallback chain.
func initialStates(m *Model) map[string]bool {
	out := make(map[string]bool)
	for _, part := range m.Parts {
		toNodes := make(map[string]bool)
		for _, t := range part.Transitions {
			toNodes[t.To] = true
		}
		found := false
		for _, t := range part.Transitions {
			if !toNodes[t.From] {
				out[t.From] = true
				found = true
				break
			}
		}
		if !found && len(part.Transitions) > 0 {
			out[part.Transitions[0].From] = true
		}
	}
	if len(out) == 0 {
		out["init"] = true
	}
	return out
}

// checkRule evaluates formula at every state in states under model,
// requiring all of them to satisfy it (the reference's check_rule_on_model:
// a rule must hold from every possible current state, since the state set
// is nondeterministic).
func checkRule(f Formula, m *Model, states map[string]bool) bool {
	for state := range states {
		if !evalFormula(f, m, state, make(map[string]bool)) {
			return false
		}
	}
	return true
}

// evalFormula evaluates a modal formula at one state. visited bounds
// recursion against cyclic models (the DAG's own parent graph cannot
// cycle by construction per section 9, but a modal model's state graph is
// an independent structure with no such guarantee).
func evalFormula(f Formula, m *Model, state string, visited map[string]bool) bool {
	switch f.Kind {
	case FormulaAtom:
		return hasOutgoingLabel(m, state, f.Label)
	case FormulaNot:
		return !evalFormula(f.Sub[0], m, state, visited)
	case FormulaAnd:
		for _, s := range f.Sub {
			if !evalFormula(s, m, state, visited) {
				return false
			}
		}
		return true
	case FormulaOr:
		for _, s := range f.Sub {
			if evalFormula(s, m, state, visited) {
				return true
			}
		}
		return false
	case FormulaBox:
		for _, to := range successors(m, state) {
			key := to + "|" + string(f.Kind)
			if visited[key] {
				continue
			}
			visited[key] = true
			if !evalFormula(f.Sub[0], m, to, visited) {
				return false
			}
		}
		return true
	case FormulaDiamond:
		for _, to := range successors(m, state) {
			key := to + "|" + string(f.Kind)
			if visited[key] {
				continue
			}
			visited[key] = true
			if evalFormula(f.Sub[0], m, to, visited) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func hasOutgoingLabel(m *Model, state, label string) bool {
	for _, part := range m.Parts {
		for _, t := range part.Transitions {
			if t.From != state {
				continue
			}
			for _, l := range t.Labels {
				if l == label {
					return true
				}
			}
		}
	}
	return false
}

func successors(m *Model, state string) []string {
	var out []string
	for _, part := range m.Parts {
		for _, t := range part.Transitions {
			if t.From == state {
				out = append(out, t.To)
			}
		}
	}
	return out
}

// validateModalActions rebuilds (or reuses a cached) modelValidator for id
// and applies the MODEL/RULE/ACTION actions in body against a private
// clone, returning the advanced clone without touching the cache. Submit
// only commits the returned clone into the cache once the commit it
// belongs to has actually been persisted, so a later validation or I/O
// failure in the same Submit call can never leave the cache reflecting a
// commit that never landed.
func (s *Store) validateModalActions(id string, body []model.Action) (*modelValidator, error) {
	v, err := s.modelValidatorFor(id)
	if err != nil {
		return nil, err
	}
	clone := v.clone()
	commitIndex, err := s.commitCount(id)
	if err != nil {
		return nil, err
	}
	for _, a := range body {
		switch a.Method {
		case model.MethodModel:
			var m Model
			if err := json.Unmarshal(a.Value, &m); err != nil {
				return nil, errkind.Wrap(errkind.Invalid, err, "MODEL commit has malformed content")
			}
			if err := clone.applyModel(&m, commitIndex); err != nil {
				return nil, err
			}
		case model.MethodRule:
			var f Formula
			if err := json.Unmarshal(a.Value, &f); err != nil {
				return nil, errkind.Wrap(errkind.Invalid, err, "RULE commit has malformed formula")
			}
			if err := clone.applyRule(f, commitIndex); err != nil {
				return nil, err
			}
		case model.MethodAction:
			if err := clone.applyAction(a.Labels); err != nil {
				return nil, err
			}
		}
	}
	return clone, nil
}

func (s *Store) modelValidatorFor(id string) (*modelValidator, error) {
	if cached, ok := s.models.Load(id); ok {
		return cached.(*modelValidator), nil
	}
	v := newModelValidator()
	chain, err := s.LoadChain(id)
	if err != nil {
		return nil, err
	}
	for i, c := range chain {
		for _, a := range c.Body {
			switch a.Method {
			case model.MethodModel:
				var m Model
				if err := json.Unmarshal(a.Value, &m); err == nil {
					_ = v.applyModel(&m, i)
				}
			case model.MethodRule:
				var f Formula
				if err := json.Unmarshal(a.Value, &f); err == nil {
					_ = v.applyRule(f, i)
				}
			case model.MethodAction:
				_ = v.applyAction(a.Labels)
			}
		}
	}
	s.models.Store(id, v)
	return v, nil
}

func (s *Store) commitCount(id string) (int, error) {
	chain, err := s.LoadChain(id)
	if err != nil {
		return 0, err
	}
	return len(chain), nil
}
