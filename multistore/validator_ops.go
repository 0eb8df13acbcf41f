package multistore

import (
	"modalnode/kv"
	"modalnode/model"
)

func putValidatorBlock(s kv.Store, v *model.ValidatorBlock) error {
	raw, err := model.Encode(v)
	if err != nil {
		return err
	}
	return s.Put([]byte(v.KeyPath()), raw)
}

func getValidatorBlock(s kv.Store, round uint64, peer model.Address) (*model.ValidatorBlock, bool, error) {
	raw, ok, err := s.Get([]byte(model.ValidatorBlockKey(round, peer)))
	if err != nil || !ok {
		return nil, false, err
	}
	var v model.ValidatorBlock
	if err := model.Decode(raw, (&model.ValidatorBlock{}).Defaults(), &v); err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func scanValidatorRound(s kv.Store, round uint64) ([]*model.ValidatorBlock, error) {
	it, err := s.Iterator([]byte(model.ValidatorBlockRoundPrefix(round)))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []*model.ValidatorBlock
	for it.Next() {
		var v model.ValidatorBlock
		if err := model.Decode(it.Value(), (&model.ValidatorBlock{}).Defaults(), &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, it.Err()
}

// SaveValidatorDraft writes a not-yet-certified header to ValidatorActive.
func (r *Router) SaveValidatorDraft(v *model.ValidatorBlock) error {
	return putValidatorBlock(r.store(ValidatorActive), v)
}

// FindValidatorBlock looks up a (round, peer) header in Active, falling back
// to Final for rounds already retired out of Active.
func (r *Router) FindValidatorBlock(round uint64, peer model.Address) (*model.ValidatorBlock, bool, error) {
	v, ok, err := getValidatorBlock(r.store(ValidatorActive), round, peer)
	if err != nil || ok {
		return v, ok, err
	}
	return getValidatorBlock(r.store(ValidatorFinal), round, peer)
}

// FindValidatorRound returns every header recorded at a round, searching
// Active then Final and de-duplicating by peer.
func (r *Router) FindValidatorRound(round uint64) ([]*model.ValidatorBlock, error) {
	seen := make(map[model.Address]bool)
	var out []*model.ValidatorBlock
	for _, name := range []StoreName{ValidatorActive, ValidatorFinal} {
		vs, err := scanValidatorRound(r.store(name), round)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			if !seen[v.PeerID] {
				seen[v.PeerID] = true
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// CertifyValidatorBlock implements the Active -> Final transition on
// certification (section 4.2): once a header carries a quorum Cert it is
// copied into Final. The Active copy is left in place until
// PurgeValidatorDrafts retires it, so that in-flight DAG lookups during the
// retention window don't need to consult two stores for an uncertain
// interval.
func (r *Router) CertifyValidatorBlock(v *model.ValidatorBlock) error {
	return putValidatorBlock(r.store(ValidatorFinal), v)
}

// PurgeValidatorDrafts deletes every ValidatorActive header whose round has
// aged past RetainRounds, per "deleted from Active at current_round >=
// round_id + retain_rounds". Only headers already present in Final are
// eligible, so an uncertified draft is never silently dropped.
func (r *Router) PurgeValidatorDrafts(currentRound uint64) (int, error) {
	active := r.store(ValidatorActive)
	final := r.store(ValidatorFinal)
	it, err := active.Iterator([]byte("/validator/blocks/round/"))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var toDelete []*model.ValidatorBlock
	for it.Next() {
		var v model.ValidatorBlock
		if err := model.Decode(it.Value(), (&model.ValidatorBlock{}).Defaults(), &v); err != nil {
			return 0, err
		}
		if currentRound < v.Round+r.cfg.RetainRounds {
			continue
		}
		if _, ok, err := getValidatorBlock(final, v.Round, v.PeerID); err != nil {
			return 0, err
		} else if !ok {
			continue
		}
		toDelete = append(toDelete, &v)
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	for _, v := range toDelete {
		if err := active.Delete([]byte(v.KeyPath())); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}
