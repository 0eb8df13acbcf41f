package observer

import (
	"encoding/json"

	"modalnode/model"
)

// tipKey is the observer-owned bookkeeping key for the canonical chain tip,
// distinct from MinerBlock entity keys (model package owns those).
const tipKey = "/miner_blocks/tip"

type tipRecord struct {
	Index uint64     `json:"index"`
	Hash  model.Hash `json:"hash"`
}

func (o *Observer) getTip() (tipRecord, bool, error) {
	raw, ok, err := o.store.Get([]byte(tipKey))
	if err != nil || !ok {
		return tipRecord{}, false, err
	}
	var t tipRecord
	if err := json.Unmarshal(raw, &t); err != nil {
		return tipRecord{}, false, err
	}
	return t, true, nil
}

func (o *Observer) setTip(index uint64, hash model.Hash) error {
	raw, err := json.Marshal(tipRecord{Index: index, Hash: hash})
	if err != nil {
		return err
	}
	return o.store.Put([]byte(tipKey), raw)
}
