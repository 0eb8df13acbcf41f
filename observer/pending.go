package observer

import (
	"fmt"

	"modalnode/model"
)

// pendingByParentPrefix renders the secondary index prefix keyed on a
// parent hash, so that once the parent lands every waiting child can be
// found without a full scan (section 4.4's "pending-by-parent secondary
// index").
func pendingByParentPrefix(parent model.Hash) string {
	return fmt.Sprintf("/pending_by_parent/%s/", parent.Hex())
}

func pendingByParentKey(parent, child model.Hash) string {
	return pendingByParentPrefix(parent) + child.Hex()
}

func (o *Observer) addPending(parent, child model.Hash) error {
	return o.store.Put([]byte(pendingByParentKey(parent, child)), []byte(child.Hex()))
}

func (o *Observer) removePending(parent, child model.Hash) error {
	return o.store.Delete([]byte(pendingByParentKey(parent, child)))
}

// pendingChildrenOf returns every block hash waiting on parent to land.
func (o *Observer) pendingChildrenOf(parent model.Hash) ([]model.Hash, error) {
	it, err := o.store.Iterator([]byte(pendingByParentPrefix(parent)))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []model.Hash
	for it.Next() {
		h, err := model.HashFromHex(string(it.Value()))
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, it.Err()
}
