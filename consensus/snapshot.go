package consensus

import (
	"encoding/json"
	"strconv"

	"modalnode/kv"
)

// Snapshot is the periodic consensus checkpoint of section 4.10:
// "(current_round, consensus_state, reputation_state, certificate_count)".
// consensus_state/reputation_state are opaque raw JSON at this layer;
// snapshotLocked fills only CurrentRound and CertificateCount and leaves
// both of them empty.
type Snapshot struct {
	CurrentRound     uint64          `json:"current_round"`
	ConsensusState   json.RawMessage `json:"consensus_state,omitempty"`
	ReputationState  json.RawMessage `json:"reputation_state,omitempty"`
	CertificateCount uint64          `json:"certificate_count"`
}

func (c *Consensus) snapshotLocked() Snapshot {
	return Snapshot{
		CurrentRound:     c.currentRound,
		CertificateCount: uint64(len(c.committed)),
	}
}

const snapshotKeyPrefix = "/consensus/snapshot/round/"
const snapshotLatestKey = "/consensus/snapshot/latest"

// KVSnapshotStore implements Store over a kv.Store, keeping one entry per
// round plus a "latest" pointer recovery reads first.
type KVSnapshotStore struct {
	store kv.Store
}

func NewKVSnapshotStore(store kv.Store) *KVSnapshotStore {
	return &KVSnapshotStore{store: store}
}

func (s *KVSnapshotStore) SaveSnapshot(snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := snapshotKeyPrefix + strconv.FormatUint(snap.CurrentRound, 10)
	if err := s.store.Put([]byte(key), raw); err != nil {
		return err
	}
	return s.store.Put([]byte(snapshotLatestKey), raw)
}

// Latest returns the most recently saved snapshot, for recovery ("prefer
// the most recent checkpoint and replay forward").
func (s *KVSnapshotStore) Latest() (Snapshot, bool, error) {
	raw, ok, err := s.store.Get([]byte(snapshotLatestKey))
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
