package model

import (
	"encoding/json"
	"fmt"
)

// ValidatorBlock is a certificate header: a DAG node keyed by (round, peer).
// At most one exists per (round, peer_id) — a second with a different
// digest is an equivocation and must be rejected by the DAG, not stored
// here (see dag.DAG.Insert).
type ValidatorBlock struct {
	Round  uint64  `json:"round"`
	PeerID Address `json:"peer_id"`

	PrevRoundCerts map[string]Hash `json:"prev_round_certs"` // peer hex -> cert digest
	OpeningSig     []byte          `json:"opening_sig"`
	Events         []byte          `json:"events"` // opaque payload, application-defined
	ClosingSig     []byte          `json:"closing_sig"`
	Acks           map[string][]byte `json:"acks"` // acker hex -> signature

	// Cert is populated once ack count reaches quorum; a nil Cert means the
	// block is still a draft.
	Cert *Certificate `json:"cert,omitempty"`
}

// Certificate is the aggregated (header, signers-bitmap, aggregate
// signature) tuple. Digest is hash(header) and Parents are digests of
// round-1 certificates.
type Certificate struct {
	Digest  Hash     `json:"digest"`
	Author  Address  `json:"author"`
	Round   uint64   `json:"round"`
	Parents []Hash   `json:"parents"`
	Signers []bool   `json:"signers"` // bitmap over committee order
	AggSig  []byte   `json:"agg_sig"`
}

func (v *ValidatorBlock) KeyPath() string {
	return ValidatorBlockKey(v.Round, v.PeerID)
}

func (v *ValidatorBlock) Defaults() map[string]json.RawMessage {
	return map[string]json.RawMessage{}
}

// HasQuorumAcks reports whether ack count has reached quorum, the invariant
// that gates Cert's presence.
func (v *ValidatorBlock) HasQuorumAcks(quorum int) bool {
	return len(v.Acks) >= quorum
}

// ValidatorBlockKey renders /validator/blocks/round/${round}/peer/${peer}.
func ValidatorBlockKey(round uint64, peer Address) string {
	return fmt.Sprintf("/validator/blocks/round/%d/peer/%s", round, peer.Hex())
}

// ValidatorBlockRoundPrefix renders the prefix matching every block at a
// round, used by DAG.GetRound.
func ValidatorBlockRoundPrefix(round uint64) string {
	return fmt.Sprintf("/validator/blocks/round/%d/peer/", round)
}
