package certificate

import (
	"encoding/binary"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"modalnode/errkind"
	"modalnode/model"
)

// AckTracker validates and deduplicates acks on draft validator blocks:
// "for each ack, verify acker's signature over {peer_id, round_id,
// closing_sig}... accepted only once per acker per (round, author)"
// (section 4.8).
type AckTracker struct {
	mu   sync.Mutex
	seen map[ackKey]bool
}

type ackKey struct {
	round  uint64
	author model.Address
	acker  model.Address
}

func NewAckTracker() *AckTracker {
	return &AckTracker{seen: make(map[ackKey]bool)}
}

// ackMessage builds the exact byte sequence an ack's signature covers:
// peer_id || round_id (big-endian uint64) || closing_sig.
func ackMessage(peerID model.Address, round uint64, closingSig []byte) []byte {
	buf := make([]byte, 0, len(peerID)+8+len(closingSig))
	buf = append(buf, peerID.Bytes()...)
	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], round)
	buf = append(buf, roundBytes[:]...)
	buf = append(buf, closingSig...)
	return buf
}

// Accept validates sig as acker's signature over
// {peerID, round, closingSig} and records it. Returns false (no error) for
// a duplicate ack from the same acker in the same (round, author); returns
// an Invalid-kind error for a signature that doesn't recover to acker.
func (t *AckTracker) Accept(round uint64, author, peerID, acker model.Address, closingSig, sig []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ackKey{round: round, author: author, acker: acker}
	if t.seen[key] {
		return false, nil
	}

	msg := ackMessage(peerID, round, closingSig)
	digest := ethcrypto.Keccak256(msg)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, errkind.Wrap(errkind.Invalid, err, "ack signature recovery failed")
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	var recoveredAddr model.Address
	copy(recoveredAddr[:], recovered.Bytes())
	if recoveredAddr != acker {
		return false, errkind.New(errkind.Invalid, "ack signature does not match claimed acker")
	}

	t.seen[key] = true
	return true, nil
}
