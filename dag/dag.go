// Package dag implements the certificate DAG core (C7): a round-indexed map
// of certificates with equivocation detection and bounded reachability
// queries along parent edges.
package dag

import (
	"sync"

	"modalnode/errkind"
	"modalnode/model"
)

// DAG is safe for concurrent use; per section 5's lock order it sits behind
// Observer and ahead of Consensus.
type DAG struct {
	mu       sync.RWMutex
	rounds   map[uint64]map[model.Address]*model.Certificate
	byDigest map[model.Hash]*model.Certificate
}

func New() *DAG {
	return &DAG{
		rounds:   make(map[uint64]map[model.Address]*model.Certificate),
		byDigest: make(map[model.Hash]*model.Certificate),
	}
}

// Insert adds cert, failing with an Equivocation (Conflict-kind) error if a
// different digest is already stored for the same (author, round). No
// parent-set validation happens here — the DAG is permissive about parents
// existing locally, matching section 4.7's note that upstream verification
// owns that check.
func (d *DAG) Insert(cert *model.Certificate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	peers, ok := d.rounds[cert.Round]
	if !ok {
		peers = make(map[model.Address]*model.Certificate)
		d.rounds[cert.Round] = peers
	}
	if existing, ok := peers[cert.Author]; ok && existing.Digest != cert.Digest {
		return errkind.New(errkind.Conflict, "equivocation: author already certified a different digest this round")
	}
	peers[cert.Author] = cert
	d.byDigest[cert.Digest] = cert
	return nil
}

// DetectEquivocation reports whether a stored certificate already exists
// for cert's (author, round) with a different digest, without mutating the
// DAG.
func (d *DAG) DetectEquivocation(cert *model.Certificate) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers, ok := d.rounds[cert.Round]
	if !ok {
		return false
	}
	existing, ok := peers[cert.Author]
	return ok && existing.Digest != cert.Digest
}

// HasPath reports whether to is reachable from from by following parent
// edges. Insert does not check that parents come from earlier rounds; the
// visited set keeps the walk finite even if injected parent edges form a
// cycle.
func (d *DAG) HasPath(from, to model.Hash) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if from == to {
		return true
	}
	visited := make(map[model.Hash]bool)
	stack := []model.Hash{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		cert, ok := d.byDigest[cur]
		if !ok {
			continue
		}
		for _, p := range cert.Parents {
			if p == to {
				return true
			}
			stack = append(stack, p)
		}
	}
	return false
}

func (d *DAG) RoundSize(round uint64) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rounds[round])
}

// GetRound returns every certificate at a round, unordered.
func (d *DAG) GetRound(round uint64) []*model.Certificate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := d.rounds[round]
	out := make([]*model.Certificate, 0, len(peers))
	for _, c := range peers {
		out = append(out, c)
	}
	return out
}

// GetByAuthorRound looks up the certificate a specific author produced at
// round, used by consensus to locate the round leader's certificate.
func (d *DAG) GetByAuthorRound(author model.Address, round uint64) (*model.Certificate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers, ok := d.rounds[round]
	if !ok {
		return nil, false
	}
	c, ok := peers[author]
	return c, ok
}

// GetByDigest looks up a certificate by its digest regardless of round.
func (d *DAG) GetByDigest(digest model.Hash) (*model.Certificate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byDigest[digest]
	return c, ok
}

func (d *DAG) HighestRound() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var highest uint64
	for r := range d.rounds {
		if r > highest {
			highest = r
		}
	}
	return highest
}
