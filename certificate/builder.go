// Package certificate implements the certificate builder (C8): BFT quorum
// computation, vote collection and ack validation for the validator-block
// pipeline.
package certificate

import (
	"sync"

	"modalnode/errkind"
	"modalnode/model"
)

// Quorum computes 2f+1 for a committee of size n, where f = floor((n-1)/3).
func Quorum(n int) int {
	if n <= 0 {
		return 0
	}
	f := (n - 1) / 3
	return 2*f + 1
}

// Builder accumulates votes for one (author, round) header before producing
// a Certificate.
type Builder struct {
	mu        sync.Mutex
	digest    model.Hash
	author    model.Address
	round     uint64
	parents   []model.Hash
	committee []model.Address
	votes     map[model.Address][]byte
}

// NewBuilder starts a vote collection for a header over committee, in a
// fixed committee order the resulting signer bitmap is indexed against.
func NewBuilder(digest model.Hash, author model.Address, round uint64, parents []model.Hash, committee []model.Address) *Builder {
	return &Builder{
		digest:    digest,
		author:    author,
		round:     round,
		parents:   parents,
		committee: committee,
		votes:     make(map[model.Address][]byte),
	}
}

// AddVote records a unique vote from validator. A second vote from the same
// validator is ignored (not an error): committee members may legitimately
// re-broadcast.
func (b *Builder) AddVote(validator model.Address, sig []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.votes[validator]; ok {
		return
	}
	b.votes[validator] = sig
}

func (b *Builder) VoteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.votes)
}

// Build produces a Certificate once vote count reaches quorum. AggSig is a
// placeholder concatenation of the collected signatures in committee order
// — section 4.8 calls for "an aggregate signature placeholder", not a real
// BLS aggregate (see DESIGN.md on the dropped BLS libraries).
func (b *Builder) Build() (*model.Certificate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	quorum := Quorum(len(b.committee))
	if len(b.votes) < quorum {
		return nil, errkind.New(errkind.Invalid, "vote count below quorum")
	}

	signers := make([]bool, len(b.committee))
	var aggSig []byte
	for i, v := range b.committee {
		if sig, ok := b.votes[v]; ok {
			signers[i] = true
			aggSig = append(aggSig, sig...)
		}
	}

	return &model.Certificate{
		Digest:  b.digest,
		Author:  b.author,
		Round:   b.round,
		Parents: b.parents,
		Signers: signers,
		AggSig:  aggSig,
	}, nil
}
