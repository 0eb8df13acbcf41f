package consensus

import (
	"bytes"
	"sort"

	"modalnode/model"
)

// topoSort implements OrderingEngine: given an unordered set of
// certificates, produce a topologically sorted sequence honoring
// parent-before-child, breaking ties lexicographically on digest bytes.
func topoSort(certs []*model.Certificate) []*model.Certificate {
	if len(certs) == 0 {
		return nil
	}
	byDigest := make(map[model.Hash]*model.Certificate, len(certs))
	for _, c := range certs {
		byDigest[c.Digest] = c
	}

	indegree := make(map[model.Hash]int, len(certs))
	children := make(map[model.Hash][]model.Hash)
	for _, c := range certs {
		if _, ok := indegree[c.Digest]; !ok {
			indegree[c.Digest] = 0
		}
		for _, p := range c.Parents {
			if _, inSet := byDigest[p]; inSet {
				indegree[c.Digest]++
				children[p] = append(children[p], c.Digest)
			}
		}
	}

	var ready []model.Hash
	for d, deg := range indegree {
		if deg == 0 {
			ready = append(ready, d)
		}
	}
	sortDigests(ready)

	out := make([]*model.Certificate, 0, len(certs))
	for len(ready) > 0 {
		d := ready[0]
		ready = ready[1:]
		out = append(out, byDigest[d])
		for _, ch := range children[d] {
			indegree[ch]--
			if indegree[ch] == 0 {
				ready = insertSorted(ready, ch)
			}
		}
	}
	return out
}

func sortDigests(hs []model.Hash) {
	sort.Slice(hs, func(i, j int) bool {
		return bytes.Compare(hs[i][:], hs[j][:]) < 0
	})
}

// insertSorted inserts d into the already-sorted ready queue, keeping the
// tie-break order stable as new zero-indegree nodes unlock mid-drain.
func insertSorted(ready []model.Hash, d model.Hash) []model.Hash {
	i := sort.Search(len(ready), func(i int) bool {
		return bytes.Compare(ready[i][:], d[:]) >= 0
	})
	ready = append(ready, model.Hash{})
	copy(ready[i+1:], ready[i:])
	ready[i] = d
	return ready
}
