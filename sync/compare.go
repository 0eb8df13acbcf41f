package sync

import "modalnode/model"

// Decision is the outcome of CompareChains.
type Decision int

const (
	Keep Decision = iota
	Adopt
	Tie
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Adopt:
		return "adopt"
	case Tie:
		return "tie"
	default:
		return "unknown"
	}
}

// CompareChains implements compare_chains: cumulative difficulty decides
// first, chain length is the tiebreak, and a chain that matches on both
// counts is a genuine Tie (the local chain is kept, but the caller may want
// to distinguish a tie from an outright Keep for logging).
func CompareChains(localDiff model.Decimal, localLen uint64, remoteDiff model.Decimal, remoteLen uint64) Decision {
	switch remoteDiff.Cmp(localDiff) {
	case 1:
		return Adopt
	case -1:
		return Keep
	}
	switch {
	case remoteLen > localLen:
		return Adopt
	case remoteLen == localLen:
		return Tie
	default:
		return Keep
	}
}
