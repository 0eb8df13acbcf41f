package sync

import (
	"context"

	"modalnode/model"
)

// MaxCheckpointsPerRequest bounds how many checkpoints one find_ancestor
// round sends, matching section 4.5's batched binary search ("up to 10
// checkpoints").
const MaxCheckpointsPerRequest = 10

// AncestorResult is the outcome of FindCommonAncestor. AncestorIndex is nil
// when no checkpoint matched even at index 0 (the chains share no genesis).
type AncestorResult struct {
	AncestorIndex        *uint64
	RemoteChainLength    uint64
	RemoteCumulativeDiff model.Decimal
}

func indexBlocks(blocks []*model.MinerBlock) map[uint64]*model.MinerBlock {
	m := make(map[uint64]*model.MinerBlock, len(blocks))
	for _, b := range blocks {
		m[b.Index] = b
	}
	return m
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// buildExponentialCheckpoints implements the exponential-probe phase:
// request matches at len-1, len-2, len-4, len-8, ... down to 0.
func buildExponentialCheckpoints(byIndex map[uint64]*model.MinerBlock, localLen uint64) []Checkpoint {
	var checkpoints []Checkpoint
	step := 0
	for {
		var index uint64
		switch step {
		case 0:
			index = saturatingSub(localLen, 1)
		case 1:
			index = saturatingSub(localLen, 2)
		default:
			index = saturatingSub(localLen, uint64(1)<<uint(step))
		}
		if index >= localLen {
			break
		}
		if b, ok := byIndex[index]; ok {
			checkpoints = append(checkpoints, Checkpoint{Index: b.Index, Hash: b.Hash})
		}
		if index == 0 {
			break
		}
		step++
	}
	return checkpoints
}

// determineBinarySearchBounds picks the initial (low, high) window for the
// binary-search phase from the exponential probe's results.
func determineBinarySearchBounds(highestMatch, localLen uint64, matches []CheckpointMatch) (low, high uint64) {
	low = highestMatch
	high = localLen - 1
	for _, m := range matches {
		if !m.Matches && m.Index > highestMatch && m.Index < high {
			high = m.Index
		}
	}
	return low, high
}

// generateSearchCheckpoints builds one round's checkpoint batch: every
// index in range when it's small enough, otherwise an even spread that
// always includes the upper endpoint.
func generateSearchCheckpoints(byIndex map[uint64]*model.MinerBlock, low, high uint64, rangeSize int) []Checkpoint {
	var checkpoints []Checkpoint
	if rangeSize <= MaxCheckpointsPerRequest {
		for idx := low + 1; idx <= high; idx++ {
			if b, ok := byIndex[idx]; ok {
				checkpoints = append(checkpoints, Checkpoint{Index: b.Index, Hash: b.Hash})
			}
		}
		return checkpoints
	}

	step := rangeSize / MaxCheckpointsPerRequest
	if step < 1 {
		step = 1
	}
	for idx := low + 1; idx <= high && len(checkpoints) < MaxCheckpointsPerRequest; idx += uint64(step) {
		if b, ok := byIndex[idx]; ok {
			checkpoints = append(checkpoints, Checkpoint{Index: b.Index, Hash: b.Hash})
		}
	}
	if b, ok := byIndex[high]; ok {
		if len(checkpoints) == 0 || checkpoints[len(checkpoints)-1].Index != high {
			checkpoints = append(checkpoints, Checkpoint{Index: b.Index, Hash: b.Hash})
		}
	}
	return checkpoints
}

// processBinarySearchResults folds one round's matches into the running
// (highest match, low, high) state: the highest matching index tightens
// low, the lowest non-matching index tightens high.
func processBinarySearchResults(matches []CheckpointMatch, curHighest, curLow, curHigh uint64) (highest, low, high uint64) {
	highest, low, high = curHighest, curLow, curHigh

	var batchHighest *uint64
	var batchLowestNonMatch *uint64
	for _, m := range matches {
		idx := m.Index
		if m.Matches {
			if batchHighest == nil || idx > *batchHighest {
				v := idx
				batchHighest = &v
			}
		} else if batchLowestNonMatch == nil || idx < *batchLowestNonMatch {
			v := idx
			batchLowestNonMatch = &v
		}
	}

	if batchHighest != nil {
		if *batchHighest > highest {
			highest = *batchHighest
		}
		low = *batchHighest
	}
	if batchLowestNonMatch != nil && *batchLowestNonMatch < high {
		high = *batchLowestNonMatch
	}
	return highest, low, high
}

// FindCommonAncestor runs the exponential-probe-then-binary-search common
// ancestor algorithm of section 4.5 against peer, given the caller's local
// canonical chain (assumed sorted by index, as FindAllCanonicalMinerBlocks
// callers conventionally keep it).
func FindCommonAncestor(ctx context.Context, peer Peer, local []*model.MinerBlock) (AncestorResult, error) {
	if len(local) == 0 {
		info, err := peer.ChainInfo(ctx)
		if err != nil {
			return AncestorResult{}, err
		}
		return AncestorResult{RemoteChainLength: info.ChainLength, RemoteCumulativeDiff: info.CumulativeDifficulty}, nil
	}

	byIndex := indexBlocks(local)
	localLen := uint64(len(local))

	checkpoints := buildExponentialCheckpoints(byIndex, localLen)
	resp, err := peer.FindAncestor(ctx, checkpoints)
	if err != nil {
		return AncestorResult{}, err
	}
	if resp.HighestMatch == nil {
		return AncestorResult{RemoteChainLength: resp.ChainLength, RemoteCumulativeDiff: resp.CumulativeDifficulty}, nil
	}

	highest := *resp.HighestMatch
	low, high := determineBinarySearchBounds(highest, localLen, resp.Matches)

	for low < high && high-low > 1 {
		rangeSize := int(high - low)
		cps := generateSearchCheckpoints(byIndex, low, high, rangeSize)
		if len(cps) == 0 {
			break
		}
		r, err := peer.FindAncestor(ctx, cps)
		if err != nil {
			return AncestorResult{}, err
		}
		highest, low, high = processBinarySearchResults(r.Matches, highest, low, high)
		if rangeSize <= MaxCheckpointsPerRequest {
			break
		}
	}

	return AncestorResult{
		AncestorIndex:        &highest,
		RemoteChainLength:    resp.ChainLength,
		RemoteCumulativeDiff: resp.CumulativeDifficulty,
	}, nil
}
