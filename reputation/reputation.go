// Package reputation implements reputation scoring and leader election
// (C9): a sliding window of per-validator performance records, decay-
// weighted scoring, and deterministic weighted leader selection.
package reputation

import (
	"encoding/binary"
	"math"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"modalnode/model"
)

// Config parameterizes scoring per section 4.9's defaults.
type Config struct {
	WindowSize      int
	DecayFactor     float64
	MinScore        float64
	TargetLatencyMs uint64
}

func DefaultConfig() Config {
	return Config{WindowSize: 20, DecayFactor: 0.9, MinScore: 0.1, TargetLatencyMs: 500}
}

// PerformanceRecord is one observation of a validator's behavior in a round.
type PerformanceRecord struct {
	Round     uint64
	LatencyMs uint64
	Success   bool
}

// Manager tracks performance windows and scores across validators. Per
// section 5's lock order it sits behind Consensus.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	windows map[model.Address][]PerformanceRecord
	scores  map[model.Address]float64
}

func New(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg,
		windows: make(map[model.Address][]PerformanceRecord),
		scores:  make(map[model.Address]float64),
	}
}

// Record appends a performance observation, trimming the window to
// cfg.WindowSize (oldest dropped first), then recomputes that validator's
// score.
func (m *Manager) Record(validator model.Address, rec PerformanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := append(m.windows[validator], rec)
	if len(w) > m.cfg.WindowSize {
		w = w[len(w)-m.cfg.WindowSize:]
	}
	m.windows[validator] = w
	m.scores[validator] = scoreWindow(w, m.cfg)
}

// UpdateScores recomputes every tracked validator's score from its current
// window; Record already keeps scores current incrementally, so this is
// mainly useful after a bulk config change.
func (m *Manager) UpdateScores() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for v, w := range m.windows {
		m.scores[v] = scoreWindow(w, m.cfg)
	}
}

// scoreWindow computes the decay-weighted success rate, penalizing entries
// that missed the target latency or failed outright, clamped to
// [cfg.MinScore, 1.0]. Index len(w)-1 is the most recent entry and gets the
// least decay (decay_factor^0).
func scoreWindow(w []PerformanceRecord, cfg Config) float64 {
	if len(w) == 0 {
		return cfg.MinScore
	}
	var weightedSuccess, totalWeight float64
	for i := len(w) - 1; i >= 0; i-- {
		k := len(w) - 1 - i
		weight := math.Pow(cfg.DecayFactor, float64(k))
		totalWeight += weight
		rec := w[i]
		ok := rec.Success && (cfg.TargetLatencyMs == 0 || rec.LatencyMs <= cfg.TargetLatencyMs)
		if ok {
			weightedSuccess += weight
		}
	}
	if totalWeight == 0 {
		return cfg.MinScore
	}
	score := weightedSuccess / totalWeight
	if score < cfg.MinScore {
		return cfg.MinScore
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// Score returns a validator's current score, or MinScore for one never
// observed.
func (m *Manager) Score(validator model.Address) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.scores[validator]; ok {
		return s
	}
	return m.cfg.MinScore
}

// SelectLeader deterministically picks a weighted-random committee member
// for round: higher score means higher selection probability, and the same
// (round, committee, scores) always yields the same result.
func (m *Manager) SelectLeader(round uint64, committee []model.Address) model.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(round, committee)
}

// SelectFallbackLeader repeats selection excluding one validator, for use
// when the primary leader's certificate doesn't appear within a round
// timeout.
func (m *Manager) SelectFallbackLeader(round uint64, committee []model.Address, exclude model.Address) model.Address {
	filtered := make([]model.Address, 0, len(committee))
	for _, v := range committee {
		if v != exclude {
			filtered = append(filtered, v)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(round, filtered)
}

func (m *Manager) selectLocked(round uint64, committee []model.Address) model.Address {
	if len(committee) == 0 {
		return model.Address{}
	}
	weights := make([]float64, len(committee))
	var total float64
	for i, v := range committee {
		w := m.cfg.MinScore
		if s, ok := m.scores[v]; ok {
			w = s
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		return committee[0]
	}
	target := deterministicFraction(round) * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if target < cumulative {
			return committee[i]
		}
	}
	return committee[len(committee)-1]
}

// deterministicFraction derives a value in [0, 1) from round, using
// Keccak256 (already wired via go-ethereum for certificate.AckTracker)
// rather than a PRNG, so leader selection is reproducible across replaying
// nodes without any shared mutable seed state.
func deterministicFraction(round uint64) float64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	h := ethcrypto.Keccak256(buf[:])
	n := binary.BigEndian.Uint64(h[:8])
	return float64(n) / float64(math.MaxUint64)
}
