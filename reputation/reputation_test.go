package reputation_test

import (
	"testing"

	"modalnode/model"
	"modalnode/reputation"
)

func addr(b byte) model.Address {
	var a model.Address
	a[0] = b
	return a
}

func TestScoreClampedToMinAndDecaysOlderFailures(t *testing.T) {
	cfg := reputation.DefaultConfig()
	m := reputation.New(cfg)
	v := addr(1)

	for i := 0; i < 5; i++ {
		m.Record(v, reputation.PerformanceRecord{Round: uint64(i), LatencyMs: 100, Success: false})
	}
	lowScore := m.Score(v)
	if lowScore != cfg.MinScore {
		t.Fatalf("all-failure score = %v, want floor %v", lowScore, cfg.MinScore)
	}

	for i := 5; i < 10; i++ {
		m.Record(v, reputation.PerformanceRecord{Round: uint64(i), LatencyMs: 100, Success: true})
	}
	highScore := m.Score(v)
	if highScore <= lowScore {
		t.Fatalf("recent successes should raise the score above the all-failure floor: %v vs %v", highScore, lowScore)
	}
}

func TestSelectLeaderIsDeterministic(t *testing.T) {
	m := reputation.New(reputation.DefaultConfig())
	committee := []model.Address{addr(1), addr(2), addr(3)}
	for _, v := range committee {
		m.Record(v, reputation.PerformanceRecord{Round: 0, LatencyMs: 10, Success: true})
	}
	l1 := m.SelectLeader(42, committee)
	l2 := m.SelectLeader(42, committee)
	if l1 != l2 {
		t.Fatalf("expected deterministic leader selection for the same round, got %v vs %v", l1, l2)
	}
}

func TestSelectFallbackLeaderExcludesGivenValidator(t *testing.T) {
	m := reputation.New(reputation.DefaultConfig())
	committee := []model.Address{addr(1), addr(2), addr(3)}
	for _, v := range committee {
		m.Record(v, reputation.PerformanceRecord{Round: 0, LatencyMs: 10, Success: true})
	}
	for round := uint64(0); round < 20; round++ {
		fallback := m.SelectFallbackLeader(round, committee, addr(1))
		if fallback == addr(1) {
			t.Fatalf("fallback leader must never be the excluded validator")
		}
	}
}
