// Package consensus implements Shoal-style DAG-BFT consensus (C10):
// certificate ingestion into the DAG, leader commitment evaluation, causal
// commit ordering, and periodic checkpointing of consensus state.
package consensus

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"modalnode/certificate"
	"modalnode/dag"
	"modalnode/metrics"
	"modalnode/model"
	"modalnode/reputation"
)

// Config parameterizes round/checkpoint cadence.
type Config struct {
	Committee             []model.Address
	CheckpointEveryRounds  uint64
}

const defaultCheckpointEveryRounds = 100

// Consensus drives certificate processing and commit ordering. Per section
// 5's lock order it sits behind the DAG and ahead of ReputationManager —
// its own mutex guards currentRound/committed bookkeeping, while DAG and
// reputation calls delegate to their own internal locks.
type Consensus struct {
	mu      sync.Mutex
	dag     *dag.DAG
	rep     *reputation.Manager
	cfg     Config
	log     *logrus.Logger
	metrics *metrics.Registry

	currentRound     uint64
	committed        map[model.Hash]bool
	committedRounds  uint64
	roundStart       map[uint64]time.Time
	snapshots        Store
}

// Store persists periodic consensus snapshots; see snapshot.go.
type Store interface {
	SaveSnapshot(s Snapshot) error
}

// New builds a Consensus engine. A nil m records to a throwaway registry.
func New(d *dag.DAG, rep *reputation.Manager, cfg Config, store Store, log *logrus.Logger, m *metrics.Registry) *Consensus {
	if cfg.CheckpointEveryRounds == 0 {
		cfg.CheckpointEveryRounds = defaultCheckpointEveryRounds
	}
	if log == nil {
		log = logrus.New()
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Consensus{
		dag:        d,
		rep:        rep,
		cfg:        cfg,
		log:        log,
		metrics:    m,
		committed:  make(map[model.Hash]bool),
		roundStart: make(map[uint64]time.Time),
		snapshots:  store,
	}
}

// AdvanceRound increments current_round and records its start time for
// latency accounting, returning the new round.
func (c *Consensus) AdvanceRound() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentRound++
	c.roundStart[c.currentRound] = time.Now()
	return c.currentRound
}

func (c *Consensus) CurrentRound() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRound
}

// ProcessCertificate implements process_certificate: insert into the DAG
// (propagating equivocation), record the author's performance, then
// evaluate the leader-commitment rule for the round before cert's. When the leader's
// certificate commits, its causal history (minus already-committed
// certificates) is returned in deterministic topological order.
func (c *Consensus) ProcessCertificate(cert *model.Certificate) ([]*model.Certificate, error) {
	if err := c.dag.Insert(cert); err != nil {
		return nil, err
	}
	c.metrics.DAGRoundSize.WithLabelValues(strconv.FormatUint(cert.Round, 10)).Set(float64(c.dag.RoundSize(cert.Round)))

	c.mu.Lock()
	start, hasStart := c.roundStart[cert.Round]
	c.mu.Unlock()
	latency := uint64(0)
	if hasStart {
		latency = uint64(time.Since(start).Milliseconds())
	}
	c.rep.Record(cert.Author, reputation.PerformanceRecord{Round: cert.Round, LatencyMs: latency, Success: true})

	c.mu.Lock()
	defer c.mu.Unlock()

	// Processing a certificate at round r+1 is what can complete quorum
	// for round r's leader commitment rule, per section 4.10: "at round r,
	// leader L commits iff >= quorum round-(r+1) certificates reference L".
	if cert.Round == 0 {
		return nil, nil
	}
	leaderRound := cert.Round - 1
	leaderAddr := c.rep.SelectLeader(leaderRound, c.cfg.Committee)
	leaderCert, ok := c.dag.GetByAuthorRound(leaderAddr, leaderRound)
	if !ok {
		return nil, nil
	}
	if c.committed[leaderCert.Digest] {
		return nil, nil
	}

	referencingRound := c.dag.GetRound(cert.Round)
	quorum := certificate.Quorum(len(c.cfg.Committee))
	refCount := 0
	for _, rc := range referencingRound {
		if c.dag.HasPath(rc.Digest, leaderCert.Digest) {
			refCount++
		}
	}
	if refCount < quorum {
		return nil, nil
	}

	history := c.collectCausalHistoryLocked(leaderCert)
	var pending []*model.Certificate
	for _, h := range history {
		if !c.committed[h.Digest] {
			pending = append(pending, h)
		}
	}
	ordered := topoSort(pending)
	for _, h := range ordered {
		c.committed[h.Digest] = true
	}

	if len(ordered) > 0 {
		c.metrics.CertsCommitted.Add(float64(len(ordered)))
		c.committedRounds++
		if c.snapshots != nil && c.committedRounds%c.cfg.CheckpointEveryRounds == 0 {
			if err := c.snapshots.SaveSnapshot(c.snapshotLocked()); err != nil {
				c.log.WithError(err).Warn("failed to persist consensus checkpoint")
			}
		}
	}

	return ordered, nil
}

// collectCausalHistoryLocked gathers every certificate reachable from
// leader by following parent edges, including leader itself.
func (c *Consensus) collectCausalHistoryLocked(leader *model.Certificate) []*model.Certificate {
	visited := make(map[model.Hash]*model.Certificate)
	stack := []*model.Certificate{leader}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[cur.Digest]; ok {
			continue
		}
		visited[cur.Digest] = cur
		for _, p := range cur.Parents {
			if parent, ok := c.dag.GetByDigest(p); ok {
				stack = append(stack, parent)
			}
		}
	}
	out := make([]*model.Certificate, 0, len(visited))
	for _, v := range visited {
		out = append(out, v)
	}
	return out
}
