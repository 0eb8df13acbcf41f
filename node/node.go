// Package node wires every component (C1-C12 plus the ambient and domain
// stack) into one long-lived Node type, following section 5's lock
// ordering: KV > Observer > DAG > Consensus > ReputationManager >
// SyncingPeerSet. Node itself adds no new locking beyond a small map
// guarding in-flight certificate builders; every other concurrency
// guarantee is the owning component's own.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"modalnode/certificate"
	"modalnode/checkpoint"
	"modalnode/config"
	"modalnode/consensus"
	"modalnode/contractstore"
	"modalnode/dag"
	"modalnode/errkind"
	"modalnode/kv"
	"modalnode/metrics"
	"modalnode/model"
	"modalnode/multistore"
	"modalnode/observer"
	"modalnode/predicate"
	"modalnode/reputation"
	chainsync "modalnode/sync"
	"modalnode/transport"
)

// Node is the fully wired node: every component plus the shared
// configuration, logger and metrics registry they were built with.
type Node struct {
	cfg     config.Config
	log     *logrus.Logger
	metrics *metrics.Registry

	stores map[multistore.StoreName]kv.Store
	router *multistore.Router

	observer    *observer.Observer
	syncCoord   *chainsync.Coordinator
	checkpoints *checkpoint.Engine

	dag        *dag.DAG
	reputation *reputation.Manager
	consensus  *consensus.Consensus
	acks       *certificate.AckTracker

	contracts  *contractstore.Store
	predicates *predicate.Runner

	transport *transport.Host

	committee []model.Address

	mu           sync.Mutex
	certBuilders map[model.Hash]*certificate.Builder
}

// Options carries the pieces of a Node's construction that have no sensible
// zero value: the committee roster consensus/certificate need, and
// optionally a pre-built transport Host (nil runs without networking, e.g.
// in tests).
type Options struct {
	Committee []model.Address
	Transport *transport.Host

	// Registerer is where Node's prometheus metrics are registered. Nil
	// builds a private, unexposed registry (the default for tests and
	// one-off tooling); pass the process's prometheus.DefaultRegisterer (or
	// a dedicated one wired to an HTTP handler) to actually expose them.
	Registerer prometheus.Registerer
}

// New builds a Node over an already-constructed set of five kv.Store
// backends, one per multistore.StoreName. Use NewDisk to have Node open
// disk-backed stores itself.
func New(cfg config.Config, stores map[multistore.StoreName]kv.Store, opts Options, log *logrus.Logger) (*Node, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := requireAllStores(stores); err != nil {
		return nil, err
	}

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	reg := metrics.New(registerer)

	router := multistore.New(stores, multistore.Config{
		BlocksPerEpoch: cfg.Epoch.BlocksPerEpoch,
		PromoteAfter:   cfg.Epoch.PromoteAfter,
		PurgeAfter:     cfg.Epoch.PurgeAfter,
		RetainRounds:   10,
	}, log)

	obs := observer.New(router, cfg.Epoch.RollingCheckSize, log, reg)
	syncCoord := chainsync.NewCoordinator(obs, cfg.Sync.RangeFetchBatchSize, log, reg)
	ckpt := checkpoint.New(router, log)

	d := dag.New()
	rep := reputation.New(reputation.Config{
		WindowSize:      cfg.Reputation.WindowSize,
		DecayFactor:     cfg.Reputation.DecayFactor,
		MinScore:        cfg.Reputation.MinScore,
		TargetLatencyMs: uint64(cfg.Reputation.TargetLatencyMS),
	})
	snapshotStore := consensus.NewKVSnapshotStore(router.ContractBackend())
	cons := consensus.New(d, rep, consensus.Config{
		Committee:             opts.Committee,
		CheckpointEveryRounds: cfg.Consensus.CheckpointInterval,
	}, snapshotStore, log, reg)

	contracts := contractstore.New(router.ContractBackend(), log, reg)
	predicates := predicate.New(cfg.VM.DefaultGasLimit, log, reg)

	n := &Node{
		cfg:          cfg,
		log:          log,
		metrics:      reg,
		stores:       stores,
		router:       router,
		observer:     obs,
		syncCoord:    syncCoord,
		checkpoints:  ckpt,
		dag:          d,
		reputation:   rep,
		consensus:    cons,
		acks:         certificate.NewAckTracker(),
		contracts:    contracts,
		predicates:   predicates,
		transport:    opts.Transport,
		committee:    opts.Committee,
		certBuilders: make(map[model.Hash]*certificate.Builder),
	}

	if n.transport != nil {
		n.transport.ServePeerRequests(&localPeerService{node: n})
	}
	return n, nil
}

// NewDisk opens one kv.Disk store per logical store name under baseDir
// (baseDir/miner_active, baseDir/miner_canon, ...) and delegates to New.
func NewDisk(cfg config.Config, baseDir string, opts Options, log *logrus.Logger) (*Node, error) {
	names := []multistore.StoreName{
		multistore.MinerActive, multistore.MinerCanon, multistore.MinerForks,
		multistore.ValidatorActive, multistore.ValidatorFinal,
	}
	stores := make(map[multistore.StoreName]kv.Store, len(names))
	for _, name := range names {
		d, err := kv.Open(filepath.Join(baseDir, string(name)), false)
		if err != nil {
			return nil, errkind.Wrap(errkind.Fatal, err, fmt.Sprintf("open %s store", name))
		}
		stores[name] = d
	}
	return New(cfg, stores, opts, log)
}

func requireAllStores(stores map[multistore.StoreName]kv.Store) error {
	for _, name := range []multistore.StoreName{
		multistore.MinerActive, multistore.MinerCanon, multistore.MinerForks,
		multistore.ValidatorActive, multistore.ValidatorFinal,
	} {
		if _, ok := stores[name]; !ok {
			return errkind.New(errkind.Fatal, "node: missing store backend for "+string(name))
		}
	}
	return nil
}

// Config returns the configuration Node was built with.
func (n *Node) Config() config.Config { return n.cfg }

// Router exposes the multistore router for callers needing direct read
// access (e.g. a read-only status surface); mutation always goes through
// the owning component (Observer, ContractStore, Checkpoint).
func (n *Node) Router() *multistore.Router { return n.router }

// Observer returns the chain observer (C4).
func (n *Node) Observer() *observer.Observer { return n.observer }

// SyncCoordinator returns the fork-choice/sync engine (C5).
func (n *Node) SyncCoordinator() *chainsync.Coordinator { return n.syncCoord }

// Checkpoints returns the miner-chain checkpoint engine (C6).
func (n *Node) Checkpoints() *checkpoint.Engine { return n.checkpoints }

// DAG returns the certificate DAG (C7).
func (n *Node) DAG() *dag.DAG { return n.dag }

// Reputation returns the validator scoring/leader-election manager (C9).
func (n *Node) Reputation() *reputation.Manager { return n.reputation }

// Consensus returns the Shoal-style ordering engine (C10).
func (n *Node) Consensus() *consensus.Consensus { return n.consensus }

// Contracts returns the contract store (C11).
func (n *Node) Contracts() *contractstore.Store { return n.contracts }

// Predicates returns the predicate runner (C12).
func (n *Node) Predicates() *predicate.Runner { return n.predicates }

// AcceptMinerBlock runs a gossiped block through the chain observer's
// acceptance policy (C4), the node's entry point for both locally mined and
// peer-gossiped blocks.
func (n *Node) AcceptMinerBlock(b *model.MinerBlock) (bool, error) {
	accepted, err := n.observer.ProcessGossipedBlock(b)
	if err != nil {
		return false, err
	}
	if n.transport != nil && accepted {
		if err := n.transport.BroadcastMinerBlock(context.Background(), b); err != nil {
			n.log.WithError(err).Warn("node: failed to gossip accepted block")
		}
	}
	return accepted, nil
}

// SyncWithPeer runs one fork-choice cycle against peer (C5).
func (n *Node) SyncWithPeer(ctx context.Context, peer chainsync.Peer) (chainsync.Decision, observer.ChainIntegrityReport, error) {
	return n.syncCoord.SyncWithPeer(ctx, peer)
}

// BeginCertificate starts vote collection for a new header (C8), keyed by
// digest so concurrent AddVote calls for the same header serialize through
// the Builder's own mutex rather than Node's.
func (n *Node) BeginCertificate(digest model.Hash, author model.Address, round uint64, parents []model.Hash) *certificate.Builder {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.certBuilders[digest]; ok {
		return b
	}
	b := certificate.NewBuilder(digest, author, round, parents, n.committee)
	n.certBuilders[digest] = b
	return b
}

// FinalizeCertificate builds the certificate for digest once quorum is
// reached, feeds it into consensus (inserting into the DAG, recording
// author performance, and evaluating leader commitment), and drops the
// builder regardless of outcome — a failed Build means retry by collecting
// more votes under a fresh BeginCertificate call, not by reusing a
// consumed builder.
func (n *Node) FinalizeCertificate(digest model.Hash) (*model.Certificate, []*model.Certificate, error) {
	n.mu.Lock()
	b, ok := n.certBuilders[digest]
	if ok {
		delete(n.certBuilders, digest)
	}
	n.mu.Unlock()
	if !ok {
		return nil, nil, errkind.New(errkind.Missing, "no certificate builder in progress for digest")
	}

	cert, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	committed, err := n.consensus.ProcessCertificate(cert)
	if err != nil {
		return cert, nil, err
	}
	if n.transport != nil {
		if err := n.transport.BroadcastCertificate(context.Background(), cert); err != nil {
			n.log.WithError(err).Warn("node: failed to gossip finalized certificate")
		}
	}
	return cert, committed, nil
}

// AcceptAck records and validates an ack on a draft validator block (C8).
func (n *Node) AcceptAck(round uint64, author, peerID, acker model.Address, closingSig, sig []byte) (bool, error) {
	return n.acks.Accept(round, author, peerID, acker, closingSig, sig)
}

// Close tears down every component that owns a background resource:
// transport host and the underlying kv store backends.
func (n *Node) Close() error {
	var firstErr error
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			firstErr = err
		}
	}
	for name, s := range n.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("node: close %s store: %w", name, err)
		}
	}
	return firstErr
}
