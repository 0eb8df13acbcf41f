// Package multistore routes entity reads and writes across the five
// logical stores (C2): MinerActive, MinerCanon, MinerForks, ValidatorActive
// and ValidatorFinal, and drives the epoch-based promotion and purge tasks
// that move entries between them.
package multistore

import (
	"github.com/sirupsen/logrus"

	"modalnode/kv"
)

// StoreName identifies one of the five logical stores.
type StoreName string

const (
	MinerActive     StoreName = "miner_active"
	MinerCanon      StoreName = "miner_canon"
	MinerForks      StoreName = "miner_forks"
	ValidatorActive StoreName = "validator_active"
	ValidatorFinal  StoreName = "validator_final"
)

// Config parameterizes the promotion/purge cadence per section 6's "epoch
// length E" and the validator retention window from 4.2.
type Config struct {
	BlocksPerEpoch  uint64
	PromoteAfter    uint64 // epochs before Active -> Canon/Forks (default 2)
	PurgeAfter      uint64 // epochs before deletion from Active (default 12)
	RetainRounds    uint64 // rounds before ValidatorActive draft is dropped (default 10)
}

// DefaultConfig matches the glossary/section 6 defaults.
func DefaultConfig() Config {
	return Config{BlocksPerEpoch: 40, PromoteAfter: 2, PurgeAfter: 12, RetainRounds: 10}
}

// Router owns the five backing kv.Store instances and the routing/promotion
// logic layered over them. Contracts and commits (C11) are stored
// exclusively in the ValidatorFinal store per section 4.2; use
// ContractBackend to obtain it.
type Router struct {
	stores map[StoreName]kv.Store
	cfg    Config
	log    *logrus.Logger
}

// New builds a Router. Every StoreName must have a backing kv.Store; callers
// typically pass in-memory stores for tests and disk-backed stores (one
// directory per logical store) in production. Router itself emits no
// metrics — block/commit acceptance events live one layer up, in Observer
// and ContractStore, which hold the routing-aware context a label needs.
func New(stores map[StoreName]kv.Store, cfg Config, log *logrus.Logger) *Router {
	if log == nil {
		log = logrus.New()
	}
	return &Router{stores: stores, cfg: cfg, log: log}
}

func (r *Router) store(name StoreName) kv.Store {
	s, ok := r.stores[name]
	if !ok {
		panic("multistore: unconfigured store " + string(name))
	}
	return s
}

// ContractBackend exposes the store backing contracts and commits (C11),
// which per section 4.2 live exclusively in Final.
func (r *Router) ContractBackend() kv.Store {
	return r.store(ValidatorFinal)
}

// ActiveMinerStore exposes the raw MinerActive store for Observer's
// chain-tip and pending-by-parent secondary indexes, which are
// observer-owned bookkeeping rather than MinerBlock entities in their own
// right.
func (r *Router) ActiveMinerStore() kv.Store {
	return r.store(MinerActive)
}

// Config returns the router's routing configuration, read-only, so
// collaborators (Observer's gap/promotion bookkeeping) can stay in sync
// with BlocksPerEpoch without duplicating it.
func (r *Router) Config() Config {
	return r.cfg
}

// CanonMinerStore exposes the MinerCanon store, which per section 4.6 is
// also where checkpoints are appended (checkpoints are permanent once a
// block's epoch has settled, the same durability tier as promoted blocks).
func (r *Router) CanonMinerStore() kv.Store {
	return r.store(MinerCanon)
}

// Close closes every backing store.
func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
