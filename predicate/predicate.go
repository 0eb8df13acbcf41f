// Package predicate implements the predicate runner (C12): evaluation of
// named predicates — a fixed built-in set plus per-contract WebAssembly
// bytecode — against an input document, with gas metering enforced on both
// paths. Built-ins and WASM modules share one Evaluate entry point and one
// Result shape, per section 4.12: "{ valid: bool, gas_used: int, errors:
// [string] }".
//
// WASM sandboxing itself (the actual instruction-level isolation) is an
// explicit non-goal collaborator (section 1's "PredicateRunner with gas
// meter"); this package is the metering and dispatch layer around
// wasmer-go, the same WASM engine core/virtual_machine.go already wires in
// for contract execution, reused here rather than adding a second WASM
// runtime.
package predicate

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"modalnode/errkind"
	"modalnode/metrics"
)

// Context is the fixed evaluation context every predicate call carries,
// per section 4.12: "Inputs include a context { contract_id, block_height,
// timestamp }".
type Context struct {
	ContractID  string `json:"contract_id"`
	BlockHeight uint64 `json:"block_height"`
	Timestamp   int64  `json:"timestamp"`
}

// Input is one predicate invocation's full argument: the fixed context plus
// arbitrary predicate-specific data.
type Input struct {
	Context Context         `json:"context"`
	Data    json.RawMessage `json:"data"`
}

// Result is a predicate's verdict, matching section 4.12's return shape
// exactly.
type Result struct {
	Valid   bool     `json:"valid"`
	GasUsed uint64   `json:"gas_used"`
	Errors  []string `json:"errors,omitempty"`
}

// GasMeter bounds gas consumption for a single predicate evaluation. It
// mirrors core.GasMeter's used/limit shape (see core/virtual_machine.go)
// rather than introducing a second metering convention.
type GasMeter struct {
	used  uint64
	limit uint64
}

// NewGasMeter builds a meter with the given ceiling.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume deducts cost, failing as an Invalid-kind error (per section 7,
// predicate violations are Invalid) once the ceiling would be exceeded.
func (g *GasMeter) Consume(cost uint64) error {
	if g.used+cost > g.limit {
		return errkind.New(errkind.Invalid, "predicate exceeded gas ceiling")
	}
	g.used += cost
	return nil
}

// Used reports cumulative gas consumed so far.
func (g *GasMeter) Used() uint64 { return g.used }

// Remaining reports gas left before Consume starts failing.
func (g *GasMeter) Remaining() uint64 {
	if g.used >= g.limit {
		return 0
	}
	return g.limit - g.used
}

// Builtin is one built-in predicate's implementation: it inspects input and
// spends gas on meter, returning (valid, rejection reasons). Malformed input
// data is reported the same way, as false with a reason. A non-nil error
// comes only from the gas meter: an Invalid-kind errkind error once the
// ceiling would be exceeded.
type Builtin func(input Input, meter *GasMeter) (bool, []string, error)

// Runner evaluates named predicates: a fixed built-in registry, checked
// first, falling back to a per-contract WASM module table (see wasm.go). It
// carries no mutable shared state beyond the module table and a default gas
// ceiling, matching section 1's "no process-wide globals" design note —
// every Node constructs and owns its own Runner.
type Runner struct {
	builtins     map[string]Builtin
	defaultLimit uint64
	log          *logrus.Logger
	metrics      *metrics.Registry

	modules *moduleTable
}

// New builds a Runner with the standard built-in registry installed.
// defaultGasLimit is the ceiling Evaluate applies when its gasLimit
// argument is 0 (e.g. config.Config.VM.DefaultGasLimit).
// A nil m records to a throwaway registry.
func New(defaultGasLimit uint64, log *logrus.Logger, m *metrics.Registry) *Runner {
	if log == nil {
		log = logrus.New()
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Runner{
		builtins:     standardBuiltins(),
		defaultLimit: defaultGasLimit,
		log:          log,
		metrics:      m,
		modules:      newModuleTable(),
	}
}

// DefaultGasLimit returns the ceiling new Evaluate calls should use when the
// caller has no more specific override.
func (r *Runner) DefaultGasLimit() uint64 { return r.defaultLimit }

// RegisterModule installs contract-supplied WASM predicate bytecode under
// name, scoped to contractID — section 4.12's "per-contract module table of
// opaque bytecode".
func (r *Runner) RegisterModule(contractID, name string, wasmBytes []byte) error {
	return r.modules.register(contractID, name, wasmBytes)
}

// Evaluate runs the named predicate against input, preferring a built-in of
// that name and falling back to a WASM module registered for
// input.Context.ContractID. gasLimit bounds this call only; it does not
// persist across calls.
func (r *Runner) Evaluate(name string, input Input, gasLimit uint64) (Result, error) {
	if gasLimit == 0 {
		gasLimit = r.defaultLimit
	}
	meter := NewGasMeter(gasLimit)

	if fn, ok := r.builtins[name]; ok {
		valid, errs, err := fn(input, meter)
		if err != nil {
			return Result{}, err
		}
		r.metrics.PredicateGas.Observe(float64(meter.Used()))
		return Result{Valid: valid, GasUsed: meter.Used(), Errors: errs}, nil
	}

	mod, found := r.modules.lookup(input.Context.ContractID, name)
	if !found {
		return Result{}, errkind.New(errkind.Missing, "unknown predicate: "+name)
	}
	result, err := r.runWASM(mod, input, meter)
	if err != nil {
		return Result{}, err
	}
	r.metrics.PredicateGas.Observe(float64(result.GasUsed))
	return result, nil
}
