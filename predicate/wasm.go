package predicate

import (
	"encoding/json"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"

	"modalnode/errkind"
)

// wasmModule is one registered contract predicate's opaque bytecode.
// Compilation happens per Evaluate call (mirroring core.HeavyVM.Execute,
// which also recompiles on every invocation) rather than caching a compiled
// wasmer.Module, since predicate evaluation is not expected to be hot enough
// to justify the extra lifecycle bookkeeping a module cache would need.
type wasmModule struct {
	contractID string
	name       string
	bytecode   []byte
}

// moduleTable is the per-contract registry of WASM predicate bytecode,
// section 4.12's "per-contract module table of opaque bytecode".
type moduleTable struct {
	mu      sync.RWMutex
	modules map[string]*wasmModule
	engine  *wasmer.Engine
}

func newModuleTable() *moduleTable {
	return &moduleTable{
		modules: make(map[string]*wasmModule),
		engine:  wasmer.NewEngine(),
	}
}

func moduleKey(contractID, name string) string { return contractID + "/" + name }

func (t *moduleTable) register(contractID, name string, bytecode []byte) error {
	if contractID == "" || name == "" {
		return errkind.New(errkind.Invalid, "predicate module requires contract id and name")
	}
	if len(bytecode) == 0 {
		return errkind.New(errkind.Invalid, "predicate module bytecode is empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules[moduleKey(contractID, name)] = &wasmModule{contractID: contractID, name: name, bytecode: bytecode}
	return nil
}

func (t *moduleTable) lookup(contractID, name string) (*wasmModule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mod, ok := t.modules[moduleKey(contractID, name)]
	return mod, ok
}

// wasmResult is the JSON shape a WASM predicate module writes back through
// host_write_result: a subset of Result, since gas_used is tracked by the
// host meter rather than the guest.
type wasmResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// wasmHostCtx is the state shared between a running WASM instance and its
// host imports, mirroring core.hostCtx's role in virtual_machine.go.
type wasmHostCtx struct {
	mem    *wasmer.Memory
	meter  *GasMeter
	input  []byte
	output []byte
}

// runWASM executes mod's bytecode against input under meter, via the same
// wasmer-go engine core/virtual_machine.go's HeavyVM uses. The guest receives
// only host_consume_gas, host_read_input and host_write_result — deliberately
// no clock, RNG, or I/O imports, per section 4.12's "refuse nondeterminism
// (no clock, RNG, or I/O calls)".
func (r *Runner) runWASM(mod *wasmModule, input Input, meter *GasMeter) (Result, error) {
	inputBytes, err := json.Marshal(input)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.Invalid, err, "marshal predicate input")
	}

	store := wasmer.NewStore(r.modules.engine)
	compiled, err := wasmer.NewModule(store, mod.bytecode)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.Invalid, err, "compile predicate module")
	}

	hctx := &wasmHostCtx{meter: meter, input: inputBytes}
	imports := registerPredicateHost(store, hctx)

	instance, err := wasmer.NewInstance(compiled, imports)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.Invalid, err, "instantiate predicate module")
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return Result{}, errkind.New(errkind.Invalid, "predicate module missing memory export")
	}
	hctx.mem = mem

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return Result{}, errkind.New(errkind.Invalid, "predicate module missing _start export")
	}
	if _, err := start(); err != nil {
		return Result{Valid: false, GasUsed: meter.Used(), Errors: []string{err.Error()}}, nil
	}

	if len(hctx.output) == 0 {
		return Result{}, errkind.New(errkind.Integrity, "predicate module produced no result")
	}
	var wr wasmResult
	if err := json.Unmarshal(hctx.output, &wr); err != nil {
		return Result{}, errkind.Wrap(errkind.Integrity, err, "malformed predicate module result")
	}
	return Result{Valid: wr.Valid, GasUsed: meter.Used(), Errors: wr.Errors}, nil
}

// registerPredicateHost wires h's callbacks as WASM imports under the "env"
// namespace, following registerHost's shape in core/virtual_machine.go.
func registerPredicateHost(store *wasmer.Store, h *wasmHostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		b := h.mem.Data()[ptr : ptr+ln]
		out := make([]byte, ln)
		copy(out, b)
		return out
	}
	write := func(ptr int32, data []byte) { copy(h.mem.Data()[ptr:], data) }

	hostConsumeGas := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			cost := uint64(args[0].I64())
			if err := h.meter.Consume(cost); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostReadInput := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dst := args[0].I32()
			write(dst, h.input)
			return []wasmer.Value{wasmer.NewI32(int32(len(h.input)))}, nil
		},
	)

	hostWriteResult := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			h.output = read(ptr, ln)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_gas":  hostConsumeGas,
		"host_read_input":   hostReadInput,
		"host_write_result": hostWriteResult,
	})

	return imports
}
