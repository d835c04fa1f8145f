package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/openfang-project/openfang/internal/capability"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// RunRequest is one guest module invocation. Args is reserved for guests
// that export an allocator (alloc/dealloc) and read their input from
// linear memory; the entry point called today takes no parameters, so Args
// is carried but not yet passed in.
type RunRequest struct {
	State      capability.GuestState
	EntryPoint string // exported function name, defaults to "run"
	Args       []byte
	FuelBudget uint64 // max host calls this invocation may make; 0 = unlimited
}

// RunResult is the outcome of a guest invocation.
type RunResult struct {
	Output    []byte
	HostCalls uint64
}

// guestRuntime owns one compiled wazero module plus the shared runtime it
// was compiled against. Safe for concurrent Invoke calls; each call gets
// its own module instance so guest state never leaks across invocations.
type guestRuntime struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	memoryMB int
}

// compileGuest compiles wasmBytes against a fresh wazero runtime configured
// to abort guest execution the moment ctx is cancelled (our epoch-deadline
// equivalent — wazero has no separate "epoch" API, but WithCloseOnContextDone
// gives the same wall-clock preemption Wasmtime's epoch interruption does).
func compileGuest(ctx context.Context, wasmBytes []byte, memoryMB int) (*guestRuntime, error) {
	rcfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if memoryMB > 0 {
		// 64 KiB per WASM page; growth past the cap traps inside the guest.
		rcfg = rcfg.WithMemoryLimitPages(uint32(memoryMB) * 16)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile guest module: %w", err)
	}
	return &guestRuntime{runtime: rt, compiled: compiled, memoryMB: memoryMB}, nil
}

func (g *guestRuntime) Close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}

// RunModuleOnce compiles wasmBytes against a throwaway runtime, invokes
// req under the given memory cap and wall-time deadline, and tears the
// runtime down before returning. One instance per call: no linear memory
// or compilation state is shared with any other invocation. Callers with
// a stable guest module that want to amortize compilation go through
// Manager/Sandbox.Invoke instead; this path exists for per-skill modules
// loaded on demand.
func RunModuleOnce(ctx context.Context, wasmBytes []byte, memoryMB, timeoutSec int, req RunRequest) (RunResult, error) {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	g, err := compileGuest(ctx, wasmBytes, memoryMB)
	if err != nil {
		return RunResult{}, err
	}
	defer g.Close(context.Background())
	return g.invoke(ctx, req)
}

// invoke instantiates the compiled module fresh, wires a host import module
// that dispatches every guest host-call through capability.Dispatch, and
// runs req.EntryPoint (default "run"). Fuel is enforced as a host-call
// counter: once req.FuelBudget host calls have been made, every further
// host_call returns an error envelope to the guest instead of panicking —
// the guest is expected to check its own fuel-exhausted response and
// return, and invoke reports ErrFuelExhausted to the caller regardless of
// what the guest ultimately did.
func (g *guestRuntime) invoke(ctx context.Context, req RunRequest) (RunResult, error) {
	var hostCalls uint64
	var fuelExhausted atomic.Bool
	var stdout, stderr bytes.Buffer

	hostBuilder := g.runtime.NewHostModuleBuilder("openfang")
	hostBuilder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, methodPtr, methodLen, paramsPtr, paramsLen, outPtr, outCap uint32) uint32 {
			n := atomic.AddUint64(&hostCalls, 1)
			if req.FuelBudget > 0 && n > req.FuelBudget {
				fuelExhausted.Store(true)
				envelope := capability.Envelope{Error: ErrFuelExhausted.Error()}
				encoded, _ := json.Marshal(envelope)
				mem := mod.Memory()
				if uint32(len(encoded)) > outCap {
					encoded = encoded[:outCap]
				}
				mem.Write(outPtr, encoded)
				return uint32(len(encoded))
			}

			mem := mod.Memory()
			methodBytes, ok := mem.Read(methodPtr, methodLen)
			if !ok {
				return 0
			}
			paramsBytes, ok := mem.Read(paramsPtr, paramsLen)
			if !ok {
				return 0
			}

			envelope := capability.Dispatch(ctx, req.State, string(methodBytes), json.RawMessage(paramsBytes))
			encoded, err := json.Marshal(envelope)
			if err != nil {
				return 0
			}
			if uint32(len(encoded)) > outCap {
				encoded = encoded[:outCap]
			}
			if !mem.Write(outPtr, encoded) {
				return 0
			}
			return uint32(len(encoded))
		}).
		Export("host_call")
	hostModule, err := hostBuilder.Instantiate(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("instantiate host module: %w", err)
	}
	defer hostModule.Close(ctx)

	modCfg := wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithName("")
	mod, err := g.runtime.InstantiateModule(ctx, g.compiled, modCfg)
	if err != nil {
		return RunResult{}, fmt.Errorf("instantiate guest module: %w", err)
	}
	defer mod.Close(ctx)

	entry := req.EntryPoint
	if entry == "" {
		entry = "run"
	}
	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return RunResult{}, fmt.Errorf("guest module has no exported function %q", entry)
	}

	_, callErr := fn.Call(ctx)
	if fuelExhausted.Load() {
		return RunResult{HostCalls: hostCalls}, ErrFuelExhausted
	}
	if callErr != nil {
		return RunResult{HostCalls: hostCalls}, fmt.Errorf("guest execution failed: %w", callErr)
	}

	return RunResult{Output: stdout.Bytes(), HostCalls: hostCalls}, nil
}
