package sandbox

import "context"

// ExecResult is the outcome of a command run inside a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox is one live sandbox instance (scoped per Config.Scope).
type Sandbox interface {
	// ID identifies this sandbox instance; used by FsBridge to locate its
	// backing root directory.
	ID() string

	// Exec runs argv with cwd relative to the sandbox's mounted workspace
	// root ("/workspace"). Output is truncated to the manager's configured
	// MaxOutputBytes.
	Exec(ctx context.Context, argv []string, cwd string) (ExecResult, error)

	// Invoke runs the sandbox's compiled WASM guest module (Config.Image),
	// metering it by both fuel (host-call budget) and epoch (wall-clock
	// deadline derived from Config.TimeoutSec).
	Invoke(ctx context.Context, req RunRequest) (RunResult, error)
}

// Manager creates and reuses Sandbox instances keyed by (Scope, key).
type Manager interface {
	// Get returns the sandbox for key, creating it against workspace if it
	// doesn't exist yet. Returns ErrSandboxDisabled if Config.Mode is off.
	Get(ctx context.Context, key, workspace string) (Sandbox, error)

	// Stop halts the manager's background idle-eviction sweep.
	Stop()

	// ReleaseAll tears down every live sandbox instance.
	ReleaseAll(ctx context.Context)
}
