package sandbox

import "errors"

// ErrSandboxDisabled is returned by Manager.Get when the sandbox is
// configured off; callers fall back to unsandboxed host execution.
var ErrSandboxDisabled = errors.New("sandbox: disabled")

// ErrFuelExhausted is returned when a guest invocation makes more host
// calls than its configured budget allows.
var ErrFuelExhausted = errors.New("sandbox: fuel budget exhausted")

// ErrNoGuestModule is returned when Exec/Invoke is called on a sandbox
// with no compiled guest module loaded (Config.Image is empty).
var ErrNoGuestModule = errors.New("sandbox: no guest module configured")
