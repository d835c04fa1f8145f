package sandbox

// Mode controls which agent turns get routed through the sandbox.
type Mode string

const (
	ModeOff     Mode = "off"      // never sandbox
	ModeNonMain Mode = "non-main" // sandbox subagents/delegates, not the main session
	ModeAll     Mode = "all"      // sandbox every turn
)

// WorkspaceAccess controls what the guest can see of the host workspace.
type WorkspaceAccess string

const (
	AccessNone WorkspaceAccess = "none"
	AccessRO   WorkspaceAccess = "ro"
	AccessRW   WorkspaceAccess = "rw"
)

// Scope controls how sandbox instances are shared/keyed.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeAgent   Scope = "agent"
	ScopeShared  Scope = "shared"
)

// Config mirrors config.SandboxConfig's shape field-for-field so
// config.ToSandboxConfig needs no changes to target this package.
//
// This sandbox is WASM-backed (wazero), not container-backed: Image now
// names the compiled guest module (a local path or an OCI-style ref resolved
// by the caller before being placed on disk), CPUs/User/TmpfsSizeMB have no
// WASM equivalent and are accepted but ignored, and MemoryMB/TimeoutSec drive
// wazero's linear memory cap and the epoch (context-deadline) preemption
// instead of container cgroup limits.
type Config struct {
	Mode            Mode
	Image           string
	WorkspaceAccess WorkspaceAccess
	Scope           Scope
	MemoryMB        int
	CPUs            float64 // accepted, ignored: no WASM cgroup equivalent
	TimeoutSec      int
	NetworkEnabled  bool
	ReadOnlyRoot    bool
	SetupCommand    string // accepted, ignored: no container entrypoint to run it in
	Env             map[string]string

	User           string // accepted, ignored
	TmpfsSizeMB    int    // accepted, ignored
	MaxOutputBytes int

	IdleHours        int
	MaxAgeDays       int
	PruneIntervalMin int
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModeOff,
		Image:            "",
		WorkspaceAccess:  AccessRW,
		Scope:            ScopeSession,
		MemoryMB:         128,
		CPUs:             1.0,
		TimeoutSec:       30,
		NetworkEnabled:   false,
		ReadOnlyRoot:     true,
		Env:              nil,
		MaxOutputBytes:   1 << 20, // 1MB
		IdleHours:        24,
		MaxAgeDays:       7,
		PruneIntervalMin: 5,
	}
}

// ContainerWorkdir returns the guest-visible path the host workspace is
// mounted at, or "" when WorkspaceAccess is AccessNone.
func (c Config) ContainerWorkdir() string {
	if c.WorkspaceAccess == AccessNone {
		return ""
	}
	return "/workspace"
}
