package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Mode != ModeOff {
		t.Fatalf("expected ModeOff default, got %v", c.Mode)
	}
	if c.MemoryMB != 128 || c.TimeoutSec != 30 {
		t.Fatalf("unexpected resource defaults: %+v", c)
	}
	if c.MaxOutputBytes != 1<<20 {
		t.Fatalf("expected 1MB default output cap, got %d", c.MaxOutputBytes)
	}
}

func TestManagerGetReturnsDisabledWhenModeOff(t *testing.T) {
	m := NewManager(DefaultConfig())
	defer m.Stop()

	_, err := m.Get(context.Background(), "session-1", t.TempDir())
	if err != ErrSandboxDisabled {
		t.Fatalf("expected ErrSandboxDisabled, got %v", err)
	}
}

func TestManagerGetReusesInstanceByKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	cfg.WorkspaceAccess = AccessRW
	m := NewManager(cfg)
	defer m.Stop()

	ws := t.TempDir()
	sb1, err := m.Get(context.Background(), "session-1", ws)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	sb2, err := m.Get(context.Background(), "session-1", ws)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sb1.ID() != sb2.ID() {
		t.Fatalf("expected same instance for same key, got %s vs %s", sb1.ID(), sb2.ID())
	}

	sb3, err := m.Get(context.Background(), "session-2", ws)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sb3.ID() == sb1.ID() {
		t.Fatal("expected distinct instance for distinct key")
	}
}

func TestManagerSharedScopeCollapsesKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	cfg.Scope = ScopeShared
	m := NewManager(cfg)
	defer m.Stop()

	ws := t.TempDir()
	sb1, _ := m.Get(context.Background(), "session-1", ws)
	sb2, _ := m.Get(context.Background(), "session-2", ws)
	if sb1.ID() != sb2.ID() {
		t.Fatal("expected shared scope to collapse distinct keys onto one instance")
	}
}

func TestSandboxExecRunsHostCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	cfg.WorkspaceAccess = AccessRW
	cfg.TimeoutSec = 5
	m := NewManager(cfg)
	defer m.Stop()

	ws := t.TempDir()
	sb, err := m.Get(context.Background(), "session-1", ws)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	result, err := sb.Exec(context.Background(), []string{"echo", "hello"}, "/workspace")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d: stderr=%s", result.ExitCode, result.Stderr)
	}
	if result.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout: %q", result.Stdout)
	}
}

func TestSandboxExecNonZeroExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	cfg.TimeoutSec = 5
	m := NewManager(cfg)
	defer m.Stop()

	sb, err := m.Get(context.Background(), "session-1", t.TempDir())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	result, err := sb.Exec(context.Background(), []string{"sh", "-c", "exit 3"}, "/workspace")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestSandboxInvokeWithoutGuestModuleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	m := NewManager(cfg)
	defer m.Stop()

	sb, err := m.Get(context.Background(), "session-1", t.TempDir())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_, err = sb.Invoke(context.Background(), RunRequest{})
	if err != ErrNoGuestModule {
		t.Fatalf("expected ErrNoGuestModule, got %v", err)
	}
}

func TestFsBridgeReadFileWithinRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	registerRoot("sbx-1", root)
	defer unregisterRoot("sbx-1")

	b := NewFsBridge("sbx-1", "/workspace")
	data, err := b.ReadFile(context.Background(), "/workspace/hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if data != "hi" {
		t.Fatalf("unexpected contents: %q", data)
	}
}

func TestFsBridgeRejectsEscape(t *testing.T) {
	root := t.TempDir()
	registerRoot("sbx-2", root)
	defer unregisterRoot("sbx-2")

	b := NewFsBridge("sbx-2", "/workspace")
	if _, err := b.ReadFile(context.Background(), "/workspace/../../etc/passwd"); err == nil {
		t.Fatal("expected path escape to be rejected")
	}
}

func TestFsBridgeUnregisteredSandboxErrors(t *testing.T) {
	b := NewFsBridge("does-not-exist", "/workspace")
	if _, err := b.ReadFile(context.Background(), "/workspace/a.txt"); err == nil {
		t.Fatal("expected error for unregistered sandbox id")
	}
}

func TestLimitedBufferTruncates(t *testing.T) {
	var buf limitedBuffer
	buf.limit = 4
	buf.Write([]byte("abcdefgh"))
	if buf.String() != "abcd" {
		t.Fatalf("expected truncation to 4 bytes, got %q", buf.String())
	}
}

func TestManagerReleaseAllClearsInstances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	m := NewManager(cfg)
	defer m.Stop()

	sb1, _ := m.Get(context.Background(), "session-1", t.TempDir())
	m.ReleaseAll(context.Background())

	sb2, _ := m.Get(context.Background(), "session-1", t.TempDir())
	if sb1.ID() == sb2.ID() {
		t.Fatal("expected a fresh instance after ReleaseAll")
	}
}
