package capability

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
)

func params(t *testing.T, m map[string]interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func TestTimeNowAlwaysAllowed(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "time_now", nil)
	if result.Error != "" {
		t.Fatalf("expected ok, got error: %s", result.Error)
	}
}

func TestFSReadDeniedNoCapability(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "fs_read", params(t, map[string]interface{}{"path": "/etc/passwd"}))
	if !strings.Contains(result.Error, "denied") {
		t.Fatalf("expected capability denial, got: %+v", result)
	}
}

func TestFSWriteDeniedNoCapability(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "fs_write", params(t, map[string]interface{}{"path": "/tmp/test", "content": "hello"}))
	if !strings.Contains(result.Error, "denied") {
		t.Fatalf("expected capability denial, got: %+v", result)
	}
}

func TestShellExecDenied(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "shell_exec", params(t, map[string]interface{}{"command": "ls"}))
	if !strings.Contains(result.Error, "denied") {
		t.Fatalf("expected capability denial, got: %+v", result)
	}
}

func TestEnvReadDenied(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "env_read", params(t, map[string]interface{}{"name": "HOME"}))
	if !strings.Contains(result.Error, "denied") {
		t.Fatalf("expected capability denial, got: %+v", result)
	}
}

func TestEnvReadGranted(t *testing.T) {
	state := GuestState{Capabilities: Set{{Kind: EnvRead, Target: "PATH"}}}
	result := Dispatch(context.Background(), state, "env_read", params(t, map[string]interface{}{"name": "PATH"}))
	if result.Error != "" {
		t.Fatalf("expected ok, got error: %s", result.Error)
	}
}

func TestKVGetNoKernel(t *testing.T) {
	state := GuestState{Capabilities: Set{{Kind: MemoryRead, Target: "*"}}}
	result := Dispatch(context.Background(), state, "kv_get", params(t, map[string]interface{}{"key": "test"}))
	if !strings.Contains(result.Error, "kernel") {
		t.Fatalf("expected kernel-handle error, got: %+v", result)
	}
}

func TestAgentSendDenied(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "agent_send", params(t, map[string]interface{}{"target": "some-agent", "message": "hello"}))
	if !strings.Contains(result.Error, "denied") {
		t.Fatalf("expected capability denial, got: %+v", result)
	}
}

func TestAgentSpawnDenied(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "agent_spawn", params(t, map[string]interface{}{"manifest": "name = 'test'"}))
	if !strings.Contains(result.Error, "denied") {
		t.Fatalf("expected capability denial, got: %+v", result)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	result := Dispatch(context.Background(), GuestState{}, "bogus_method", params(t, map[string]interface{}{}))
	if !strings.Contains(result.Error, "unknown") {
		t.Fatalf("expected unknown-method error, got: %+v", result)
	}
}

func TestMissingParams(t *testing.T) {
	state := GuestState{Capabilities: Set{{Kind: FileRead, Target: "*"}}}
	result := Dispatch(context.Background(), state, "fs_read", params(t, map[string]interface{}{}))
	if !strings.Contains(result.Error, "missing") {
		t.Fatalf("expected missing-parameter error, got: %+v", result)
	}
}

func TestSafeResolvePathTraversal(t *testing.T) {
	cases := []string{"../etc/passwd", "/tmp/../../etc/passwd", "foo/../bar"}
	for _, c := range cases {
		if _, err := safeResolvePath(c); err == nil {
			t.Fatalf("expected traversal rejection for %q", c)
		}
	}
}

func TestSafeResolveParentTraversal(t *testing.T) {
	cases := []string{"../malicious.txt", "/tmp/../../etc/shadow"}
	for _, c := range cases {
		if _, err := safeResolveParent(c); err == nil {
			t.Fatalf("expected traversal rejection for %q", c)
		}
	}
}

func TestSSRFPrivateIPsBlocked(t *testing.T) {
	cases := []string{
		"http://127.0.0.1:8080/secret",
		"http://localhost:3000/api",
		"http://169.254.169.254/metadata",
		"http://metadata.google.internal/v1/instance",
	}
	for _, c := range cases {
		if err := isSSRFTarget(context.Background(), c); err == nil {
			t.Fatalf("expected SSRF rejection for %q", c)
		}
	}
}

func TestSSRFSchemeValidation(t *testing.T) {
	cases := []string{"file:///etc/passwd", "gopher://evil.com", "ftp://example.com"}
	for _, c := range cases {
		if err := isSSRFTarget(context.Background(), c); err == nil {
			t.Fatalf("expected scheme rejection for %q", c)
		}
	}
}

func TestIsPrivateIPMatchesRanges(t *testing.T) {
	privateIPs := []string{"10.0.0.1", "172.16.0.1", "192.168.1.1", "169.254.169.254"}
	for _, s := range privateIPs {
		ip := net.ParseIP(s)
		if ip == nil {
			t.Fatalf("failed to parse %s", s)
		}
		if !isPrivateIP(ip) {
			t.Fatalf("expected %s to be private", s)
		}
	}
	publicIPs := []string{"8.8.8.8", "1.1.1.1"}
	for _, s := range publicIPs {
		ip := net.ParseIP(s)
		if ip == nil {
			t.Fatalf("failed to parse %s", s)
		}
		if isPrivateIP(ip) {
			t.Fatalf("expected %s to be public", s)
		}
	}
}

func TestExtractHostFromURL(t *testing.T) {
	cases := map[string]string{
		"https://api.openai.com/v1/chat": "api.openai.com:443",
		"http://localhost:8080/api":      "localhost:8080",
		"http://example.com":             "example.com:80",
	}
	for url, want := range cases {
		if got := extractHostFromURL(url); got != want {
			t.Fatalf("extractHostFromURL(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestCapabilityMonotonicity(t *testing.T) {
	parent := Set{{Kind: FileRead, Target: "/workspace/*"}}
	child := Set{{Kind: FileRead, Target: "/workspace/sub/*"}}
	if !child.IsSubsetOf(parent) {
		t.Fatalf("expected child to be a subset of parent")
	}
	escalated := Set{{Kind: FileRead, Target: "/etc/*"}}
	if escalated.IsSubsetOf(parent) {
		t.Fatalf("expected escalated capability to be rejected as a subset")
	}
}
