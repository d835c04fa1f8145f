package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openfang-project/openfang/internal/kernelerr"
)

// Envelope is the dispatch contract's wire shape: exactly one of Ok or
// Error is populated, matching the original's {"ok": ...}/{"error": ...}
// JSON shape.
type Envelope struct {
	Ok    interface{} `json:"ok,omitempty"`
	Error string      `json:"error,omitempty"`
}

func ok(v interface{}) Envelope    { return Envelope{Ok: v} }
func errf(format string, a ...interface{}) Envelope {
	return Envelope{Error: fmt.Sprintf(format, a...)}
}

// Dispatch routes a single host call to its handler. method names and
// the capability-check/defense ordering per method mirror the original
// host_functions.rs exactly: fs_* check capability on the raw path
// before running the path-traversal defense; net_fetch runs the SSRF
// defense before the capability check.
func Dispatch(ctx context.Context, state GuestState, method string, params json.RawMessage) Envelope {
	slog.Debug("capability dispatch", "method", method, "agent_id", state.AgentID)
	switch method {
	case "time_now":
		return hostTimeNow()
	case "fs_read":
		return hostFSRead(state, params)
	case "fs_write":
		return hostFSWrite(state, params)
	case "fs_list":
		return hostFSList(state, params)
	case "net_fetch":
		return hostNetFetch(ctx, state, params)
	case "shell_exec":
		return hostShellExec(state, params)
	case "env_read":
		return hostEnvRead(state, params)
	case "kv_get":
		return hostKVGet(ctx, state, params)
	case "kv_set":
		return hostKVSet(ctx, state, params)
	case "agent_send":
		return hostAgentSend(ctx, state, params)
	case "agent_spawn":
		return hostAgentSpawn(ctx, state, params)
	default:
		return errf("unknown host method: %s", method)
	}
}

func checkCapability(state GuestState, required Capability) (Envelope, bool) {
	if state.Capabilities.Allows(required) {
		return Envelope{}, true
	}
	denyErr := kernelerr.Newf(kernelerr.SecurityBlocked, "capability denied: %s", required)
	slog.Warn("capability dispatch blocked", "agent_id", state.AgentID, "error", denyErr)
	return errf("capability denied: %s", required), false
}

func decodeParams(raw json.RawMessage) map[string]interface{} {
	var m map[string]interface{}
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

func stringParam(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// --- time_now: always allowed ---

func hostTimeNow() Envelope {
	return ok(time.Now().Unix())
}

// --- filesystem ---

func hostFSRead(state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	path, present := stringParam(m, "path")
	if !present {
		return errf("missing 'path' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: FileRead, Target: path}); !allowed {
		return e
	}
	canonical, err := safeResolvePath(path)
	if err != nil {
		return errf("%s", err.Error())
	}
	content, err := os.ReadFile(canonical)
	if err != nil {
		return errf("fs_read failed: %s", err.Error())
	}
	return ok(string(content))
}

func hostFSWrite(state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	path, present := stringParam(m, "path")
	if !present {
		return errf("missing 'path' parameter")
	}
	content, present := stringParam(m, "content")
	if !present {
		return errf("missing 'content' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: FileWrite, Target: path}); !allowed {
		return e
	}
	writePath, err := safeResolveParent(path)
	if err != nil {
		return errf("%s", err.Error())
	}
	if err := os.WriteFile(writePath, []byte(content), 0o644); err != nil {
		return errf("fs_write failed: %s", err.Error())
	}
	return ok(true)
}

func hostFSList(state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	path, present := stringParam(m, "path")
	if !present {
		return errf("missing 'path' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: FileRead, Target: path}); !allowed {
		return e
	}
	canonical, err := safeResolvePath(path)
	if err != nil {
		return errf("%s", err.Error())
	}
	entries, err := os.ReadDir(canonical)
	if err != nil {
		return errf("fs_list failed: %s", err.Error())
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return ok(names)
}

// --- network ---

func hostNetFetch(ctx context.Context, state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	url, present := stringParam(m, "url")
	if !present {
		return errf("missing 'url' parameter")
	}
	method, _ := stringParam(m, "method")
	if method == "" {
		method = "GET"
	}
	body, _ := stringParam(m, "body")

	if err := isSSRFTarget(ctx, url); err != nil {
		blocked := kernelerr.New(kernelerr.SecurityBlocked, err)
		slog.Warn("capability dispatch blocked", "agent_id", state.AgentID, "error", blocked)
		return errf("%s", err.Error())
	}

	host := extractHostFromURL(url)
	if e, allowed := checkCapability(state, Capability{Kind: NetConnect, Target: host}); !allowed {
		return e
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, strings.NewReader(body))
	if err != nil {
		return errf("request failed: %s", err.Error())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errf("request failed: %s", err.Error())
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errf("failed to read response: %s", err.Error())
	}
	return ok(map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(respBody),
	})
}

// --- shell ---

func hostShellExec(state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	command, present := stringParam(m, "command")
	if !present {
		return errf("missing 'command' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: ShellExec, Target: command}); !allowed {
		return e
	}

	var args []string
	if rawArgs, ok := m["args"].([]interface{}); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	// exec.Command never invokes a shell — argv is passed directly to
	// the process, immune to shell string injection.
	cmd := exec.Command(command, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return errf("shell_exec failed: %s", runErr.Error())
		}
	}
	return ok(map[string]interface{}{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	})
}

// --- environment ---

func hostEnvRead(state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	name, present := stringParam(m, "name")
	if !present {
		return errf("missing 'name' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: EnvRead, Target: name}); !allowed {
		return e
	}
	val, present := os.LookupEnv(name)
	if !present {
		return ok(nil)
	}
	return ok(val)
}

// --- memory kv (delegates to kernel handle) ---

func hostKVGet(ctx context.Context, state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	key, present := stringParam(m, "key")
	if !present {
		return errf("missing 'key' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: MemoryRead, Target: key}); !allowed {
		return e
	}
	if state.Kernel == nil {
		return errf("no kernel handle available")
	}
	val, found, err := state.Kernel.MemoryRecall(ctx, key)
	if err != nil {
		return errf("%s", err.Error())
	}
	if !found {
		return ok(nil)
	}
	return ok(val)
}

func hostKVSet(ctx context.Context, state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	key, present := stringParam(m, "key")
	if !present {
		return errf("missing 'key' parameter")
	}
	if _, present := m["value"]; !present {
		return errf("missing 'value' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: MemoryWrite, Target: key}); !allowed {
		return e
	}
	if state.Kernel == nil {
		return errf("no kernel handle available")
	}
	valueBytes, _ := json.Marshal(m["value"])
	if err := state.Kernel.MemoryStore(ctx, key, string(valueBytes)); err != nil {
		return errf("%s", err.Error())
	}
	return ok(true)
}

// --- agent interaction (delegates to kernel handle) ---

func hostAgentSend(ctx context.Context, state GuestState, raw json.RawMessage) Envelope {
	m := decodeParams(raw)
	target, present := stringParam(m, "target")
	if !present {
		return errf("missing 'target' parameter")
	}
	message, present := stringParam(m, "message")
	if !present {
		return errf("missing 'message' parameter")
	}
	if e, allowed := checkCapability(state, Capability{Kind: AgentMessage, Target: target}); !allowed {
		return e
	}
	if state.Kernel == nil {
		return errf("no kernel handle available")
	}
	resp, err := state.Kernel.SendToAgent(ctx, target, message)
	if err != nil {
		return errf("%s", err.Error())
	}
	return ok(resp)
}

func hostAgentSpawn(ctx context.Context, state GuestState, raw json.RawMessage) Envelope {
	if e, allowed := checkCapability(state, Capability{Kind: AgentSpawn}); !allowed {
		return e
	}
	m := decodeParams(raw)
	manifest, present := stringParam(m, "manifest")
	if !present {
		return errf("missing 'manifest' parameter")
	}
	if state.Kernel == nil {
		return errf("no kernel handle available")
	}
	// Capability-inheritance (child <= parent) is enforced inside
	// SpawnAgentChecked, which receives the caller's own capability set.
	id, name, err := state.Kernel.SpawnAgentChecked(ctx, manifest, state.AgentID, state.Capabilities)
	if err != nil {
		return errf("%s", err.Error())
	}
	return ok(map[string]interface{}{"id": id, "name": name})
}
