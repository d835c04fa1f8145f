// Package kernel implements the agent registry behind spawn_agent,
// send_message, send_message_streaming, reset_session, compact_session,
// set_model, stop_run, session_usage, and set_thinking: the kernel-handle
// operations the scheduler and turn loop expose above the per-call
// capability dispatch in internal/capability.
package kernel

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/openfang-project/openfang/internal/capability"
)

// Manifest is the parsed form of the manifest_toml spawn_agent takes:
// enough to construct a new agent.Loop and register its granted
// capability set.
//
//	name = "scout"
//	provider = "anthropic"
//	model = "claude-sonnet-4-5-20250929"
//	system_prompt = "You triage incoming bug reports."
//
//	[[capabilities]]
//	kind = "file_read"
//	target = "/workspace/reports/**"
//
//	[[capabilities]]
//	kind = "net_connect"
//	target = "api.github.com"
type Manifest struct {
	Name         string             `toml:"name"`
	Provider     string             `toml:"provider"`
	Model        string             `toml:"model"`
	SystemPrompt string             `toml:"system_prompt"`
	Workspace    string             `toml:"workspace"`
	Capabilities []ManifestCapability `toml:"capabilities"`
}

// ManifestCapability is one [[capabilities]] table entry.
type ManifestCapability struct {
	Kind   string `toml:"kind"`
	Target string `toml:"target"`
}

// ParseManifest decodes a manifest_toml payload. A manifest with no name
// is rejected: every spawned agent needs a human-readable identity for
// AgentMessage targets and delegate listings.
func ParseManifest(src string) (Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(src, &m); err != nil {
		return Manifest{}, fmt.Errorf("kernel: invalid manifest: %w", err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return Manifest{}, fmt.Errorf("kernel: manifest missing required 'name'")
	}
	return m, nil
}

// CapabilitySet converts the manifest's declared capabilities into the
// Set spawn_agent checks against the parent's grant.
func (m Manifest) CapabilitySet() capability.Set {
	set := make(capability.Set, 0, len(m.Capabilities))
	for _, c := range m.Capabilities {
		set = append(set, capability.Capability{Kind: capability.Kind(c.Kind), Target: c.Target})
	}
	return set
}
