package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfang-project/openfang/internal/bus"
	"github.com/openfang-project/openfang/internal/sessions"
)

// commandNames is the fixed set of administrative slash commands the
// Bridge recognizes. A message beginning with "/" whose first token (after
// stripping the slash) is not in this set falls straight through to the
// agent as ordinary text — e.g. a user asking an agent to "/explain this
// regex" is never mistaken for an admin command.
var commandNames = map[string]bool{
	"agents": true, "agent": true, "new": true, "compact": true, "model": true,
	"stop": true, "usage": true, "think": true, "models": true, "providers": true,
	"skills": true, "hands": true, "workflows": true, "workflow": true,
	"triggers": true, "trigger": true, "schedules": true, "schedule": true,
	"approvals": true, "approve": true, "reject": true, "budget": true,
	"peers": true, "a2a": true, "help": true, "start": true, "status": true,
}

// RegisterCommand installs or replaces the handler for name, which must
// be one of the fixed administrative command names. Panics on an unknown
// name — the command set is closed.
func (b *Bridge) RegisterCommand(name string, handler CommandHandler) {
	if !commandNames[name] {
		panic(fmt.Sprintf("bridge: %q is not a recognized slash command", name))
	}
	b.commands[name] = handler
}

// parseCommand splits "/foo bar baz" into ("foo", "bar baz"). The leading
// slash is required by the caller (dispatchCommand only calls this after
// checking the prefix).
func parseCommand(content string) (name, args string) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "/")
	parts := strings.SplitN(trimmed, " ", 2)
	name = strings.ToLower(parts[0])
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}

// dispatchCommand handles a message already known to start with "/". It
// returns handled=false for anything outside the fixed command set so the
// caller can fall through to normal agent handling.
func (b *Bridge) dispatchCommand(ctx context.Context, msg bus.InboundMessage) (reply string, handled bool, err error) {
	name, args := parseCommand(msg.Content)
	if !commandNames[name] {
		return "", false, nil
	}

	if fn, ok := b.commands[name]; ok {
		reply, handled, err := fn(ctx, b, msg, args)
		return reply, handled, err
	}

	// Recognized but not wired to a backend in this Bridge instance —
	// still short-circuits (the agent never sees raw admin syntax), but
	// reports the gap rather than silently doing nothing.
	return fmt.Sprintf("`/%s` is not available on this agent.", name), true, nil
}

// registerBuiltinCommands installs the handlers the Bridge can satisfy
// with nothing beyond its own state: help text and session control.
// Commands whose backend lives in another module (cron, workflow,
// providers, peer, RBAC approvals) are left for the caller to register
// via RegisterCommand once those subsystems are wired in.
func registerBuiltinCommands(b *Bridge) {
	b.commands["help"] = cmdHelp
	b.commands["stop"] = cmdStop
	b.commands["status"] = cmdStatus
}

func cmdHelp(ctx context.Context, b *Bridge, msg bus.InboundMessage, args string) (string, bool, error) {
	names := make([]string, 0, len(commandNames))
	for n := range commandNames {
		names = append(names, n)
	}
	return "Available commands: /" + strings.Join(names, ", /"), true, nil
}

func cmdStop(ctx context.Context, b *Bridge, msg bus.InboundMessage, args string) (string, bool, error) {
	if b.sched == nil {
		return "No scheduler configured.", true, nil
	}
	agentID := args
	if agentID == "" && b.resolver != nil {
		resolved, err := b.resolver.ResolveAgent(ctx, msg)
		if err != nil {
			return "", true, err
		}
		agentID = resolved
	}
	if agentID == "" {
		return "No agent to stop for this chat.", true, nil
	}
	peerKind := sessions.PeerDirect
	if msg.PeerKind == string(sessions.PeerGroup) {
		peerKind = sessions.PeerGroup
	}
	sessionKey := sessions.BuildSessionKey(agentID, msg.Channel, peerKind, msg.ChatID)
	if b.sched.CancelOneSession(sessionKey) {
		return "Stopped the current run.", true, nil
	}
	return "Nothing to stop.", true, nil
}

func cmdStatus(ctx context.Context, b *Bridge, msg bus.InboundMessage, args string) (string, bool, error) {
	return fmt.Sprintf("channel=%s chat=%s peer_kind=%s", msg.Channel, msg.ChatID, msg.PeerKind), true, nil
}
