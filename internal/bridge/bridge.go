// Package bridge routes normalized channel messages to agents, applying
// DM/group policy, rate limiting, slash commands, broadcast fan-out, RBAC,
// auto-reply, and outcome recording in front of the channel adapters in
// internal/channels.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openfang-project/openfang/internal/agent"
	"github.com/openfang-project/openfang/internal/bus"
	"github.com/openfang-project/openfang/internal/capability"
	"github.com/openfang-project/openfang/internal/channels"
	"github.com/openfang-project/openfang/internal/scheduler"
	"github.com/openfang-project/openfang/internal/sessions"
)

// OutputFormat controls how a reply is rendered by the destination channel.
type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown"
	FormatPlain    OutputFormat = "plain"
	FormatHTML     OutputFormat = "html"
)

// DMPolicy controls whether and how the bridge lets a direct message
// through to agent invocation.
type DMPolicy string

const (
	DMRespond     DMPolicy = "respond"      // reply to any sender
	DMAllowedOnly DMPolicy = "allowed_only" // only senders on the channel's allow list
	DMIgnore      DMPolicy = "ignore"       // never respond to DMs on this channel
)

// GroupPolicy controls whether and how the bridge lets a group message
// through to agent invocation.
type GroupPolicy string

const (
	GroupAll          GroupPolicy = "all"           // respond to every group message
	GroupMentionOnly  GroupPolicy = "mention_only"  // only messages that @-mention or reply to the agent
	GroupCommandsOnly GroupPolicy = "commands_only" // only slash commands
	GroupIgnore       GroupPolicy = "ignore"         // never respond in groups on this channel
)

// Policy holds the per-channel-instance settings the dispatch pipeline
// evaluates before an agent ever sees a message.
type Policy struct {
	DMPolicy         DMPolicy
	GroupPolicy      GroupPolicy
	RateLimitPerMin  int // messages/minute; 0 = unlimited
	Formatter        OutputFormat
	ThreadingEnabled bool
}

// DefaultPolicy is the permissive baseline: respond to every DM, respond
// to every group message, no rate limit, markdown output, no threading.
func DefaultPolicy() Policy {
	return Policy{
		DMPolicy:    DMRespond,
		GroupPolicy: GroupAll,
		Formatter:   FormatMarkdown,
	}
}

// Authorizer decides whether senderID may invoke agentID, consulting the
// capability grants configured for that agent (the same deny-by-default
// model, applied at the channel boundary rather than inside WASM).
type Authorizer interface {
	Authorize(ctx context.Context, agentID, senderID string, required capability.Capability) bool
}

// AgentResolver maps an inbound message to the agent that should handle
// it. Returning ("", nil) means no agent is configured for this message
// and it should be dropped.
type AgentResolver interface {
	ResolveAgent(ctx context.Context, msg bus.InboundMessage) (agentID string, err error)
}

// BroadcastResolver returns the set of agent IDs senderID's broadcast
// group fans a message out to, in addition to (or instead of) the
// normally resolved agent. A nil/empty result means no broadcast group.
type BroadcastResolver interface {
	ResolveBroadcastGroup(ctx context.Context, senderID string) []string
}

// TypingNotifier lets a channel show a "typing"/"thinking" indicator
// while an agent turn runs. Channels that don't support one no-op.
type TypingNotifier interface {
	StartTyping(ctx context.Context, channel, chatID string)
}

// Recorder records the outcome of a dispatched message, for auditing and
// metrics. Implementations may be no-ops.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome)
}

// Outcome summarizes what happened to one inbound message.
type Outcome struct {
	Message   bus.InboundMessage
	AgentID   string
	Handled   bool   // true if a slash command, broadcast fan-out or auto-reply short-circuited before the agent ran
	Stage     string // pipeline stage that produced the final result: "policy", "rate_limit", "command", "broadcast", "rbac", "auto_reply", "agent"
	Reply     string
	Err       error
	Duration  time.Duration
	StartedAt time.Time
}

// CommandHandler implements one slash command. args is the text after the
// command name (trimmed). Returning handled=false falls through to the
// agent, matching an unknown-subcommand within a known command name.
type CommandHandler func(ctx context.Context, b *Bridge, msg bus.InboundMessage, args string) (reply string, handled bool, err error)

// Config wires the Bridge's collaborators.
type Config struct {
	Policies      func(channel string) Policy // per-channel policy lookup; nil = DefaultPolicy() for all
	Resolver      AgentResolver
	Broadcast     BroadcastResolver // optional
	Authorizer    Authorizer        // optional; nil = allow all
	Scheduler     *scheduler.Scheduler
	Lane          scheduler.Lane
	AutoReply     func(ctx context.Context, msg bus.InboundMessage) (reply string, ok bool) // optional
	Recorder      Recorder                                                                 // optional
	RequiredPerm  capability.Capability                                                    // capability required to invoke any agent via the bridge
}

// Bridge is the single entry point channel adapters push inbound
// messages through, and the single place outbound replies flow back out.
type Bridge struct {
	channels   map[string]channels.Channel
	policies   func(channel string) Policy
	resolver   AgentResolver
	broadcast  BroadcastResolver
	authorizer Authorizer
	sched      *scheduler.Scheduler
	lane       scheduler.Lane
	autoReply  func(ctx context.Context, msg bus.InboundMessage) (string, bool)
	recorder   Recorder
	reqPerm    capability.Capability
	limiter    *userRateLimiter
	commands   map[string]CommandHandler
}

// New constructs a Bridge. A nil cfg.Policies falls back to DefaultPolicy
// for every channel.
func New(cfg Config) *Bridge {
	policies := cfg.Policies
	if policies == nil {
		policies = func(string) Policy { return DefaultPolicy() }
	}
	lane := cfg.Lane
	if lane == "" {
		lane = scheduler.LaneMain
	}
	b := &Bridge{
		channels:   make(map[string]channels.Channel),
		policies:   policies,
		resolver:   cfg.Resolver,
		broadcast:  cfg.Broadcast,
		authorizer: cfg.Authorizer,
		sched:      cfg.Scheduler,
		lane:       lane,
		autoReply:  cfg.AutoReply,
		recorder:   cfg.Recorder,
		reqPerm:    cfg.RequiredPerm,
		limiter:    newUserRateLimiter(),
		commands:   make(map[string]CommandHandler),
	}
	registerBuiltinCommands(b)
	return b
}

// RegisterChannel attaches a running channel adapter so the Bridge can
// deliver outbound replies and typing indicators to it.
func (b *Bridge) RegisterChannel(ch channels.Channel) {
	b.channels[ch.Name()] = ch
}

// Channel returns the registered adapter for name, if any.
func (b *Bridge) Channel(name string) (channels.Channel, bool) {
	ch, ok := b.channels[name]
	return ch, ok
}

// Handle runs one inbound message through the full dispatch pipeline:
// group/DM filter -> rate limit -> slash commands -> broadcast routing ->
// agent resolution -> RBAC -> auto-reply -> typing indicator -> agent
// invocation -> delivery -> outcome recording.
func (b *Bridge) Handle(ctx context.Context, msg bus.InboundMessage) Outcome {
	start := time.Now()
	outcome := Outcome{Message: msg, StartedAt: start}

	finish := func(stage, reply string, handled bool, err error) Outcome {
		outcome.Stage = stage
		outcome.Reply = reply
		outcome.Handled = handled
		outcome.Err = err
		outcome.Duration = time.Since(start)
		if b.recorder != nil {
			b.recorder.RecordOutcome(ctx, outcome)
		}
		if reply != "" {
			b.deliver(ctx, msg, reply)
		}
		return outcome
	}

	policy := b.policies(msg.Channel)
	peerKind := msg.PeerKind
	if peerKind == "" {
		peerKind = "direct"
	}
	if !b.checkPolicy(policy, msg) {
		slog.Debug("bridge: message rejected by policy", "channel", msg.Channel, "peer_kind", peerKind)
		return finish("policy", "", false, nil)
	}

	if policy.RateLimitPerMin > 0 {
		key := msg.Channel + ":" + msg.SenderID
		if !b.limiter.Allow(key, policy.RateLimitPerMin) {
			slog.Debug("bridge: rate limited", "channel", msg.Channel, "sender", msg.SenderID)
			return finish("rate_limit", "", false, nil)
		}
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
		if reply, handled, err := b.dispatchCommand(ctx, msg); handled {
			return finish("command", reply, true, err)
		}
	}

	if b.broadcast != nil {
		if targets := b.broadcast.ResolveBroadcastGroup(ctx, msg.SenderID); len(targets) > 0 {
			b.fanOut(ctx, msg, targets)
			return finish("broadcast", "", true, nil)
		}
	}

	if b.resolver == nil {
		return finish("agent", "", false, fmt.Errorf("bridge: no agent resolver configured"))
	}
	agentID, err := b.resolver.ResolveAgent(ctx, msg)
	if err != nil {
		return finish("agent", "", false, err)
	}
	if agentID == "" {
		slog.Debug("bridge: no agent resolved for message", "channel", msg.Channel, "chat", msg.ChatID)
		return finish("agent", "", false, nil)
	}
	outcome.AgentID = agentID

	if b.authorizer != nil && !b.authorizer.Authorize(ctx, agentID, msg.SenderID, b.reqPerm) {
		slog.Warn("bridge: message rejected by RBAC", "agent", agentID, "sender", msg.SenderID)
		return finish("rbac", "", false, nil)
	}

	if b.autoReply != nil {
		if reply, ok := b.autoReply(ctx, msg); ok {
			return finish("auto_reply", reply, true, nil)
		}
	}

	if tn, ok := b.channels[msg.Channel].(TypingNotifier); ok {
		tn.StartTyping(ctx, msg.Channel, msg.ChatID)
	}

	reply, err := b.invokeAgent(ctx, agentID, msg)
	if err != nil {
		return finish("agent", "", false, err)
	}
	return finish("agent", reply, false, nil)
}

func (b *Bridge) invokeAgent(ctx context.Context, agentID string, msg bus.InboundMessage) (string, error) {
	if b.sched == nil {
		return "", fmt.Errorf("bridge: no scheduler configured")
	}
	peerKind := sessions.PeerDirect
	if msg.PeerKind == string(sessions.PeerGroup) {
		peerKind = sessions.PeerGroup
	}
	sessionKey := sessions.BuildSessionKey(agentID, msg.Channel, peerKind, msg.ChatID)
	req := agent.RunRequest{
		SessionKey:   sessionKey,
		Message:      msg.Content,
		Media:        msg.Media,
		Channel:      msg.Channel,
		ChatID:       msg.ChatID,
		PeerKind:     msg.PeerKind,
		UserID:       msg.UserID,
		SenderID:     msg.SenderID,
		HistoryLimit: msg.HistoryLimit,
	}
	outcomes := b.sched.Schedule(ctx, b.lane, req)
	select {
	case out := <-outcomes:
		if out.Err != nil {
			return "", out.Err
		}
		if out.Result == nil {
			return "", fmt.Errorf("bridge: empty result from agent %s", agentID)
		}
		return out.Result.Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Bridge) fanOut(ctx context.Context, msg bus.InboundMessage, agentIDs []string) {
	for _, agentID := range agentIDs {
		if b.authorizer != nil && !b.authorizer.Authorize(ctx, agentID, msg.SenderID, b.reqPerm) {
			continue
		}
		reply, err := b.invokeAgent(ctx, agentID, msg)
		if err != nil {
			slog.Error("bridge: broadcast fan-out failed", "agent", agentID, "error", err)
			continue
		}
		b.deliver(ctx, msg, reply)
	}
}

func (b *Bridge) deliver(ctx context.Context, msg bus.InboundMessage, reply string) {
	if reply == "" {
		return
	}
	if err := b.Deliver(ctx, msg.Channel, msg.ChatID, reply); err != nil {
		slog.Error("bridge: delivery failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
	}
}

// Deliver sends content to chatID on channel through whichever adapter is
// registered for it. Exported so out-of-band callers (the cron
// dispatcher's DeliveryChannel/DeliveryLastChannel routing) can reuse the
// same registered channels a Bridge already holds, instead of each
// collaborator keeping its own channel map.
func (b *Bridge) Deliver(ctx context.Context, channel, chatID, content string) error {
	ch, ok := b.channels[channel]
	if !ok {
		return fmt.Errorf("bridge: no registered channel %q", channel)
	}
	return ch.Send(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
}

// checkPolicy enforces the bridge's DM/group policy. AllowedOnly consults
// the registered channel's allow list; MentionOnly and CommandsOnly gate
// on whether the inbound message was flagged as a mention or is a slash
// command, so a policy like "commands_only" never silently falls through
// to "allow everything".
func (b *Bridge) checkPolicy(policy Policy, msg bus.InboundMessage) bool {
	isCommand := strings.HasPrefix(strings.TrimSpace(msg.Content), "/")

	if msg.PeerKind == "group" {
		switch policy.GroupPolicy {
		case GroupIgnore:
			return false
		case GroupCommandsOnly:
			return isCommand
		case GroupMentionOnly:
			return msg.Mentioned || isCommand
		default: // GroupAll, or unset
			return true
		}
	}

	switch policy.DMPolicy {
	case DMIgnore:
		return false
	case DMAllowedOnly:
		ch, ok := b.channels[msg.Channel]
		return ok && ch.IsAllowed(msg.SenderID)
	default: // DMRespond, or unset
		return true
	}
}
