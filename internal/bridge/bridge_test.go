package bridge

import (
	"context"
	"testing"

	"github.com/openfang-project/openfang/internal/agent"
	"github.com/openfang-project/openfang/internal/bus"
	"github.com/openfang-project/openfang/internal/capability"
	"github.com/openfang-project/openfang/internal/scheduler"
)

type fakeChannel struct {
	name    string
	sent    []bus.OutboundMessage
	allowed map[string]bool // nil = allow everyone
}

func (f *fakeChannel) Name() string    { return f.name }
func (f *fakeChannel) Start(ctx context.Context) error { return nil }
func (f *fakeChannel) Stop(ctx context.Context) error  { return nil }
func (f *fakeChannel) IsRunning() bool                 { return true }
func (f *fakeChannel) IsAllowed(senderID string) bool {
	if f.allowed == nil {
		return true
	}
	return f.allowed[senderID]
}
func (f *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fixedResolver struct{ agentID string }

func (r fixedResolver) ResolveAgent(ctx context.Context, msg bus.InboundMessage) (string, error) {
	return r.agentID, nil
}

type denyAuthorizer struct{}

func (denyAuthorizer) Authorize(ctx context.Context, agentID, senderID string, required capability.Capability) bool {
	return false
}

func newTestScheduler(run scheduler.RunFunc) *scheduler.Scheduler {
	return scheduler.NewScheduler(scheduler.DefaultLanes(), scheduler.DefaultQueueConfig(), run)
}

func TestHandleGroupPolicyDisabledRejectsMessage(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	b := New(Config{
		Policies: func(string) Policy { return Policy{GroupPolicy: GroupIgnore, DMPolicy: DMRespond} },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			return &agent.RunResult{Content: "should not run"}, nil
		}),
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "group", Content: "hello",
	})
	if out.Stage != "policy" {
		t.Fatalf("expected policy stage rejection, got %q", out.Stage)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("expected no delivery, got %d", len(ch.sent))
	}
}

func TestHandleRateLimitBlocksBurst(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	b := New(Config{
		Policies: func(string) Policy { return Policy{DMPolicy: DMRespond, RateLimitPerMin: 1} },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			return &agent.RunResult{Content: "ok"}, nil
		}),
	})
	b.RegisterChannel(ch)

	msg := bus.InboundMessage{Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "direct", Content: "hi"}
	first := b.Handle(context.Background(), msg)
	if first.Stage != "agent" {
		t.Fatalf("expected first message to reach the agent, got stage %q err %v", first.Stage, first.Err)
	}
	second := b.Handle(context.Background(), msg)
	if second.Stage != "rate_limit" {
		t.Fatalf("expected second message to be rate limited, got %q", second.Stage)
	}
}

func TestHandleDMAllowedOnlyRejectsUnlistedSender(t *testing.T) {
	ch := &fakeChannel{name: "telegram", allowed: map[string]bool{"vip": true}}
	b := New(Config{
		Policies: func(string) Policy { return Policy{DMPolicy: DMAllowedOnly} },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			return &agent.RunResult{Content: "should not run"}, nil
		}),
	})
	b.RegisterChannel(ch)

	rejected := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "stranger", ChatID: "c1", PeerKind: "direct", Content: "hi",
	})
	if rejected.Stage != "policy" {
		t.Fatalf("expected unlisted sender to be rejected by policy, got %q", rejected.Stage)
	}

	allowed := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "vip", ChatID: "c1", PeerKind: "direct", Content: "hi",
	})
	if allowed.Stage != "agent" {
		t.Fatalf("expected allow-listed sender to reach the agent, got %q", allowed.Stage)
	}
}

func TestHandleGroupCommandsOnlyRejectsPlainMessage(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	b := New(Config{
		Policies: func(string) Policy { return Policy{GroupPolicy: GroupCommandsOnly} },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			return &agent.RunResult{Content: "should not run"}, nil
		}),
	})
	b.RegisterChannel(ch)

	plain := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "group", Content: "just chatting",
	})
	if plain.Stage != "policy" {
		t.Fatalf("expected plain group message to be rejected, got %q", plain.Stage)
	}

	cmd := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "group", Content: "/help",
	})
	if cmd.Stage != "command" {
		t.Fatalf("expected slash command through commands_only to reach dispatch, got %q", cmd.Stage)
	}
}

func TestHandleGroupMentionOnlyRequiresMentionOrCommand(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	b := New(Config{
		Policies: func(string) Policy { return Policy{GroupPolicy: GroupMentionOnly} },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			return &agent.RunResult{Content: "ok"}, nil
		}),
	})
	b.RegisterChannel(ch)

	unmentioned := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "group", Content: "background chatter",
	})
	if unmentioned.Stage != "policy" {
		t.Fatalf("expected unmentioned group message to be rejected, got %q", unmentioned.Stage)
	}

	mentioned := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "group", Content: "hey bot", Mentioned: true,
	})
	if mentioned.Stage != "agent" {
		t.Fatalf("expected mentioned group message to reach the agent, got %q", mentioned.Stage)
	}
}

func TestHandleUnknownSlashFallsThroughToAgent(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	invoked := false
	b := New(Config{
		Policies: func(string) Policy { return DefaultPolicy() },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			invoked = true
			return &agent.RunResult{Content: "agent reply: " + req.Message}, nil
		}),
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "direct", Content: "/explain this regex",
	})
	if !invoked {
		t.Fatalf("expected unrecognized slash command to fall through to the agent")
	}
	if out.Stage != "agent" {
		t.Fatalf("expected agent stage, got %q", out.Stage)
	}
}

func TestHandleKnownCommandShortCircuits(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	invoked := false
	b := New(Config{
		Policies: func(string) Policy { return DefaultPolicy() },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			invoked = true
			return &agent.RunResult{Content: "should not run"}, nil
		}),
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "direct", Content: "/help",
	})
	if invoked {
		t.Fatalf("expected /help to short-circuit before reaching the agent")
	}
	if !out.Handled || out.Stage != "command" {
		t.Fatalf("expected command stage, got handled=%v stage=%q", out.Handled, out.Stage)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected help reply to be delivered, got %d sends", len(ch.sent))
	}
}

func TestHandleUnwiredKnownCommandReportsGap(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	b := New(Config{
		Policies: func(string) Policy { return DefaultPolicy() },
		Resolver: fixedResolver{agentID: "a1"},
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "direct", Content: "/workflows",
	})
	if out.Stage != "command" || !out.Handled {
		t.Fatalf("expected command stage, got %q", out.Stage)
	}
	if out.Reply == "" {
		t.Fatalf("expected a reply reporting the unwired command")
	}
}

func TestHandleRBACDeniesUnauthorizedSender(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	invoked := false
	b := New(Config{
		Policies:   func(string) Policy { return DefaultPolicy() },
		Resolver:   fixedResolver{agentID: "a1"},
		Authorizer: denyAuthorizer{},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			invoked = true
			return &agent.RunResult{Content: "nope"}, nil
		}),
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "direct", Content: "hello there",
	})
	if invoked {
		t.Fatalf("expected RBAC denial to prevent agent invocation")
	}
	if out.Stage != "rbac" {
		t.Fatalf("expected rbac stage, got %q", out.Stage)
	}
}

func TestHandleAutoReplyShortCircuits(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	invoked := false
	b := New(Config{
		Policies: func(string) Policy { return DefaultPolicy() },
		Resolver: fixedResolver{agentID: "a1"},
		AutoReply: func(ctx context.Context, msg bus.InboundMessage) (string, bool) {
			return "I'm away right now.", true
		},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			invoked = true
			return &agent.RunResult{Content: "should not run"}, nil
		}),
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "direct", Content: "are you there?",
	})
	if invoked {
		t.Fatalf("expected auto-reply to short-circuit before reaching the agent")
	}
	if out.Stage != "auto_reply" || out.Reply != "I'm away right now." {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestHandleAgentInvocationDelivers(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	b := New(Config{
		Policies: func(string) Policy { return DefaultPolicy() },
		Resolver: fixedResolver{agentID: "a1"},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			return &agent.RunResult{Content: "echo: " + req.Message}, nil
		}),
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u1", ChatID: "c1", PeerKind: "direct", Content: "ping",
	})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Reply != "echo: ping" {
		t.Fatalf("unexpected reply: %q", out.Reply)
	}
	if len(ch.sent) != 1 || ch.sent[0].Content != "echo: ping" {
		t.Fatalf("expected delivery of agent reply, got %+v", ch.sent)
	}
}

type groupBroadcastResolver struct{ agentIDs []string }

func (g groupBroadcastResolver) ResolveBroadcastGroup(ctx context.Context, senderID string) []string {
	return g.agentIDs
}

func TestHandleBroadcastFansOutToEachAgent(t *testing.T) {
	ch := &fakeChannel{name: "telegram"}
	var invokedAgents []string
	b := New(Config{
		Policies:  func(string) Policy { return DefaultPolicy() },
		Resolver:  fixedResolver{agentID: "should-not-be-used"},
		Broadcast: groupBroadcastResolver{agentIDs: []string{"a1", "a2"}},
		Scheduler: newTestScheduler(func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
			invokedAgents = append(invokedAgents, req.SessionKey)
			return &agent.RunResult{Content: "reply from " + req.SessionKey}, nil
		}),
	})
	b.RegisterChannel(ch)

	out := b.Handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "broadcaster", ChatID: "c1", PeerKind: "direct", Content: "go team",
	})
	if out.Stage != "broadcast" {
		t.Fatalf("expected broadcast stage, got %q", out.Stage)
	}
	if len(invokedAgents) != 2 {
		t.Fatalf("expected 2 fanned-out agent invocations, got %d", len(invokedAgents))
	}
	if len(ch.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(ch.sent))
	}
}

func TestParseCommand(t *testing.T) {
	name, args := parseCommand("/workflow run nightly-report")
	if name != "workflow" || args != "run nightly-report" {
		t.Fatalf("unexpected parse: name=%q args=%q", name, args)
	}
	name, args = parseCommand("/help")
	if name != "help" || args != "" {
		t.Fatalf("unexpected parse: name=%q args=%q", name, args)
	}
}

func TestUserRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := newUserRateLimiter()
	for i := 0; i < 3; i++ {
		if !rl.Allow("k", 3) {
			t.Fatalf("expected message %d to be allowed", i)
		}
	}
	if rl.Allow("k", 3) {
		t.Fatalf("expected 4th message to be rate limited")
	}
}
