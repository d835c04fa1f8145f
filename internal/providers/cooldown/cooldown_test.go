package cooldown

import (
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		BaseCooldownSecs:        1,
		MaxCooldownSecs:         10,
		BackoffMultiplier:       2.0,
		MaxExponent:             3,
		BillingBaseCooldownSecs: 5,
		BillingMaxCooldownSecs:  20,
		BillingMultiplier:       2.0,
		FailureWindowSecs:       60,
		ProbeEnabled:            true,
		ProbeIntervalSecs:       0, // instant probes for testing
	}
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	cases := map[string]bool{
		"base":         c.BaseCooldownSecs == 60,
		"max":          c.MaxCooldownSecs == 3600,
		"mult":         c.BackoffMultiplier == 5.0,
		"exp":          c.MaxExponent == 3,
		"billing_base": c.BillingBaseCooldownSecs == 18_000,
		"billing_max":  c.BillingMaxCooldownSecs == 86_400,
		"billing_mult": c.BillingMultiplier == 2.0,
		"window":       c.FailureWindowSecs == 86_400,
		"probe":        c.ProbeEnabled,
		"probe_int":    c.ProbeIntervalSecs == 30,
	}
	for name, ok := range cases {
		if !ok {
			t.Fatalf("default config field %q did not match expectation: %+v", name, c)
		}
	}
}

func TestNewProviderAllows(t *testing.T) {
	cb := New(fastConfig())
	if v := cb.Check("openai"); v.Kind != VerdictAllow {
		t.Fatalf("expected Allow, got %+v", v)
	}
	if s := cb.GetState("openai"); s != Closed {
		t.Fatalf("expected Closed, got %v", s)
	}
}

func TestSingleFailureOpensCircuit(t *testing.T) {
	cb := New(fastConfig())
	cb.RecordFailure("openai", false)
	if s := cb.GetState("openai"); s != Open {
		t.Fatalf("expected Open, got %v", s)
	}
}

func TestCooldownDurationEscalates(t *testing.T) {
	cfg := fastConfig()
	cases := []struct {
		errorCount uint32
		wantSecs   float64
	}{
		{1, 1}, // exponent=0 -> 1*2^0 = 1s
		{2, 2}, // exponent=1 -> 1*2^1 = 2s
		{3, 4}, // exponent=2 -> 1*2^2 = 4s
		{4, 8}, // exponent capped at 3 -> 1*2^3 = 8s
		{100, 8},
	}
	for _, c := range cases {
		d := calculateCooldown(cfg, c.errorCount, false)
		if d.Seconds() != c.wantSecs {
			t.Fatalf("errorCount=%d: got %v seconds, want %v", c.errorCount, d.Seconds(), c.wantSecs)
		}
	}
}

func TestBillingLongerCooldown(t *testing.T) {
	cfg := fastConfig()
	general := calculateCooldown(cfg, 1, false)
	billing := calculateCooldown(cfg, 1, true)
	if billing <= general {
		t.Fatalf("expected billing cooldown to exceed general, got billing=%v general=%v", billing, general)
	}
	if billing.Seconds() != 5 {
		t.Fatalf("expected billing base cooldown of 5s, got %v", billing.Seconds())
	}
}

func TestBillingMaxCap(t *testing.T) {
	cfg := fastConfig()
	d := calculateCooldown(cfg, 100, true)
	if d.Seconds() != 20 {
		t.Fatalf("expected billing cooldown capped at 20s, got %v", d.Seconds())
	}
}

func TestSuccessResetsCircuit(t *testing.T) {
	cb := New(fastConfig())
	cb.RecordFailure("openai", false)
	if s := cb.GetState("openai"); s != Open {
		t.Fatalf("expected Open, got %v", s)
	}
	cb.RecordSuccess("openai")
	if s := cb.GetState("openai"); s != Closed {
		t.Fatalf("expected Closed, got %v", s)
	}
	if v := cb.Check("openai"); v.Kind != VerdictAllow {
		t.Fatalf("expected Allow, got %+v", v)
	}
}

func TestProbeAllowedAfterCooldown(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseCooldownSecs = 0 // instant cooldown for testing
	cb := New(cfg)

	cb.RecordFailure("openai", false)
	time.Sleep(5 * time.Millisecond)

	v := cb.Check("openai")
	if v.Kind != VerdictAllowProbe {
		t.Fatalf("expected AllowProbe, got %+v", v)
	}
	if s := cb.GetState("openai"); s != HalfOpen {
		t.Fatalf("expected HalfOpen, got %v", s)
	}
}

func TestProbeIntervalThrottled(t *testing.T) {
	cfg := fastConfig()
	cfg.ProbeIntervalSecs = 9999 // very long probe interval
	cfg.ProbeEnabled = true
	cb := New(cfg)

	cb.RecordFailure("openai", false)

	v1 := cb.Check("openai")
	if v1.Kind != VerdictAllowProbe {
		t.Fatalf("expected AllowProbe first, got %+v", v1)
	}

	cb.RecordProbeResult("openai", false)

	v2 := cb.Check("openai")
	if v2.Kind != VerdictReject {
		t.Fatalf("expected Reject after probe throttle, got %+v", v2)
	}
}

func TestProbeSuccessClosesCircuit(t *testing.T) {
	cb := New(fastConfig())
	cb.RecordFailure("openai", false)
	if s := cb.GetState("openai"); s != Open {
		t.Fatalf("expected Open, got %v", s)
	}
	cb.RecordProbeResult("openai", true)
	if s := cb.GetState("openai"); s != Closed {
		t.Fatalf("expected Closed, got %v", s)
	}
}

func TestProbeFailureExtendsCooldown(t *testing.T) {
	cb := New(fastConfig())
	cb.RecordFailure("openai", false)

	before, _ := cb.states.get("openai")
	countBefore := before.errorCount
	cb.RecordProbeResult("openai", false)
	after, _ := cb.states.get("openai")

	if after.errorCount != countBefore+1 {
		t.Fatalf("expected error count to increase by 1, got %d -> %d", countBefore, after.errorCount)
	}
	if s := cb.GetState("openai"); s != Open {
		t.Fatalf("expected Open, got %v", s)
	}
}

func TestForceReset(t *testing.T) {
	cb := New(fastConfig())
	cb.RecordFailure("openai", false)
	cb.RecordFailure("openai", false)
	if s := cb.GetState("openai"); s != Open {
		t.Fatalf("expected Open, got %v", s)
	}
	cb.ForceReset("openai")
	if s := cb.GetState("openai"); s != Closed {
		t.Fatalf("expected Closed after reset, got %v", s)
	}
	if v := cb.Check("openai"); v.Kind != VerdictAllow {
		t.Fatalf("expected Allow after reset, got %+v", v)
	}
}

func TestClearExpired(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseCooldownSecs = 0
	cb := New(cfg)

	cb.RecordFailure("openai", false)
	cb.RecordSuccess("openai")

	if !cb.states.has("openai") {
		t.Fatal("expected entry to still exist after success")
	}

	cb.ClearExpired()
	if cb.states.has("openai") {
		t.Fatal("expected entry removed after ClearExpired")
	}
}

func TestSnapshot(t *testing.T) {
	cb := New(fastConfig())
	cb.RecordFailure("openai", false)
	cb.RecordFailure("anthropic", true)

	snap := cb.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}

	var openaiSnap, anthropicSnap *Snapshot
	for i := range snap {
		switch snap[i].Provider {
		case "openai":
			openaiSnap = &snap[i]
		case "anthropic":
			anthropicSnap = &snap[i]
		}
	}
	if openaiSnap == nil || openaiSnap.State != Open || openaiSnap.ErrorCount != 1 || openaiSnap.IsBilling {
		t.Fatalf("unexpected openai snapshot: %+v", openaiSnap)
	}
	if anthropicSnap == nil || anthropicSnap.State != Open || anthropicSnap.ErrorCount != 1 || !anthropicSnap.IsBilling {
		t.Fatalf("unexpected anthropic snapshot: %+v", anthropicSnap)
	}
}

func TestFailureWindowReset(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureWindowSecs = 0 // instant window expiry
	cb := New(cfg)

	cb.RecordFailure("openai", false)
	time.Sleep(5 * time.Millisecond)

	cb.RecordFailure("openai", false)
	state, _ := cb.states.get("openai")
	if state.totalErrorsInWindow != 1 {
		t.Fatalf("expected window counter reset to 1, got %d", state.totalErrorsInWindow)
	}
}

func TestMultipleProvidersIndependent(t *testing.T) {
	cb := New(fastConfig())

	cb.RecordFailure("openai", false)
	cb.RecordFailure("openai", false)
	cb.RecordFailure("anthropic", true)

	if s := cb.GetState("openai"); s != Open {
		t.Fatalf("expected openai Open, got %v", s)
	}
	if s := cb.GetState("anthropic"); s != Open {
		t.Fatalf("expected anthropic Open, got %v", s)
	}
	if s := cb.GetState("gemini"); s != Closed {
		t.Fatalf("expected gemini Closed, got %v", s)
	}

	cb.RecordSuccess("openai")
	if s := cb.GetState("openai"); s != Closed {
		t.Fatalf("expected openai Closed after success, got %v", s)
	}
	if s := cb.GetState("anthropic"); s != Open {
		t.Fatalf("expected anthropic still Open, got %v", s)
	}
}

func TestSelectProfilePrefersLowestPriorityNonCooldown(t *testing.T) {
	cb := New(fastConfig())
	profiles := []AuthProfile{
		{Name: "primary", Priority: 0, APIKeyEnv: "OPENAI_KEY_PRIMARY"},
		{Name: "backup", Priority: 1, APIKeyEnv: "OPENAI_KEY_BACKUP"},
	}

	name, env, ok := cb.SelectProfile("openai", profiles)
	if !ok || name != "primary" || env != "OPENAI_KEY_PRIMARY" {
		t.Fatalf("expected primary profile first, got name=%q env=%q ok=%v", name, env, ok)
	}

	cb.AdvanceProfile("openai", "primary", false)
	name, env, ok = cb.SelectProfile("openai", profiles)
	if !ok || name != "backup" || env != "OPENAI_KEY_BACKUP" {
		t.Fatalf("expected rotation to backup profile, got name=%q env=%q ok=%v", name, env, ok)
	}
}

func TestSelectProfileEmptyReturnsFalse(t *testing.T) {
	cb := New(fastConfig())
	if _, _, ok := cb.SelectProfile("openai", nil); ok {
		t.Fatal("expected no profile selection with empty profile list")
	}
}
