package cooldown

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// AuthProfile is one named credential configuration a provider can rotate
// through when the active profile starts failing.
type AuthProfile struct {
	Name       string
	Priority   int // lower sorts first
	APIKeyEnv  string
}

// ProviderCooldown is the circuit breaker: it tracks per-provider (and
// per-auth-profile) error state and decides whether a request should
// proceed, be rejected, or be allowed through as a recovery probe.
type ProviderCooldown struct {
	config Config
	states *shardedStates
}

func New(config Config) *ProviderCooldown {
	return &ProviderCooldown{config: config, states: newShardedStates()}
}

// Check reports whether a request to provider should proceed.
func (c *ProviderCooldown) Check(provider string) Verdict {
	state, ok := c.states.get(provider)
	if !ok || state.cooldownStart == nil {
		return Verdict{Kind: VerdictAllow}
	}

	elapsed := time.Since(*state.cooldownStart)
	if elapsed < state.cooldownDuration {
		remaining := state.cooldownDuration - elapsed

		if c.config.ProbeEnabled {
			probeOK := state.lastProbe == nil ||
				time.Since(*state.lastProbe) >= time.Duration(c.config.ProbeIntervalSecs)*time.Second
			if probeOK {
				slog.Debug("circuit breaker: allowing probe request", "provider", provider)
				return Verdict{Kind: VerdictAllowProbe}
			}
		}

		reason := fmt.Sprintf("error cooldown (%d errors)", state.errorCount)
		if state.isBilling {
			reason = fmt.Sprintf("billing cooldown (%d errors)", state.errorCount)
		}
		return Verdict{Kind: VerdictReject, Reason: reason, RetryAfterSecs: uint64(remaining.Seconds())}
	}

	slog.Debug("circuit breaker: cooldown expired, half-open", "provider", provider)
	return Verdict{Kind: VerdictAllowProbe}
}

// RecordSuccess resets a provider's error count and closes its circuit.
func (c *ProviderCooldown) RecordSuccess(provider string) {
	recovered := false
	c.states.withLock(provider, false, func(state *providerState) {
		recovered = state.errorCount > 0
		state.errorCount = 0
		state.isBilling = false
		state.cooldownStart = nil
		state.cooldownDuration = 0
		state.lastProbe = nil
	})
	if recovered {
		slog.Info("circuit breaker: provider recovered, closing circuit", "provider", provider)
	}
}

// RecordFailure increments the error count and opens the circuit.
// isBilling should be true for 402/billing errors, which get a much
// longer cooldown.
func (c *ProviderCooldown) RecordFailure(provider string, isBilling bool) {
	now := time.Now()
	var errorCount uint32
	var cooldown time.Duration
	c.states.withLock(provider, true, func(state *providerState) {
		if state.windowStart != nil {
			if time.Since(*state.windowStart) >= time.Duration(c.config.FailureWindowSecs)*time.Second {
				state.totalErrorsInWindow = 0
				state.windowStart = &now
			}
		} else {
			state.windowStart = &now
		}

		state.errorCount++
		state.totalErrorsInWindow++
		state.isBilling = isBilling

		cooldown = calculateCooldown(c.config, state.errorCount, isBilling)
		state.cooldownStart = &now
		state.cooldownDuration = cooldown
		errorCount = state.errorCount
	})

	kind := "error"
	if isBilling {
		kind = "billing error"
	}
	slog.Warn("circuit breaker: opening circuit",
		"provider", provider, "kind", kind, "error_count", errorCount, "cooldown_secs", cooldown.Seconds())
}

// RecordProbeResult records the outcome of a half-open probe request.
func (c *ProviderCooldown) RecordProbeResult(provider string, success bool) {
	if success {
		c.RecordSuccess(provider)
		return
	}
	now := time.Now()
	var errorCount uint32
	var cooldown time.Duration
	if !c.states.withLock(provider, false, func(state *providerState) {
		state.lastProbe = &now
		state.errorCount++
		cooldown = calculateCooldown(c.config, state.errorCount, state.isBilling)
		state.cooldownStart = &now
		state.cooldownDuration = cooldown
		errorCount = state.errorCount
	}) {
		return
	}
	slog.Warn("circuit breaker: probe failed, extending cooldown",
		"provider", provider, "error_count", errorCount, "cooldown_secs", cooldown.Seconds())
}

// GetState returns the current circuit state for a provider.
func (c *ProviderCooldown) GetState(provider string) CircuitState {
	state, ok := c.states.get(provider)
	if !ok || state.cooldownStart == nil {
		return Closed
	}
	elapsed := time.Since(*state.cooldownStart)
	switch {
	case elapsed < state.cooldownDuration:
		return Open
	case state.errorCount > 0:
		return HalfOpen
	default:
		return Closed
	}
}

// Snapshot returns every tracked provider's state, sorted by name for
// deterministic API responses.
func (c *ProviderCooldown) Snapshot() []Snapshot {
	var out []Snapshot
	c.states.forEach(func(key string, st providerState) {
		state := Closed
		var remaining *uint64
		if st.cooldownStart != nil {
			elapsed := time.Since(*st.cooldownStart)
			if elapsed < st.cooldownDuration {
				state = Open
				r := uint64((st.cooldownDuration - elapsed).Seconds())
				remaining = &r
			} else if st.errorCount > 0 {
				state = HalfOpen
			}
		}
		out = append(out, Snapshot{
			Provider:              key,
			State:                 state,
			ErrorCount:            st.errorCount,
			IsBilling:             st.isBilling,
			CooldownRemainingSecs: remaining,
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// ClearExpired removes entries whose cooldown has fully expired and whose
// error count has since been reset by a success. Intended to be called
// periodically (e.g. every 60s) to bound memory growth.
func (c *ProviderCooldown) ClearExpired() {
	var toRemove []string
	c.states.forEach(func(key string, st providerState) {
		if st.errorCount == 0 && (st.cooldownStart == nil || time.Since(*st.cooldownStart) >= st.cooldownDuration) {
			toRemove = append(toRemove, key)
		}
	})
	for _, key := range toRemove {
		c.states.delete(key)
		slog.Debug("circuit breaker: cleared expired entry", "provider", key)
	}
}

// ForceReset clears a provider's state entirely (admin action).
func (c *ProviderCooldown) ForceReset(provider string) {
	c.states.delete(provider)
	slog.Info("circuit breaker: force-reset by admin", "provider", provider)
}

// SelectProfile picks the best available (lowest-priority, non-cooldown)
// auth profile for a provider. Returns ("", "", false) if no
// profiles are configured.
func (c *ProviderCooldown) SelectProfile(provider string, profiles []AuthProfile) (string, string, bool) {
	if len(profiles) == 0 {
		return "", "", false
	}
	sorted := make([]AuthProfile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, profile := range sorted {
		key := provider + "::" + profile.Name
		state, ok := c.states.get(key)
		if !ok {
			return profile.Name, profile.APIKeyEnv, true
		}
		if state.cooldownStart != nil && time.Since(*state.cooldownStart) < state.cooldownDuration {
			continue // in cooldown, skip
		}
		return profile.Name, profile.APIKeyEnv, true
	}

	// All profiles in cooldown — return the first one anyway (least bad).
	first := sorted[0]
	return first.Name, first.APIKeyEnv, true
}

// AdvanceProfile marks a specific auth profile as failed, rotating future
// SelectProfile calls away from it until its cooldown expires.
func (c *ProviderCooldown) AdvanceProfile(provider, failedProfile string, isBilling bool) {
	key := provider + "::" + failedProfile
	now := time.Now()
	var errorCount uint32
	var cooldown time.Duration
	c.states.withLock(key, true, func(state *providerState) {
		state.errorCount++
		state.isBilling = isBilling
		cooldown = calculateCooldown(c.config, state.errorCount, isBilling)
		state.cooldownStart = &now
		state.cooldownDuration = cooldown
		errorCount = state.errorCount
	})
	slog.Warn("auth profile rotated: marking profile as failed",
		"profile", key, "error_count", errorCount, "cooldown_secs", cooldown.Seconds())
}
