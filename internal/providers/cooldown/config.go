// Package cooldown implements the provider circuit breaker: per-provider
// error tracking with exponential cooldown backoff, half-open probing,
// and auth-profile rotation. Billing errors receive much longer cooldowns
// than general errors.
package cooldown

// Config controls circuit breaker backoff behavior.
type Config struct {
	BaseCooldownSecs   uint64  // base cooldown for general errors
	MaxCooldownSecs    uint64  // cap for general-error cooldown
	BackoffMultiplier  float64 // exponential multiplier for general errors
	MaxExponent        uint32  // max exponent steps before capping

	BillingBaseCooldownSecs uint64  // base cooldown for billing (402) errors — much longer
	BillingMaxCooldownSecs  uint64  // cap for billing-error cooldown
	BillingMultiplier       float64 // exponential multiplier for billing errors

	FailureWindowSecs uint64 // errors older than this are forgotten

	ProbeEnabled      bool   // allow one request through while in cooldown to check recovery
	ProbeIntervalSecs uint64 // minimum interval between probe attempts
}

// DefaultConfig mirrors the reference circuit breaker's defaults.
func DefaultConfig() Config {
	return Config{
		BaseCooldownSecs:        60,
		MaxCooldownSecs:         3600,
		BackoffMultiplier:       5.0,
		MaxExponent:             3,
		BillingBaseCooldownSecs: 18_000,
		BillingMaxCooldownSecs:  86_400,
		BillingMultiplier:       2.0,
		FailureWindowSecs:       86_400,
		ProbeEnabled:            true,
		ProbeIntervalSecs:       30,
	}
}
