package cooldown

import (
	"math"
	"time"
)

// CircuitState is the externally-observable state of a provider.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Verdict is the result of a Check call.
type Verdict struct {
	Kind           VerdictKind
	Reason         string // populated for VerdictReject
	RetryAfterSecs uint64 // populated for VerdictReject
}

type VerdictKind int

const (
	VerdictAllow VerdictKind = iota
	VerdictAllowProbe
	VerdictReject
)

// Snapshot describes one provider's circuit breaker state, for API/dashboard
// consumption.
type Snapshot struct {
	Provider              string
	State                 CircuitState
	ErrorCount            uint32
	IsBilling             bool
	CooldownRemainingSecs *uint64
}

// providerState tracks error/cooldown bookkeeping for a single provider or
// auth-profile key. Guarded by the owning shard's mutex.
type providerState struct {
	errorCount          uint32
	isBilling           bool
	cooldownStart       *time.Time
	cooldownDuration    time.Duration
	lastProbe           *time.Time
	totalErrorsInWindow uint32
	windowStart         *time.Time
}

func newProviderState() *providerState {
	return &providerState{}
}

// calculateCooldown computes exponential backoff from the error count,
// capped at max_exponent/billing_max_cooldown. error_count=1 maps to
// exponent 0 (the base cooldown, no multiplication).
func calculateCooldown(cfg Config, errorCount uint32, isBilling bool) time.Duration {
	if isBilling {
		exponent := saturatingSub(errorCount, 1)
		if exponent > 10 {
			exponent = 10
		}
		secs := float64(cfg.BillingBaseCooldownSecs) * math.Pow(cfg.BillingMultiplier, float64(exponent))
		capped := math.Min(secs, float64(cfg.BillingMaxCooldownSecs))
		return time.Duration(capped) * time.Second
	}
	exponent := saturatingSub(errorCount, 1)
	if exponent > cfg.MaxExponent {
		exponent = cfg.MaxExponent
	}
	secs := float64(cfg.BaseCooldownSecs) * math.Pow(cfg.BackoffMultiplier, float64(exponent))
	capped := math.Min(secs, float64(cfg.MaxCooldownSecs))
	return time.Duration(capped) * time.Second
}

func saturatingSub(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}
