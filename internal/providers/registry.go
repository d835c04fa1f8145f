package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/openfang-project/openfang/internal/kernelerr"
	"github.com/openfang-project/openfang/internal/providers/cooldown"
)

// Registry holds the set of configured LLM providers, keyed by Name(). It
// mirrors tools.Registry's shape: a flat map guarded by a single RWMutex,
// since provider registration only happens at startup (config load / DB
// sync) while Get/List are read-heavy and hit on every agent turn.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	// cooldowns, if set, is consulted by Dispatch to skip a provider that's
	// currently tripped and to record the outcome of every call routed
	// through it. Nil means no circuit breaking (Get/List behave as a plain
	// registry, matching pre-breaker behavior).
	cooldowns *cooldown.ProviderCooldown
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// WithCooldown wires a circuit breaker into the registry: Dispatch will
// consult it before calling a provider and record the result afterward.
// Register/Get/List are unaffected.
func (r *Registry) WithCooldown(cd *cooldown.ProviderCooldown) *Registry {
	r.cooldowns = cd
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// List returns every registered provider name, sorted for deterministic
// fallback selection (resolver.go picks List()[0] when an agent's preferred
// provider is missing).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves name through the registry and, if a circuit breaker is
// wired in, rejects providers whose circuit is open and returns a done
// callback the caller must invoke with the call's outcome (isBilling marks
// a 402/billing-style failure, which earns a longer cooldown). Callers that
// don't need breaker accounting can use Get directly.
func (r *Registry) Dispatch(name string) (p Provider, done func(err error, isBilling bool), err error) {
	p, err = r.Get(name)
	if err != nil {
		return nil, func(error, bool) {}, err
	}
	if r.cooldowns == nil {
		return p, func(error, bool) {}, nil
	}
	switch v := r.cooldowns.Check(name); v.Kind {
	case cooldown.VerdictReject:
		return nil, func(error, bool) {}, kernelerr.Newf(kernelerr.Provider, "provider %s rejected: %s", name, v.Reason)
	default:
		return p, func(callErr error, isBilling bool) {
			if callErr == nil {
				r.cooldowns.RecordSuccess(name)
				return
			}
			slog.Debug("provider call failed", "provider", name, "error", kernelerr.New(kernelerr.Provider, callErr), "billing", isBilling)
			r.cooldowns.RecordFailure(name, isBilling)
		}, nil
	}
}
