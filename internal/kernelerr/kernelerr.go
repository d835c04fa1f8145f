// Package kernelerr tags an error with the taxonomy kind that decides how
// far up the call stack it should be trusted: a UserInput error is safe to
// echo back to whoever sent the request, a SecurityBlocked one should never
// include the details that tripped it.
package kernelerr

import "fmt"

// Kind classifies an error along the boundary that produced it.
type Kind string

const (
	// UserInput marks a malformed or invalid request from the caller
	// (bad JSON, missing required field, out-of-range value).
	UserInput Kind = "user_input"
	// Authorization marks a caller who is who they claim to be but isn't
	// allowed to do what they asked (wrong owner, expired session).
	Authorization Kind = "authorization"
	// Policy marks a request blocked by a configured policy rather than
	// a hard security boundary (tool disabled for this agent, rate limit).
	Policy Kind = "policy"
	// Provider marks a failure surfaced by an upstream LLM/tool provider
	// (HTTP error, timeout, malformed response) — the kind the circuit
	// breaker keys its cooldown decisions on.
	Provider Kind = "provider"
	// Infrastructure marks a failure in the kernel's own plumbing (store,
	// sandbox runtime, filesystem) rather than anything the caller did.
	Infrastructure Kind = "infrastructure"
	// SecurityBlocked marks a request that tripped a hard defense (path
	// traversal, SSRF, a denied capability) — never echo the underlying
	// detail to the caller beyond the fact that it was blocked.
	SecurityBlocked Kind = "security_blocked"
)

// KernelError wraps an underlying error with a taxonomy Kind.
type KernelError struct {
	Kind Kind
	Err  error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KernelError) Unwrap() error { return e.Err }

// New tags err with kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KernelError{Kind: kind, Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &KernelError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the taxonomy Kind of err, or "" if err (or nothing in its
// Unwrap chain) is a *KernelError.
func KindOf(err error) Kind {
	for err != nil {
		if ke, ok := err.(*KernelError); ok {
			return ke.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// Retryable reports whether errors of this kind are worth retrying without
// caller intervention. Provider and Infrastructure failures are transient by
// nature; the rest require the caller to change something before retrying
// would help.
func (k Kind) Retryable() bool {
	switch k {
	case Provider, Infrastructure:
		return true
	default:
		return false
	}
}
