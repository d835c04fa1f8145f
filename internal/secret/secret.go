// Package secret holds a scoped string wrapper for credentials (peer shared
// secrets, provider API keys, webhook tokens) that must never appear in logs
// or Debug output, and that zeroes its backing memory when destroyed.
package secret

import "log/slog"

// String wraps a secret value. Its zero value is an empty secret. Both
// String() and LogValue() redact the value, so accidental fmt.Sprintf/slog
// logging of a secret.String never leaks it; the only way to read the
// underlying value is the explicit Expose call.
type String struct {
	value []byte
}

// New wraps v as a secret.
func New(v string) String {
	return String{value: []byte(v)}
}

// Expose returns the underlying value. Every call site should be a direct
// consumer (HMAC signing, header construction) — never store the result
// back into a field or pass it somewhere that might log it.
func (s String) Expose() string {
	return string(s.value)
}

// IsEmpty reports whether the secret holds no value.
func (s String) IsEmpty() bool {
	return len(s.value) == 0
}

// Destroy zeroes the backing bytes. Safe to call more than once. Go's
// garbage collector makes a true guarantee impossible (copies may still
// exist on the stack or in prior heap allocations), but this bounds the
// lifetime of the one copy this wrapper owns.
func (s *String) Destroy() {
	for i := range s.value {
		s.value[i] = 0
	}
	s.value = nil
}

// String implements fmt.Stringer with a fixed redaction, so %v/%s formatting
// never leaks the value.
func (s String) String() string {
	if s.IsEmpty() {
		return ""
	}
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer so structured logging of a secret.String
// field redacts it the same way String() does.
func (s String) LogValue() slog.Value {
	return slog.StringValue(s.String())
}
