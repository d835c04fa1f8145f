package kernelerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewReturnsNilForNilErr(t *testing.T) {
	if err := New(Provider, nil); err != nil {
		t.Fatalf("New(kind, nil) = %v, want nil", err)
	}
}

func TestKindOfUnwrapsToTaggedKind(t *testing.T) {
	base := errors.New("boom")
	tagged := New(SecurityBlocked, base)
	wrapped := fmt.Errorf("dispatch failed: %w", tagged)

	if got := KindOf(wrapped); got != SecurityBlocked {
		t.Fatalf("KindOf(wrapped) = %q, want %q", got, SecurityBlocked)
	}
}

func TestKindOfReturnsEmptyForUntaggedError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != "" {
		t.Fatalf("KindOf(plain) = %q, want empty", got)
	}
}

func TestErrorIncludesKindAndUnderlyingMessage(t *testing.T) {
	err := Newf(UserInput, "missing field %q", "path")
	if got := err.Error(); got != "user_input: missing field \"path\"" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestRetryableClassifiesTransientKinds(t *testing.T) {
	cases := map[Kind]bool{
		Provider:        true,
		Infrastructure:  true,
		UserInput:       false,
		Authorization:   false,
		Policy:          false,
		SecurityBlocked: false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Fatalf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestUnwrapExposesUnderlyingError(t *testing.T) {
	base := errors.New("root cause")
	err := New(Infrastructure, base)
	if !errors.Is(err, base) {
		t.Fatalf("errors.Is(err, base) = false, want true")
	}
}
