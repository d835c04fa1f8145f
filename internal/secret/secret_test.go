package secret

import (
	"fmt"
	"strings"
	"testing"
)

func TestStringRedactsFormatting(t *testing.T) {
	s := New("super-secret-value")
	if got := fmt.Sprintf("%v", s); strings.Contains(got, "super-secret-value") {
		t.Fatalf("formatted output leaked secret: %s", got)
	}
	if got := fmt.Sprintf("%s", s); got != "[REDACTED]" {
		t.Fatalf("String() = %q, want [REDACTED]", got)
	}
}

func TestEmptySecretFormatsEmpty(t *testing.T) {
	var s String
	if got := s.String(); got != "" {
		t.Fatalf("empty secret String() = %q, want empty", got)
	}
	if !s.IsEmpty() {
		t.Fatalf("expected IsEmpty true for zero value")
	}
}

func TestExposeReturnsUnderlyingValue(t *testing.T) {
	s := New("the-value")
	if got := s.Expose(); got != "the-value" {
		t.Fatalf("Expose() = %q, want %q", got, "the-value")
	}
}

func TestDestroyZeroesAndEmptiesSecret(t *testing.T) {
	s := New("gone-soon")
	s.Destroy()
	if !s.IsEmpty() {
		t.Fatalf("expected IsEmpty after Destroy")
	}
	if got := s.Expose(); got != "" {
		t.Fatalf("Expose() after Destroy = %q, want empty", got)
	}
	// Destroy must be idempotent.
	s.Destroy()
}

func TestLogValueRedacts(t *testing.T) {
	s := New("hidden")
	if got := s.LogValue().String(); got != "[REDACTED]" {
		t.Fatalf("LogValue() = %q, want [REDACTED]", got)
	}
}
