package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestFaultKindSurvivesWrapping(t *testing.T) {
	fault := Faultf(FaultChainRejected, "activation rejected: %s", "already active")
	wrapped := fmt.Errorf("operation failed: %w", fault)

	kind, ok := KindOf(wrapped)
	if !ok || kind != FaultChainRejected {
		t.Fatalf("KindOf(wrapped) = %q, %v; want %q", kind, ok, FaultChainRejected)
	}
	if !IsFault(wrapped, FaultChainRejected) {
		t.Error("IsFault must see through error wrapping")
	}
	if IsFault(wrapped, FaultSignerFailure) {
		t.Error("IsFault must not match a different kind")
	}
}

func TestWrapFaultUnwrapsToCause(t *testing.T) {
	cause := errors.New("connection refused")
	fault := WrapFault(FaultSignerFailure, "failed to submit", cause)

	if !errors.Is(fault, cause) {
		t.Error("the underlying cause must stay reachable via errors.Is")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain errors carry no fault kind")
	}
	if _, ok := KindOf(nil); ok {
		t.Error("nil carries no fault kind")
	}
}
