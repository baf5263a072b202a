package models

import (
	"errors"
	"fmt"
)

// FaultKind classifies the recoverable failure modes of lifecycle operations.
// All kinds are local and returned to the immediate caller; none crash the
// process.
type FaultKind string

const (
	// Requested lifecycle move not legal from the current status; rejected
	// before any chain interaction
	FaultInvalidStateTransition FaultKind = "invalid_state_transition"

	// Insufficient balance or key/auth problem on the custodial signer
	FaultSignerFailure FaultKind = "signer_failure"

	// The contract itself refused the call (revert); reason surfaced verbatim
	FaultChainRejected FaultKind = "chain_rejected"

	// Inclusion not observed within the wait bound; the transaction may still
	// land later, so the listing is flagged for reconciliation
	FaultConfirmationTimeout FaultKind = "confirmation_timeout"

	// One or more read calls failed while assembling an agreement view
	FaultAggregationFailure FaultKind = "aggregation_failure"

	// Reconciliation found chain state disagreeing with the stored projection
	FaultDriftDetected FaultKind = "drift_detected"

	// No listing with the requested id
	FaultNotFound FaultKind = "not_found"

	// Malformed request input, rejected before any chain interaction
	FaultInvalidArgument FaultKind = "invalid_argument"
)

// Fault is a structured failure: a kind for programmatic handling plus a
// human-readable detail
type Fault struct {
	Kind   FaultKind
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault creates a fault with a preformatted detail message
func NewFault(kind FaultKind, detail string) *Fault {
	return &Fault{Kind: kind, Detail: detail}
}

// Faultf creates a fault with a formatted detail message
func Faultf(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapFault creates a fault wrapping an underlying error
func WrapFault(kind FaultKind, detail string, err error) *Fault {
	return &Fault{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the fault kind from an error chain. The second return is
// false when the error carries no fault.
func KindOf(err error) (FaultKind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// IsFault reports whether err carries the given fault kind
func IsFault(err error, kind FaultKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
