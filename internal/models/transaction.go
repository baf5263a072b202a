package models

import "time"

// OperationKind identifies a chain-mutating operation submitted through the
// broadcast queue
type OperationKind string

const (
	OpDeploy    OperationKind = "deploy"
	OpActivate  OperationKind = "activate"
	OpTerminate OperationKind = "terminate"
)

// TxState is the outcome state machine for a submitted transaction
type TxState string

const (
	TxQueued    TxState = "queued"
	TxSubmitted TxState = "submitted"
	TxConfirmed TxState = "confirmed"
	TxReverted  TxState = "reverted"
	TxTimedOut  TxState = "timed_out"

	// TxOrphaned marks a timed-out deploy that was later found mined: the
	// contract exists on chain but no listing row references it. Journal-only
	// state, flagged for manual cleanup.
	TxOrphaned TxState = "orphaned"
)

// TransactionRecord is the broadcast queue's journal entry for one submission.
// The journal is persisted so the reconciliation sweep can resolve timed-out
// entries even after a process restart.
type TransactionRecord struct {
	ID            string        `json:"id"`
	Nonce         uint64        `json:"nonce"`
	OperationKind OperationKind `json:"operation_kind"`

	// Absent for deploys
	TargetContractAddress *string `json:"target_contract_address,omitempty"`

	// Opaque caller reference; the coordinator sets the listing id here for
	// activate/terminate so the sweep can route a late outcome back
	Ref string `json:"ref,omitempty"`

	TxHash      string    `json:"tx_hash"`
	State       TxState   `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// For deploys, once confirmed
	ResultAddress *string `json:"result_address,omitempty"`

	RevertReason string `json:"revert_reason,omitempty"`
}

// Resolved reports whether the record reached a state the sweep no longer
// needs to look at
func (r *TransactionRecord) Resolved() bool {
	switch r.State {
	case TxConfirmed, TxReverted, TxOrphaned:
		return true
	}
	return false
}
