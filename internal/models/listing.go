package models

import (
	"math/big"
	"time"
)

// ListingStatus is the off-chain projection of an agreement's lifecycle stage.
// Transitions are monotonic: draft -> available -> occupied -> terminated,
// with available -> terminated also legal. Nothing ever moves backwards.
type ListingStatus string

const (
	StatusDraft      ListingStatus = "draft"
	StatusAvailable  ListingStatus = "available"
	StatusOccupied   ListingStatus = "occupied"
	StatusTerminated ListingStatus = "terminated"
)

// transitions holds the legal forward moves of the lifecycle state machine
var transitions = map[ListingStatus][]ListingStatus{
	StatusDraft:      {StatusAvailable},
	StatusAvailable:  {StatusOccupied, StatusTerminated},
	StatusOccupied:   {StatusTerminated},
	StatusTerminated: {},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions
func (s ListingStatus) Terminal() bool {
	return s == StatusTerminated
}

// Listing is the off-chain projection of a rental property and its agreement.
// It is a read model: the chain owns isActive/isTerminated, and Status must
// only ever be derived from confirmed chain state.
type Listing struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`

	// Agreement terms, immutable once the deploy confirms
	Owner         string   `json:"owner"`
	Renter        string   `json:"renter"`
	ContentHash   string   `json:"content_hash"`
	RentAmount    *big.Int `json:"rent_amount"`
	DepositAmount *big.Int `json:"deposit_amount"`
	DurationDays  uint64   `json:"duration_days"`

	// Set exactly once, after a confirmed deploy
	ContractAddress *string `json:"contract_address,omitempty"`

	Status ListingStatus `json:"status"`

	// Drift-detection bookkeeping
	NeedsReconcile           bool       `json:"needs_reconcile"`
	LastReconciledAt         *time.Time `json:"last_reconciled_at,omitempty"`
	LastKnownChainActive     bool       `json:"last_known_chain_active"`
	LastKnownChainTerminated bool       `json:"last_known_chain_terminated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActivationPayment returns the exact value an activate transaction must carry:
// rent + deposit in smallest units. Always integer arithmetic, never floats.
func (l *Listing) ActivationPayment() *big.Int {
	return new(big.Int).Add(l.RentAmount, l.DepositAmount)
}
