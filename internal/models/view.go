package models

import "math/big"

// AgreementView is the authoritative on-chain state of one rental agreement,
// assembled by the read aggregator. All numeric fields are exact smallest-unit
// integers; display formatting happens strictly outside this module.
type AgreementView struct {
	Landlord      string   `json:"landlord"`
	Renter        string   `json:"renter"`
	ContentHash   string   `json:"content_hash"`
	RentAmount    *big.Int `json:"rent_amount"`
	DepositAmount *big.Int `json:"deposit_amount"`
	DurationDays  uint64   `json:"duration_days"`
	IsActive      bool     `json:"is_active"`
	IsTerminated  bool     `json:"is_terminated"`
}

// StatusFromChain derives the listing status implied by the chain flags.
// The chain is always authoritative: terminated wins over active.
func (v *AgreementView) StatusFromChain() ListingStatus {
	switch {
	case v.IsTerminated:
		return StatusTerminated
	case v.IsActive:
		return StatusOccupied
	default:
		return StatusAvailable
	}
}
