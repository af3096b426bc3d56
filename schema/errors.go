package schema

import (
	"errors"
)

var (
	ErrNotExist = errors.New("not_exist_record")

	// reputation provider
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrProfileNotFound     = errors.New("profile_not_found")
	ErrNoXP                = errors.New("profile_without_xp")

	// chain
	ErrChainRead  = errors.New("chain_read_failed")
	ErrChainWrite = errors.New("chain_write_failed")
	ErrTxReverted = errors.New("tx_reverted")
	ErrTxTimeout  = errors.New("tx_confirmation_timeout")
	ErrTxNotSent  = errors.New("tx_not_sent")

	// claim
	ErrAlreadyClaimed   = errors.New("already_claimed")
	ErrClaimInFlight    = errors.New("claim_in_flight")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrSignatureExpired = errors.New("signature_expired")
	ErrNotEligible      = errors.New("not_eligible")

	ErrMisconfigured  = errors.New("misconfigured")
	ErrInvalidAddress = errors.New("invalid_address")
	ErrUnauthorized   = errors.New("unauthorized")
)

// Outcome separates definitive results from ambiguous ones.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending" // ambiguous or retryable
)

var kinds = []error{
	ErrNotExist,
	ErrProviderUnavailable, ErrProfileNotFound, ErrNoXP,
	ErrChainRead, ErrChainWrite, ErrTxReverted, ErrTxTimeout,
	ErrAlreadyClaimed, ErrClaimInFlight, ErrInvalidSignature, ErrSignatureExpired, ErrNotEligible,
	ErrMisconfigured, ErrInvalidAddress, ErrUnauthorized,
}

// Kind returns the sentinel wrapped by err, or nil when err is not one of ours.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// ClassifyErr maps err onto an Outcome and a stable code for API responses.
func ClassifyErr(err error) (Outcome, string) {
	if err == nil {
		return OutcomeSuccess, ""
	}
	k := Kind(err)
	if k == nil {
		return OutcomePending, "internal_error"
	}
	switch k {
	case ErrProviderUnavailable, ErrChainRead, ErrChainWrite, ErrTxTimeout, ErrClaimInFlight:
		return OutcomePending, k.Error()
	default:
		return OutcomeFailed, k.Error()
	}
}
