package models

import (
	// Go Internal Packages
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	// Local Packages
	errors "disburse-engine/errors"

	// External Packages
	"github.com/shopspring/decimal"
)

// DisbursementRequest is an eligibility-approved payment instruction
// received from the upstream authorization service. Immutable once accepted.
type DisbursementRequest struct {
	BeneficiaryID          string          `json:"beneficiary_id"`
	BenefitCycleID         string          `json:"benefit_cycle_id"`
	ProviderID             string          `json:"provider_id"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	RecipientAccountNumber string          `json:"recipient_account_number,omitempty"`
	RecipientAccountName   string          `json:"recipient_account_name,omitempty"`
	RecipientMobileNumber  string          `json:"recipient_mobile_number,omitempty"`
	RequestedAt            time.Time       `json:"requested_at"`
}

// Validate checks required fields, a positive amount and the currency scale.
func (r *DisbursementRequest) Validate(currency string, scale int32) error {
	ve := errors.ValidationErrs()

	if r.BeneficiaryID == "" {
		ve.Add("beneficiary_id", "cannot be empty")
	}
	if r.BenefitCycleID == "" {
		ve.Add("benefit_cycle_id", "cannot be empty")
	}
	if r.ProviderID == "" {
		ve.Add("provider_id", "cannot be empty")
	}
	if err := ve.Err(); err != nil {
		return errors.ValidationFailedErr(err)
	}

	if !r.Amount.IsPositive() {
		return errors.InvalidAmountErr("must be positive")
	}
	if r.Amount.Exponent() < -scale {
		return errors.InvalidAmountErr(fmt.Sprintf("more than %d decimal places", scale))
	}
	if r.Currency != currency {
		return errors.InvalidAmountErr(fmt.Sprintf("currency must be %s", currency))
	}
	return nil
}

// IdempotencyKey derives the deterministic key that makes one beneficiary
// in one cycle at one provider a single logical payment.
func (r *DisbursementRequest) IdempotencyKey() string {
	return IdempotencyKey(r.BeneficiaryID, r.BenefitCycleID, r.ProviderID)
}

// IdempotencyKey hashes (beneficiaryId, benefitCycleId, providerId).
func IdempotencyKey(beneficiaryID, cycleID, providerID string) string {
	sum := sha256.Sum256([]byte(beneficiaryID + "|" + cycleID + "|" + providerID))
	return hex.EncodeToString(sum[:])
}
