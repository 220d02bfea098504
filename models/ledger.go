package models

import (
	// External Packages
	"github.com/shopspring/decimal"
)

// TransitionUpdate carries the optional fields written alongside a state
// change. Amount is deliberately absent: it is immutable after creation.
type TransitionUpdate struct {
	ProviderRef   string
	FailureReason string
	Fee           decimal.Decimal
	IncAttempt    bool
}
