package errors

import "fmt"

func InvalidParamsErr(err error) error {
	return E(Invalid, "invalid params", err)
}

func InvalidBodyErr(err error) error {
	return E(Invalid, "invalid request body", err)
}

func ValidationFailedErr(err error) error {
	return E(Invalid, "validation failed", err)
}

func EmptyParamErr(field string) error {
	ve := ValidationErrs()
	ve.Add(field, "cannot be empty")
	return E(Invalid, "validation failed", ve.Err())
}

// DuplicateRequestErr signals that the idempotency key was already
// reserved; callers treat this as the success path.
func DuplicateRequestErr(key, transactionID string) error {
	return E(Conflict, fmt.Sprintf("duplicate request: key %s already reserved by transaction %s", key, transactionID), nil)
}

// InvalidAmountErr rejects non-positive amounts or wrong currency scale.
func InvalidAmountErr(reason string) error {
	return E(Invalid, fmt.Sprintf("invalid amount: %s", reason), nil)
}

// StaleTransitionErr reports a compare-and-set miss on a state update.
func StaleTransitionErr(transactionID, from, to string) error {
	return E(Conflict, fmt.Sprintf("stale transition %s -> %s for transaction %s", from, to, transactionID), nil)
}

// IllegalTransitionErr reports an attempt to move against the state graph.
func IllegalTransitionErr(transactionID, from, to string) error {
	return E(Internal, fmt.Sprintf("illegal transition %s -> %s for transaction %s", from, to, transactionID), nil)
}

// LedgerUnavailableErr makes the caller fail closed: no submission may
// proceed while the ledger cannot confirm a reservation.
func LedgerUnavailableErr(err error) error {
	return E(Unavailable, "ledger unavailable, refusing to submit", err)
}

// AdapterNotFoundErr reports an unknown provider code.
func AdapterNotFoundErr(code string) error {
	return E(NotFound, fmt.Sprintf("no adapter registered for provider %s", code), nil)
}

// TransactionNotFoundErr reports an unknown transaction id or reference.
func TransactionNotFoundErr(ref string) error {
	return E(NotFound, fmt.Sprintf("transaction not found: %s", ref), nil)
}
