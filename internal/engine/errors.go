package engine

import (
	"errors"
	"fmt"
)

// GuardrailRejectedError is a client-side rejection: the policy gate declined
// the order before any broker contact. Check names the failing check.
type GuardrailRejectedError struct {
	Check  string
	Reason string
}

func (e *GuardrailRejectedError) Error() string {
	return fmt.Sprintf("guardrail rejected (%s): %s", e.Check, e.Reason)
}

// BrokerRejectedError means the broker received the order and declined it.
// Terminal: resubmitting could duplicate an order the broker already
// evaluated.
type BrokerRejectedError struct {
	Reason string
	Err    error
}

func (e *BrokerRejectedError) Error() string {
	return fmt.Sprintf("broker rejected order: %s", e.Reason)
}

func (e *BrokerRejectedError) Unwrap() error { return e.Err }

// TransientSubmissionError means the submission network call failed before a
// broker verdict. The order stays in NEW; retrying with the same client order
// id is safe because the broker deduplicates on it.
type TransientSubmissionError struct {
	Err error
}

func (e *TransientSubmissionError) Error() string {
	return fmt.Sprintf("transient submission failure: %v", e.Err)
}

func (e *TransientSubmissionError) Unwrap() error { return e.Err }

// IsTransient reports whether err allows a safe resubmission with the same
// client order id.
func IsTransient(err error) bool {
	var transient *TransientSubmissionError
	return errors.As(err, &transient)
}

// IsGuardrailRejected reports whether err is a policy-gate rejection.
func IsGuardrailRejected(err error) bool {
	var rejected *GuardrailRejectedError
	return errors.As(err, &rejected)
}

// IsBrokerRejected reports whether err is a terminal broker decline.
func IsBrokerRejected(err error) bool {
	var rejected *BrokerRejectedError
	return errors.As(err, &rejected)
}
