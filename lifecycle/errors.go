/*
errors.go - Centralized error types for the lifecycle engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these directly or wrap them with context.

ERROR CATEGORIES:
  1. Transition errors - target status not reachable from the current one
  2. Policy errors - a business rule blocks the action
  3. Lookup errors - unknown request or item
  4. Validation errors - malformed input
  5. Store errors - concurrent modification

  Undersupply is not an error. AllocationEngine reports it as PARTIAL or
  SHORT records and the caller picks the shortage branch.

USAGE:
  next, err := svc.Transition(agg, outbound.StatusPickingWaiting, "worker-1", "")
  var illegal *lifecycle.IllegalTransitionError
  if errors.As(err, &illegal) {
      // agg is unchanged; try a different target
  }

SEE ALSO:
  - transition.go: returns IllegalTransitionError
  - api/handlers.go: maps categories to HTTP status codes
*/
package lifecycle

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIllegalTransition is returned when the target status is not declared
	// as reachable, or the aggregate is already terminal.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrPolicyViolation is returned when a domain rule blocks an action.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrNotFound is returned when a request or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownKind is returned when no graph is registered for a kind.
	ErrUnknownKind = errors.New("unknown request kind")

	// ErrAlreadyExists is returned when creating a request whose id is taken.
	ErrAlreadyExists = errors.New("request already exists")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// IllegalTransitionError describes a rejected transition.
type IllegalTransitionError struct {
	Kind     Kind
	From     Status
	To       Status
	Terminal bool
}

func (e *IllegalTransitionError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("illegal transition: %s request is terminal in %s (requested %s)", e.Kind, e.From, e.To)
	}
	return fmt.Sprintf("illegal transition: %s %s -> %s", e.Kind, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// PolicyViolationError names the rule that blocked an action.
type PolicyViolationError struct {
	Rule   string
	Detail string
}

func (e *PolicyViolationError) Error() string {
	if e.Detail == "" {
		return "policy violation: " + e.Rule
	}
	return fmt.Sprintf("policy violation: %s: %s", e.Rule, e.Detail)
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrPolicyViolation
}

// NotFoundError identifies the missing request, or the missing item within
// a request when ItemID is set.
type NotFoundError struct {
	RequestID RequestID
	ItemID    ItemID
}

func (e *NotFoundError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("item %s not found in request %s", e.ItemID, e.RequestID)
	}
	return fmt.Sprintf("request %s not found", e.RequestID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError reports a malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsNotFound returns true if the error indicates a missing request or item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
