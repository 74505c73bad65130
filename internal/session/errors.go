package session

import (
	"errors"
	"fmt"
)

// Kind classifies a pairing failure for the HTTP surface.
type Kind string

const (
	KindInvalidArgument       Kind = "InvalidArgument"
	KindSessionAlreadyActive  Kind = "SessionAlreadyActive"
	KindClientConstruction    Kind = "ClientConstructionFailed"
	KindCodeTimeout           Kind = "CodeTimeout"
	KindClosedUnauthenticated Kind = "ConnectionClosedUnauthenticated"
	KindCredentialPersist     Kind = "CredentialPersistFailed"
	KindDeliveryFailed        Kind = "DeliveryFailed"

	// Operational outcomes, not protocol failures.
	KindSessionCanceled Kind = "SessionCanceled"
	KindNoSession       Kind = "NoSession"
)

// Error is a pairing failure with a taxonomy kind.
// The wrapped cause (if any) is reachable via errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a taxonomy error wrapping an optional cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the taxonomy kind from err.
// Returns empty string for nil or non-taxonomy errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
