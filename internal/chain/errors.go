package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Provider-call failures are always resolved into one of these
// before they leave this package; raw provider text is kept for diagnostics.
type Kind string

const (
	KindProviderAbsent    Kind = "provider-absent"
	KindUserRejected      Kind = "user-rejected"
	KindNetworkMismatch   Kind = "network-mismatch"
	KindInsufficientFunds Kind = "insufficient-funds"
	KindListingNotFound   Kind = "listing-not-found"
	KindReceiptTimeout    Kind = "receipt-timeout"
	KindUnknown           Kind = "unknown"
)

type Error struct {
	Kind   Kind
	Reason string // human-readable cause, safe to show to the user
	Cause  error  // raw provider error, logged but never surfaced
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// KindOf extracts the failure kind, falling back to unknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Reason extracts the user-facing reason, falling back to a generic prompt.
func Reason(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return "something went wrong, please try again"
}

// Normalize resolves a raw provider error into the taxonomy by matching the
// error text. Node implementations word these differently, so matching is
// substring-based and case-insensitive.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "exceeds allowance"),
		strings.Contains(msg, "transfer amount exceeds balance"):
		return &Error{Kind: KindInsufficientFunds, Reason: "insufficient funds for this transaction", Cause: err}
	case strings.Contains(msg, "user denied"),
		strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "request rejected"):
		return &Error{Kind: KindUserRejected, Reason: "request was rejected at the wallet", Cause: err}
	case strings.Contains(msg, "wrong chain"),
		strings.Contains(msg, "chain id mismatch"),
		strings.Contains(msg, "invalid chain"):
		return &Error{Kind: KindNetworkMismatch, Reason: "connected to the wrong network", Cause: err}
	case strings.Contains(msg, "listing not found"),
		strings.Contains(msg, "listing does not exist"):
		return &Error{Kind: KindListingNotFound, Reason: "listing not found", Cause: err}
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "provider not available"):
		return &Error{Kind: KindProviderAbsent, Reason: "wallet provider is not available", Cause: err}
	}
	return &Error{Kind: KindUnknown, Reason: "something went wrong, please try again", Cause: err}
}
