package submissions

import "fmt"

// ErrorKind classifies why a submission did not complete.
type ErrorKind string

const (
	// KindMalformedRequest marks missing or invalid claim fields.
	KindMalformedRequest ErrorKind = "malformed_request"
	// KindUnknownTarget marks a claim against a target missing from the catalog.
	KindUnknownTarget ErrorKind = "unknown_target"
	// KindSignatureInvalid marks an HMAC mismatch.
	KindSignatureInvalid ErrorKind = "invalid_signature"
	// KindProximityInvalid marks a claim made too far from the target.
	KindProximityInvalid ErrorKind = "too_far"
	// KindStorage marks a durable ledger write failure. Never retried here.
	KindStorage ErrorKind = "storage_error"
	// KindUnavailable marks a leaderboard failure after the ledger write succeeded.
	KindUnavailable ErrorKind = "leaderboard_unavailable"
)

// Error is returned for every non-successful submission. Message is safe to show
// to clients; the wrapped cause is for logs only.
type Error struct {
	Kind           ErrorKind
	State          State
	Message        string
	DistanceMeters float64
	err            error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func malformed(message string) error {
	return &Error{Kind: KindMalformedRequest, State: StateReceived, Message: message}
}
