package offline

import (
	"errors"
	"fmt"
)

// Reasons for a Miniserver connection going offline

// Reason classifies why a connection ended or an authentication failed.
type Reason int

const (
	// None means no failure
	None Reason = iota
	// Unauthorized indicates rejected credentials or token
	Unauthorized
	// TooManyFailedLoginAttempts indicates the user is locked out
	TooManyFailedLoginAttempts
	// CommunicationError indicates a transport failure or a missing reply
	CommunicationError
	// AuthenticationTimeout indicates authentication did not finish in time
	AuthenticationTimeout
	// IdleTimeout indicates the Miniserver dropped an idle connection
	IdleTimeout
	// InternalError indicates a local failure (crypto setup, bad configuration document)
	InternalError
	// ConnectFailed indicates the transport could not be opened
	ConnectFailed
)

// String returns a human-readable name for the reason
func (r Reason) String() string {
	switch r {
	case None:
		return "None"
	case Unauthorized:
		return "Unauthorized"
	case TooManyFailedLoginAttempts:
		return "Too Many Failed Login Attempts"
	case CommunicationError:
		return "Communication Error"
	case AuthenticationTimeout:
		return "Authentication Timeout"
	case IdleTimeout:
		return "Idle Timeout"
	case InternalError:
		return "Internal Error"
	case ConnectFailed:
		return "Connect Failed"
	default:
		return fmt.Sprintf("Reason(%d)", r)
	}
}

// FromCode maps a websocket close code or a command reply code to a reason.
func FromCode(code int) Reason {
	switch code {
	case 200:
		return None
	case 401:
		return Unauthorized
	case 420:
		return AuthenticationTimeout
	case 1001:
		return IdleTimeout
	case 4003:
		return TooManyFailedLoginAttempts
	default:
		return CommunicationError
	}
}

// Error is a failure that ends a connection attempt
type Error struct {
	Reason Reason // Category of failure
	Detail string // Human-readable detail
	Err    error  // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Reason, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given reason
func New(reason Reason, detail string) *Error {
	return &Error{Reason: reason, Detail: detail}
}

// Wrap creates an error with the given reason around a cause
func Wrap(reason Reason, detail string, err error) *Error {
	return &Error{Reason: reason, Detail: detail, Err: err}
}

// NewConnectError creates a transport open failure
func NewConnectError(err error) *Error {
	return Wrap(ConnectFailed, "failed to open websocket", err)
}

// ReasonOf extracts the reason from an error chain. Errors that carry no
// reason classify as CommunicationError; nil is None.
func ReasonOf(err error) Reason {
	if err == nil {
		return None
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Reason
	}
	return CommunicationError
}

// IsUnauthorized checks if an error is an authorization failure
func IsUnauthorized(err error) bool {
	return ReasonOf(err) == Unauthorized
}

// IsTooManyAttempts checks if an error is a login lockout
func IsTooManyAttempts(err error) bool {
	return ReasonOf(err) == TooManyFailedLoginAttempts
}

// IsCommunication checks if an error is a communication failure
func IsCommunication(err error) bool {
	return ReasonOf(err) == CommunicationError
}

// IsRetryable reports whether reconnecting could succeed without operator action
func IsRetryable(err error) bool {
	switch ReasonOf(err) {
	case TooManyFailedLoginAttempts, None:
		return false
	default:
		return true
	}
}
