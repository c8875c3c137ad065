package errors

import "fmt"

// Code enumerates every database error the sync core can report. The
// ordinal values are part of the public contract: callers may persist or
// switch on them. Message text is informational only and may change.
type Code int

const (
	// CodeNone means the operation was a success; no error occurred.
	CodeNone Code = iota

	// CodeDisconnected means the operation had to be aborted due to a
	// network disconnect.
	CodeDisconnected

	// CodeExpiredToken means the supplied auth token has expired.
	CodeExpiredToken

	// CodeInvalidToken means the supplied auth token is invalid.
	CodeInvalidToken

	// CodeMaxRetries means a transaction exceeded its retry cap.
	CodeMaxRetries

	// CodeNetworkError means the operation could not be performed due to
	// a network error.
	CodeNetworkError

	// CodeOperationFailed means the server indicated the operation failed.
	CodeOperationFailed

	// CodeOverriddenBySet means a transaction was overridden by a
	// subsequent plain write.
	CodeOverriddenBySet

	// CodePermissionDenied means this client does not have permission to
	// perform the operation.
	CodePermissionDenied

	// CodeUnavailable means the service is unavailable.
	CodeUnavailable

	// CodeUnknownError means an unknown error occurred.
	CodeUnknownError

	// CodeWriteCanceled means the write was canceled locally.
	CodeWriteCanceled

	// CodeInvalidVariantType means a write payload contained a Variant
	// type the database cannot store.
	CodeInvalidVariantType

	// CodeConflictingOperationInProgress means an operation that conflicts
	// with this one is already in progress.
	CodeConflictingOperationInProgress

	// CodeTransactionAbortedByUser means the transaction was aborted by
	// the user's update function.
	CodeTransactionAbortedByUser
)

// messages is indexed by Code ordinal. Order must match the constants above.
var messages = []string{
	"The operation was a success, no error occurred.",
	"The operation had to be aborted due to a network disconnect.",
	"The supplied auth token has expired.",
	"The specified authentication token is invalid.",
	"The transaction had too many retries.",
	"The operation could not be performed due to a network error.",
	"The server indicated that this operation failed.",
	"The transaction was overridden by a subsequent set.",
	"This client does not have permission to perform this operation.",
	"The service is unavailable.",
	"An unknown error occurred.",
	"The write was canceled locally.",
	"You specified an invalid Variant type for a field.",
	"An operation that conflicts with this one is already in progress.",
	"The transaction was aborted by the user's code.",
}

// Message returns the canonical human-readable message for the code.
// Unknown codes return an empty string.
func (c Code) Message() string {
	if c < 0 || int(c) >= len(messages) {
		return ""
	}
	return messages[c]
}

// String returns the constant-style name of the code for logging.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "None"
	case CodeDisconnected:
		return "Disconnected"
	case CodeExpiredToken:
		return "ExpiredToken"
	case CodeInvalidToken:
		return "InvalidToken"
	case CodeMaxRetries:
		return "MaxRetries"
	case CodeNetworkError:
		return "NetworkError"
	case CodeOperationFailed:
		return "OperationFailed"
	case CodeOverriddenBySet:
		return "OverriddenBySet"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeUnavailable:
		return "Unavailable"
	case CodeUnknownError:
		return "UnknownError"
	case CodeWriteCanceled:
		return "WriteCanceled"
	case CodeInvalidVariantType:
		return "InvalidVariantType"
	case CodeConflictingOperationInProgress:
		return "ConflictingOperationInProgress"
	case CodeTransactionAbortedByUser:
		return "TransactionAbortedByUser"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// codeError carries a taxonomy code through the standard error interface.
type codeError struct {
	code Code
}

func (e *codeError) Error() string {
	return e.code.Message()
}

// NewCode wraps a taxonomy code as an error with a captured stack trace.
// CodeNone returns nil.
func NewCode(code Code) error {
	if code == CodeNone {
		return nil
	}
	return WithStack(&codeError{code: code})
}

// CodeOf extracts the taxonomy code from an error produced by NewCode,
// unwrapping as needed. Errors without a code map to CodeUnknownError;
// nil maps to CodeNone.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var ce *codeError
	if As(err, &ce) {
		return ce.code
	}
	return CodeUnknownError
}
