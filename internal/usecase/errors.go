package usecase

import "fmt"

type ErrorCode string

const (
	// Hard failures, returned to the caller.
	ErrorConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	ErrorMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
	ErrorInvalidMessage   ErrorCode = "INVALID_MESSAGE"
	ErrorStorageWrite     ErrorCode = "STORAGE_WRITE_ERROR"

	// Soft failures, logged and replaced by a default value.
	ErrorStorageRead ErrorCode = "STORAGE_READ_ERROR"
	ErrorGeneration  ErrorCode = "GENERATION_ERROR"
	ErrorDelivery    ErrorCode = "DELIVERY_ERROR"
	ErrorDedup       ErrorCode = "DEDUP_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
