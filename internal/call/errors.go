package call

import (
	"errors"
	"fmt"
)

// CallError is a classified call failure.
type CallError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeInvalidEndpoint   = "INVALID_ENDPOINT"
	ErrCodePunchFailed       = "PUNCH_FAILED"
	ErrCodeNoTranscoder      = "NO_TRANSCODER"
	ErrCodeSpawnFailed       = "SPAWN_FAILED"
	ErrCodeUnexpectedExit    = "UNEXPECTED_EXIT"
	ErrCodeNegotiationFailed = "NEGOTIATION_FAILED"
	ErrCodeCallInProgress    = "CALL_IN_PROGRESS"
	ErrCodeCallNotFound      = "CALL_NOT_FOUND"
	ErrCodeInvalidState      = "INVALID_STATE"
)

// NewCallError creates a new call error
func NewCallError(code, message string, cause error) *CallError {
	return &CallError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Code returns the CallError code in err's chain, or "".
func Code(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
