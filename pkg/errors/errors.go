package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError.
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	// Runtime error taxonomy. These map 1:1 onto the core's recoverable vs.
	// unrecoverable propagation policy: ToolArgument/PathEscape/PolicyDeny/
	// Timeout/Transport become is_error=true tool results; Config/Sandbox
	// abort the turn.
	CodeConfig         ErrorCode = "CONFIG_ERROR"
	CodeToolArgument   ErrorCode = "TOOL_ARGUMENT_ERROR"
	CodePathEscape     ErrorCode = "PATH_ESCAPE_ERROR"
	CodePolicyDeny     ErrorCode = "POLICY_DENY"
	CodeSandboxFailure ErrorCode = "SANDBOX_FAILURE"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	CodeTransport      ErrorCode = "TRANSPORT"
)

// Recoverable reports whether errors of this code should be surfaced to the
// LLM as an is_error tool result (true) or abort the turn outright (false).
func (c ErrorCode) Recoverable() bool {
	switch c {
	case CodeToolArgument, CodePathEscape, CodePolicyDeny, CodeTimeout, CodeTransport, CodeContextOverflow:
		return true
	default:
		return false
	}
}

// AppError is the application-level error type.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError creates an invalid-input error.
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError creates an already-exists error.
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause creates an internal error wrapping a cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsInvalidInput reports whether err is an invalid-input AppError.
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// NewConfigError creates a fatal configuration error (missing/invalid knob).
func NewConfigError(message string) *AppError {
	return &AppError{Code: CodeConfig, Message: message}
}

// NewToolArgumentError creates a malformed-argument error surfaced to the LLM.
func NewToolArgumentError(message string, cause error) *AppError {
	return &AppError{Code: CodeToolArgument, Message: message, Err: cause}
}

// NewPathEscapeError creates an out-of-root path error. hint, when non-empty,
// suggests the tool the caller should have used instead (e.g. write_output).
func NewPathEscapeError(path, root, hint string) *AppError {
	msg := fmt.Sprintf("path %q escapes root %q", path, root)
	if hint != "" {
		msg += ": " + hint
	}
	return &AppError{Code: CodePathEscape, Message: msg}
}

// NewPolicyDenyError creates a static-scanner/policy refusal, naming the rule ids that fired.
func NewPolicyDenyError(ruleIDs []string) *AppError {
	return &AppError{Code: CodePolicyDeny, Message: fmt.Sprintf("denied by rule(s): %v", ruleIDs)}
}

// NewSandboxFailureError creates an unrecoverable isolation failure.
func NewSandboxFailureError(message string, cause error) *AppError {
	return &AppError{Code: CodeSandboxFailure, Message: message, Err: cause}
}

// NewTimeoutError creates a wall-clock/per-call deadline error.
func NewTimeoutError(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

// NewContextOverflowError creates a token-limit rejection signal.
func NewContextOverflowError(message string) *AppError {
	return &AppError{Code: CodeContextOverflow, Message: message}
}

// NewTransportError creates a network/IPC failure to an external collaborator.
func NewTransportError(message string, cause error) *AppError {
	return &AppError{Code: CodeTransport, Message: message, Err: cause}
}

// IsCode reports whether err is an *AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
