// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation_error"
	ErrorTypeError             ErrorType = "processing_error"
	ErrorTypeFileNotFound      ErrorType = "file_not_found"
	ErrorTypeUnsupportedFormat ErrorType = "unsupported_format"
	ErrorTypeCompilerNotFound  ErrorType = "compiler_not_found"
	ErrorTypeCompilationFailed ErrorType = "compilation_failed"
	ErrorTypeCompilerTimeout   ErrorType = "compiler_timeout"
	ErrorTypeInvalidSaveFile   ErrorType = "invalid_save_file"
	ErrorTypeRestoreFailed     ErrorType = "restore_failed"
	ErrorTypeUnresolvedTarget  ErrorType = "unresolved_section_target"
	ErrorTypeEngineUnavailable ErrorType = "engine_unavailable"
	ErrorTypeNotFound          ErrorType = "not_found"
)

// AppError is the error every command handler reports to the user.
// Message is the user-facing text; Err keeps the collaborator's diagnostic.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
	// Detail carries extended diagnostics (captured compiler output etc.)
	Detail string
}

// Error implements error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError with a code derived from its type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// WithDetail attaches extended diagnostics shown in verbose mode.
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewFileNotFoundError(path string, originalError error) *AppError {
	return NewAppError(ErrorTypeFileNotFound, fmt.Sprintf("file not found: %s", path), originalError)
}

// NewUnsupportedFormatError lists the supported extensions in its message.
func NewUnsupportedFormatError(path string, supported []string) *AppError {
	return NewAppError(ErrorTypeUnsupportedFormat,
		fmt.Sprintf("unsupported file format: %s (supported: %v)", path, supported), nil)
}

func NewCompilerNotFoundError(searched []string) *AppError {
	return NewAppError(ErrorTypeCompilerNotFound,
		fmt.Sprintf("inklecate compiler not found (searched %d locations)", len(searched)), nil)
}

func NewCompilationFailedError(input string, originalError error, output string) *AppError {
	return NewAppError(ErrorTypeCompilationFailed,
		fmt.Sprintf("compilation of %s failed", input), originalError).WithDetail(output)
}

func NewCompilerTimeoutError(input string, originalError error) *AppError {
	return NewAppError(ErrorTypeCompilerTimeout,
		fmt.Sprintf("compiler timed out on %s", input), originalError)
}

func NewInvalidSaveFileError(path string, originalError error) *AppError {
	return NewAppError(ErrorTypeInvalidSaveFile, fmt.Sprintf("invalid save file: %s", path), originalError)
}

func NewRestoreFailedError(path string, originalError error) *AppError {
	return NewAppError(ErrorTypeRestoreFailed, fmt.Sprintf("could not restore session from %s", path), originalError)
}

func NewUnresolvedTargetError(from, target string) *AppError {
	return NewAppError(ErrorTypeUnresolvedTarget,
		fmt.Sprintf("section %q points to unknown section %q", from, target), nil)
}

func NewEngineUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeEngineUnavailable, message, originalError)
}

// NewNotFoundError reports a missing preview session or other named resource.
func NewNotFoundError(resource, id string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s %s not found", resource, id), nil)
}

// TypeOf returns the ErrorType of the outermost AppError in the chain, or "".
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

func IsValidationError(err error) bool   { return IsType(err, ErrorTypeValidation) }
func IsFileNotFoundError(err error) bool { return IsType(err, ErrorTypeFileNotFound) }
func IsUnsupportedFormatError(err error) bool {
	return IsType(err, ErrorTypeUnsupportedFormat)
}
func IsCompilerNotFoundError(err error) bool  { return IsType(err, ErrorTypeCompilerNotFound) }
func IsCompilationFailedError(err error) bool { return IsType(err, ErrorTypeCompilationFailed) }
func IsCompilerTimeoutError(err error) bool   { return IsType(err, ErrorTypeCompilerTimeout) }
func IsInvalidSaveFileError(err error) bool   { return IsType(err, ErrorTypeInvalidSaveFile) }
func IsRestoreFailedError(err error) bool     { return IsType(err, ErrorTypeRestoreFailed) }
func IsUnresolvedTargetError(err error) bool  { return IsType(err, ErrorTypeUnresolvedTarget) }
func IsEngineUnavailableError(err error) bool { return IsType(err, ErrorTypeEngineUnavailable) }
func IsNotFoundError(err error) bool          { return IsType(err, ErrorTypeNotFound) }

// IsCompileFallback reports whether `run` should fall back to the plain-text interpreter.
func IsCompileFallback(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeCompilerNotFound, ErrorTypeCompilationFailed, ErrorTypeCompilerTimeout, ErrorTypeEngineUnavailable:
		return true
	}
	return false
}

// generateErrorCode derives the default code of an error type.
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeFileNotFound:
		return "FILE_NOT_FOUND"
	case ErrorTypeUnsupportedFormat:
		return "UNSUPPORTED_FORMAT"
	case ErrorTypeCompilerNotFound:
		return "COMPILER_NOT_FOUND"
	case ErrorTypeCompilationFailed:
		return "COMPILATION_FAILED"
	case ErrorTypeCompilerTimeout:
		return "COMPILER_TIMEOUT"
	case ErrorTypeInvalidSaveFile:
		return "INVALID_SAVE_FILE"
	case ErrorTypeRestoreFailed:
		return "RESTORE_FAILED"
	case ErrorTypeUnresolvedTarget:
		return "UNRESOLVED_SECTION_TARGET"
	case ErrorTypeEngineUnavailable:
		return "ENGINE_UNAVAILABLE"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN_ERROR"
	}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch TypeOf(err) {
	case ErrorTypeUnsupportedFormat:
		return 0
	case ErrorTypeFileNotFound:
		return 2
	case ErrorTypeCompilerNotFound, ErrorTypeCompilationFailed, ErrorTypeCompilerTimeout:
		return 3
	case ErrorTypeInvalidSaveFile, ErrorTypeRestoreFailed:
		return 4
	default:
		return 1
	}
}

// WrapError prefixes err with message, keeping the type of an AppError.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// an AppError keeps its type and only gains a prefix
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
			Detail:  appError.Detail,
		}
	}

	return NewAppError(errType, message, err)
}

// UserMessage returns the text shown to the user; verbose adds the wrapped chain and detail.
func UserMessage(err error, verbose bool) string {
	var appError *AppError
	if !errors.As(err, &appError) {
		return err.Error()
	}
	if !verbose {
		return appError.Message
	}
	msg := appError.Error()
	if appError.Detail != "" {
		msg += "\n" + appError.Detail
	}
	return msg
}
