// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorForbidden     = "FORBIDDEN"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 故事相关错误
	ErrorSessionNotFound   = "SESSION_NOT_FOUND"
	ErrorChoiceInvalid     = "CHOICE_INVALID"
	ErrorStoryUnsupported  = "UNSUPPORTED_FORMAT"
	ErrorStoryFileNotFound = "FILE_NOT_FOUND"
	ErrorSectionUnresolved = "UNRESOLVED_SECTION_TARGET"

	// 编译和引擎
	ErrorCompilerMissing   = "COMPILER_NOT_FOUND"
	ErrorCompileFailed     = "COMPILATION_FAILED"
	ErrorCompileTimeout    = "COMPILER_TIMEOUT"
	ErrorEngineUnavailable = "ENGINE_UNAVAILABLE"
)

var errorCodes = map[apperrors.ErrorType]string{
	apperrors.ErrorTypeNotFound:          ErrorSessionNotFound,
	apperrors.ErrorTypeValidation:        ErrorChoiceInvalid,
	apperrors.ErrorTypeUnsupportedFormat: ErrorStoryUnsupported,
	apperrors.ErrorTypeFileNotFound:      ErrorStoryFileNotFound,
	apperrors.ErrorTypeUnresolvedTarget:  ErrorSectionUnresolved,
	apperrors.ErrorTypeCompilerNotFound:  ErrorCompilerMissing,
	apperrors.ErrorTypeCompilationFailed: ErrorCompileFailed,
	apperrors.ErrorTypeCompilerTimeout:   ErrorCompileTimeout,
	apperrors.ErrorTypeEngineUnavailable: ErrorEngineUnavailable,
}

var errorStatus = map[apperrors.ErrorType]int{
	apperrors.ErrorTypeNotFound:          http.StatusNotFound,
	apperrors.ErrorTypeFileNotFound:      http.StatusNotFound,
	apperrors.ErrorTypeValidation:        http.StatusBadRequest,
	apperrors.ErrorTypeUnsupportedFormat: http.StatusUnsupportedMediaType,
	apperrors.ErrorTypeUnresolvedTarget:  http.StatusUnprocessableEntity,
	apperrors.ErrorTypeCompilationFailed: http.StatusUnprocessableEntity,
	apperrors.ErrorTypeCompilerNotFound:  http.StatusServiceUnavailable,
	apperrors.ErrorTypeCompilerTimeout:   http.StatusGatewayTimeout,
	apperrors.ErrorTypeEngineUnavailable: http.StatusServiceUnavailable,
}

func codeFor(err error) string {
	if code, ok := errorCodes[apperrors.TypeOf(err)]; ok {
		return code
	}
	return ErrorInternalError
}

func statusFor(err error) int {
	if status, ok := errorStatus[apperrors.TypeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
