package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeBadInput           = "BILLING_BAD_INPUT"
	ErrorCodeProviderNotFound   = "PROVIDER_NOT_FOUND"
	ErrorCodeDecryptionFailed   = "TOKEN_DECRYPTION_FAILED"
	ErrorCodeRefreshFailed      = "TOKEN_REFRESH_FAILED"
	ErrorCodeReauthRequired     = "REAUTHORIZATION_REQUIRED"
	ErrorCodeSignatureInvalid   = "WEBHOOK_SIGNATURE_INVALID"
	ErrorCodeStorageRetryable   = "STORAGE_RETRYABLE"
	ErrorCodeUnresolvableEntity = "ENTITY_UNRESOLVABLE"
	ErrorCodeRefreshInFlight    = "REFRESH_IN_FLIGHT"
	ErrorCodeConnectionPaused   = "CONNECTION_PAUSED"
	ErrorCodeInternal           = "BILLING_INTERNAL_ERROR"
)

// NewReauthorizationRequired marks a connection as needing a full OAuth
// re-authorization. Callers must not retry automatically.
func NewReauthorizationRequired(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(ErrorCodeReauthRequired),
	)
}

// NewDecryptionFailed signals corrupt or externally rotated ciphertext.
// Equivalent to an invalid credential: routes into re-authorization.
func NewDecryptionFailed(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(ErrorCodeDecryptionFailed),
	)
}

// NewSignatureInvalid rejects a webhook delivery permanently.
func NewSignatureInvalid(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(ErrorCodeSignatureInvalid),
	)
}

// NewRetryableStorage wraps a transient persistence failure so the
// upstream delivery mechanism redelivers instead of dropping the event.
func NewRetryableStorage(err error) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryExternal, "transient storage failure").
			WithTextCode(ErrorCodeStorageRetryable),
	)
}

// NewUnresolvableEntity acknowledges an event that references an object
// that cannot be found or fetched; redelivery would not help.
func NewUnresolvableEntity(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryNotFound).
			WithTextCode(ErrorCodeUnresolvableEntity),
	)
}

func NewNotFound(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryNotFound),
	)
}

func IsReauthorizationRequired(err error) bool {
	return hasTextCode(err, ErrorCodeReauthRequired) || hasTextCode(err, ErrorCodeDecryptionFailed)
}

func IsSignatureInvalid(err error) bool {
	return hasTextCode(err, ErrorCodeSignatureInvalid)
}

func IsRetryableStorage(err error) bool {
	return hasTextCode(err, ErrorCodeStorageRetryable)
}

func IsUnresolvableEntity(err error) bool {
	return hasTextCode(err, ErrorCodeUnresolvableEntity)
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return false
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.EqualFold(strings.TrimSpace(richErr.TextCode), code)
	}
	return false
}

func billingErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newBillingError(err.Error(), goerrors.CategoryNotFound, ErrorCodeProviderNotFound)
	case strings.Contains(msg, "refresh lock"), strings.Contains(msg, "lock already held"):
		return newBillingError(err.Error(), goerrors.CategoryConflict, ErrorCodeRefreshInFlight)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newBillingError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newBillingError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = billingHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBillingTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBillingTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorCodeBadInput
	case goerrors.CategoryNotFound:
		return ErrorCodeProviderNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorCodeReauthRequired
	case goerrors.CategoryConflict:
		return ErrorCodeRefreshInFlight
	case goerrors.CategoryExternal:
		return ErrorCodeStorageRetryable
	default:
		return ErrorCodeInternal
	}
}

func billingHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
