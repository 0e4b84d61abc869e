package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeStaleState        ErrorCode = "STALE_STATE"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeConcurrentBatch   ErrorCode = "CONCURRENT_BATCH"
	ErrCodeEmptyBatch        ErrorCode = "EMPTY_BATCH"
	ErrCodeDuplicateInvoice  ErrorCode = "DUPLICATE_INVOICE"
	ErrCodeFlaggedUnit       ErrorCode = "FLAGGED_UNIT"
	ErrCodeGateway           ErrorCode = "GATEWAY_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает AppError по коду, чтобы errors.Is работал с сентинелами ниже.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeEmptyBatch:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeStaleState, ErrCodeInvalidTransition,
		ErrCodeConcurrentBatch, ErrCodeDuplicateInvoice, ErrCodeFlaggedUnit:
		return http.StatusConflict
	case ErrCodeGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки, если err является AppError.
func CodeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeNotFound
}

func IsStaleState(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeStaleState
}

func IsInvalidTransition(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeInvalidTransition
}

func IsConcurrentBatch(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeConcurrentBatch
}

func IsValidation(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeValidation
}

var (
	ErrOfferNotFound       = New(ErrCodeNotFound, "оффер не найден")
	ErrContractNotFound    = New(ErrCodeNotFound, "контракт не найден")
	ErrEscrowNotFound      = New(ErrCodeNotFound, "escrow-платёж не найден")
	ErrBillingUnitNotFound = New(ErrCodeNotFound, "единица биллинга не найдена")
	ErrBatchNotFound       = New(ErrCodeNotFound, "пакет выплат не найден")
	ErrInvoiceNotFound     = New(ErrCodeNotFound, "счёт не найден")
	ErrRequestNotFound     = New(ErrCodeNotFound, "запрос на расторжение не найден")
	ErrUnauthorized        = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden           = New(ErrCodeForbidden, "недостаточно прав")
)
