package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// Canonical error codes used across the payment engine. Services attach a
// code; the HTTP layer renders it without inspecting message text.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	CodeGatewayRejected    = "GATEWAY_REJECTED"
	CodeBadRequest         = "BAD_REQUEST"
)

// NotFoundError marks a missing booking or payment.
func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, nil)
}

// ConflictError marks a state conflict (duplicate payment, wrong status).
func ConflictError(message string) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, nil)
}

// InvalidSignatureError marks forged or tampered input.
func InvalidSignatureError() *AppError {
	return NewAppError(CodeInvalidSignature, "signature verification failed", http.StatusBadRequest, nil)
}

// InvalidAmountError marks an out-of-range monetary value.
func InvalidAmountError(message string) *AppError {
	return NewAppError(CodeInvalidAmount, message, http.StatusBadRequest, nil)
}

// GatewayUnavailableError marks a transient upstream failure; safe to retry.
func GatewayUnavailableError(err error) *AppError {
	return NewAppError(CodeGatewayUnavailable, "payment gateway unavailable", http.StatusBadGateway, err)
}

// GatewayRejectedError marks a business rejection by the gateway.
func GatewayRejectedError(err error) *AppError {
	return NewAppError(CodeGatewayRejected, "payment gateway rejected the request", http.StatusBadRequest, err)
}

// RenderError writes err as the canonical JSON error shape, mapping AppError
// codes to their HTTP status and everything else to 500.
func RenderError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
