package domain

import (
	"errors"
	"fmt"
)

type ErrCode string

const (
	CodeValidation         ErrCode = "validation_error"
	CodeNotFound           ErrCode = "not_found"
	CodeInvalidSignature   ErrCode = "invalid_signature"
	CodePayloadTooLarge    ErrCode = "payload_too_large"
	CodeStorageUnavailable ErrCode = "storage_unavailable"
)

// AppError is the error type surfaced to the transport layer.
// Cause is kept for logs and errors.Is/As, never rendered to clients.
type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string
	Cause   error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Meta) > 0 {
		msg = fmt.Sprintf("%s (%v)", msg, e.Meta)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

func ErrValidation(msg string) error { return &AppError{Code: CodeValidation, Message: msg} }
func ErrValidationMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeValidation, Message: msg, Meta: meta}
}
func ErrNotFound(msg string) error         { return &AppError{Code: CodeNotFound, Message: msg} }
func ErrInvalidSignature(msg string) error { return &AppError{Code: CodeInvalidSignature, Message: msg} }
func ErrPayloadTooLarge(msg string) error  { return &AppError{Code: CodePayloadTooLarge, Message: msg} }

// ErrStorageUnavailable marks a failed store round-trip. Webhook senders
// are expected to retry on the resulting 5xx.
func ErrStorageUnavailable(op string, cause error) error {
	return &AppError{Code: CodeStorageUnavailable, Message: op, Cause: cause}
}

// HasCode reports whether err is an *AppError carrying code.
func HasCode(err error, code ErrCode) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}
