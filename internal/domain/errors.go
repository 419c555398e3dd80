package domain

import (
	"errors"
	"fmt"
)

// Error codes returned to callers. The HTTP layer maps them to status codes.
const (
	CodeValidation          = "validation"
	CodeInsufficientBalance = "insufficient_balance"
	CodeNotFound            = "not_found"
	CodeAlreadyClaimed      = "already_claimed"
	CodeLimitExceeded       = "limit_exceeded"
	CodeSync                = "sync"
	CodeConfig              = "config"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrSync                = errors.New("sync error")
	ErrConfig              = errors.New("config error")
)

var sentinels = map[string]error{
	CodeValidation:          ErrValidation,
	CodeInsufficientBalance: ErrInsufficientBalance,
	CodeNotFound:            ErrNotFound,
	CodeAlreadyClaimed:      ErrAlreadyClaimed,
	CodeLimitExceeded:       ErrLimitExceeded,
	CodeSync:                ErrSync,
	CodeConfig:              ErrConfig,
}

// Error is a coded ledger error. errors.Is matches it against the sentinel of its code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return newError(CodeValidation, format, args...)
}

func InsufficientBalance(balance, required int64) error {
	return newError(CodeInsufficientBalance, "balance %d is below required %d", balance, required)
}

func NotFound(kind, id string) error {
	return newError(CodeNotFound, "%s %q not found", kind, id)
}

func AlreadyClaimed(format string, args ...any) error {
	return newError(CodeAlreadyClaimed, format, args...)
}

func LimitExceeded(format string, args ...any) error {
	return newError(CodeLimitExceeded, format, args...)
}

// SyncFailure wraps a transient store or network failure.
func SyncFailure(op string, err error) error {
	return &Error{Code: CodeSync, Message: op, Err: err}
}

func ConfigFailure(format string, args ...any) error {
	return newError(CodeConfig, format, args...)
}

// CodeOf returns the error code carried by err, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSync)
}
