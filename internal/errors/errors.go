// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrMarketClosed    = errors.New("market is closed")
	ErrAuthMissing     = errors.New("provider credentials missing")
	ErrNetwork         = errors.New("network error")
	ErrParse           = errors.New("unparseable provider response")
	ErrNotFound        = errors.New("symbol not found at provider")
	ErrRunInProgress   = errors.New("bulk run in progress")
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrSymbolExists    = errors.New("symbol already exists")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrInputValidation = errors.New("input validation failed")
)

// FailureKind classifies a provider failure.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	KindRateLimited
	KindMarketClosed
	KindAuthMissing
	KindNetwork
	KindParse
	KindNotFound
)

func (k FailureKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindMarketClosed:
		return "market_closed"
	case KindAuthMissing:
		return "auth_missing"
	case KindNetwork:
		return "network_error"
	case KindParse:
		return "parse_error"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error that matches the kind.
func (k FailureKind) Sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindMarketClosed:
		return ErrMarketClosed
	case KindAuthMissing:
		return ErrAuthMissing
	case KindNetwork:
		return ErrNetwork
	case KindParse:
		return ErrParse
	case KindNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// ProviderError represents a failed quote fetch.
type ProviderError struct {
	Provider string
	Symbol   string
	Kind     FailureKind
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error [%s] %s %s: %s: %v", e.Provider, e.Symbol, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("provider error [%s] %s %s: %s", e.Provider, e.Symbol, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *ProviderError) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && s == target
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, symbol string, kind FailureKind, message string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Symbol:   symbol,
		Kind:     kind,
		Message:  message,
		Err:      err,
	}
}

// KindOf extracts the failure kind from an error chain. Plain sentinels are
// recognized too.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, k := range []FailureKind{KindRateLimited, KindMarketClosed, KindAuthMissing, KindNetwork, KindParse, KindNotFound} {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	return KindUnknown
}

// NotifierError represents a failed delivery on one channel.
type NotifierError struct {
	Channel string
	Err     error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notifier error [%s]: %v", e.Channel, e.Err)
}

func (e *NotifierError) Unwrap() error {
	return e.Err
}

// NewNotifierError creates a new NotifierError.
func NewNotifierError(channel string, err error) *NotifierError {
	return &NotifierError{Channel: channel, Err: err}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
