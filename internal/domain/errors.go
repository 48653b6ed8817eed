// Package domain holds the value types shared by every stage of the signal
// pipeline and the closed set of failures the pipeline can return.
package domain

import (
	"errors"
	"fmt"
)

// Kind names one member of the failure taxonomy.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindAuthentication Kind = "AuthenticationError"
	KindExchange       Kind = "ExchangeError"
	KindConfiguration  Kind = "ConfigurationError"
	KindNotification   Kind = "NotificationError"
	KindUnknown        Kind = "UnknownError"
)

// Error is implemented only by the failure types declared in this package,
// so a type switch over it is exhaustive.
type Error interface {
	error
	Kind() Kind
	sealed()
}

// ValidationError reports a malformed or semantically invalid signal.
type ValidationError struct {
	Message string
	Field   string
	Value   any
}

// AuthenticationError reports a passphrase mismatch.
type AuthenticationError struct {
	Message string
}

// ExchangeError reports any broker interaction failure that blocks the entry order.
type ExchangeError struct {
	Exchange string
	Message  string
	Code     string // broker error class, e.g. InsufficientFunds
	Err      error
}

// ConfigurationError reports missing or unusable process configuration.
type ConfigurationError struct {
	Message    string
	MissingKey string
}

// NotificationError reports a failed delivery to a notification sink.
// The pipeline never returns it to callers.
type NotificationError struct {
	Message string
	Err     error
}

// UnknownError wraps anything that could not be classified.
type UnknownError struct {
	Message string
	Err     error
}

func NewValidationError(message, field string, value any) *ValidationError {
	return &ValidationError{Message: message, Field: field, Value: value}
}

func NewAuthenticationError(message string) *AuthenticationError {
	return &AuthenticationError{Message: message}
}

func NewExchangeError(exchange, message, code string, err error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Message: message, Code: code, Err: err}
}

func NewConfigurationError(message, missingKey string) *ConfigurationError {
	return &ConfigurationError{Message: message, MissingKey: missingKey}
}

func NewNotificationError(message string, err error) *NotificationError {
	return &NotificationError{Message: message, Err: err}
}

func NewUnknownError(message string, err error) *UnknownError {
	return &UnknownError{Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("Validation Error: %s (field: %s)", e.Message, e.Field)
	}
	return "Validation Error: " + e.Message
}

func (e *AuthenticationError) Error() string {
	return "Authentication Error: " + e.Message
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Exchange Error [%s]: %s (code: %s)", e.Exchange, e.Message, e.Code)
	}
	return fmt.Sprintf("Exchange Error [%s]: %s", e.Exchange, e.Message)
}

func (e *ConfigurationError) Error() string {
	if e.MissingKey != "" {
		return fmt.Sprintf("Configuration Error: %s (missing: %s)", e.Message, e.MissingKey)
	}
	return "Configuration Error: " + e.Message
}

func (e *NotificationError) Error() string {
	return "Notification Error: " + e.Message
}

func (e *UnknownError) Error() string {
	return "Unknown Error: " + e.Message
}

func (e *ExchangeError) Unwrap() error     { return e.Err }
func (e *NotificationError) Unwrap() error { return e.Err }
func (e *UnknownError) Unwrap() error      { return e.Err }

func (*ValidationError) Kind() Kind     { return KindValidation }
func (*AuthenticationError) Kind() Kind { return KindAuthentication }
func (*ExchangeError) Kind() Kind       { return KindExchange }
func (*ConfigurationError) Kind() Kind  { return KindConfiguration }
func (*NotificationError) Kind() Kind   { return KindNotification }
func (*UnknownError) Kind() Kind        { return KindUnknown }

func (*ValidationError) sealed()     {}
func (*AuthenticationError) sealed() {}
func (*ExchangeError) sealed()       {}
func (*ConfigurationError) sealed()  {}
func (*NotificationError) sealed()   {}
func (*UnknownError) sealed()        {}

// From classifies err into the taxonomy. Errors that already carry a domain
// failure anywhere in their chain keep it; everything else becomes UnknownError.
func From(err error) Error {
	if err == nil {
		return nil
	}
	var de Error
	if errors.As(err, &de) {
		return de
	}
	return NewUnknownError(err.Error(), err)
}

// KindOf returns the taxonomy kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind()
}

// IsClientError reports whether the failure was caused by the request itself
// rather than by the service or its collaborators.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuthentication:
		return true
	}
	return false
}
