package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error classes reported by connectors. The class name doubles as the error
// code surfaced to callers.
const (
	ClassNetwork           = "NetworkError"
	ClassExchange          = "ExchangeError"
	ClassInsufficientFunds = "InsufficientFunds"
	ClassInvalidOrder      = "InvalidOrder"
	ClassBadSymbol         = "BadSymbol"
	ClassAuthentication    = "AuthenticationError"
	ClassPermissionDenied  = "PermissionDenied"
	ClassRateLimit         = "RateLimitExceeded"
	ClassNotSupported      = "NotSupported"
	ClassBadResponse       = "BadResponse"
	ClassRequestTimeout    = "RequestTimeout"
)

// BrokerError is a failure reported by, or while talking to, a venue.
type BrokerError struct {
	Exchange string
	Class    string
	Code     string // venue-native code, e.g. -2019 or 110007
	Message  string
	Err      error
}

func (e *BrokerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s [%s]: %s", e.Exchange, e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Exchange, e.Class, e.Message)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// NewBrokerError builds a BrokerError.
func NewBrokerError(exchange, class, code, message string) *BrokerError {
	return &BrokerError{Exchange: exchange, Class: class, Code: code, Message: message}
}

// Transport classifies errors returned by the HTTP round trip itself.
func Transport(exchange string, err error) error {
	if err == nil {
		return nil
	}
	class := ClassNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		class = ClassRequestTimeout
	}
	return &BrokerError{Exchange: exchange, Class: class, Message: err.Error(), Err: err}
}

// ClassOf returns the class of err, or ClassExchange for unclassified errors.
func ClassOf(err error) string {
	var be *BrokerError
	if errors.As(err, &be) && be.Class != "" {
		return be.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRequestTimeout
	}
	return ClassExchange
}

// Retryable reports whether repeating the request could succeed.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassNetwork, ClassRequestTimeout, ClassRateLimit, ClassBadResponse:
		return true
	}
	return false
}
