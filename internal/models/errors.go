package models

import (
	"context"
	"errors"
)

var (
	ErrInvalidOrderID     = errors.New("invalid order id")
	ErrInvalidOTP         = errors.New("invalid otp")
	ErrInconsistentOrder  = errors.New("order ownership inconsistent with status")
	ErrConflict           = errors.New("order already claimed elsewhere")
	ErrInFlight           = errors.New("request already in flight")
	ErrSessionExpired     = errors.New("session expired")
	ErrCashOnDelivery     = errors.New("cash on delivery order has no payment session")
	ErrInvalidTransition  = errors.New("invalid payment state transition")
	ErrNoActiveSession    = errors.New("no active payment session")
	ErrPaymentExpired     = errors.New("payment session expired")
	ErrCoordinatorClosed  = errors.New("delivery coordinator closed")
	ErrMissingPaymentInfo = errors.New("payment method required")
)

// ConflictError carries the server message for a claim that lost the race.
type ConflictError struct {
	OrderID string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return "order " + e.OrderID + ": " + ErrConflict.Error()
	}
	return "order " + e.OrderID + ": " + ErrConflict.Error() + ": " + e.Message
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindAuth       ErrorKind = "auth"
	ErrorKindConflict   ErrorKind = "conflict"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindExpiry     ErrorKind = "expiry"
	ErrorKindBusy       ErrorKind = "busy"
	ErrorKindCancelled  ErrorKind = "cancelled"
	ErrorKindTransient  ErrorKind = "transient"
)

// Classify maps an error onto the handling taxonomy presented to the agent.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrSessionExpired):
		return ErrorKindAuth
	case errors.Is(err, ErrConflict):
		return ErrorKindConflict
	case errors.Is(err, ErrInvalidOTP), errors.Is(err, ErrInvalidOrderID),
		errors.Is(err, ErrMissingPaymentInfo), errors.Is(err, ErrCashOnDelivery),
		errors.Is(err, ErrInvalidTransition):
		return ErrorKindValidation
	case errors.Is(err, ErrPaymentExpired):
		return ErrorKindExpiry
	case errors.Is(err, ErrInFlight):
		return ErrorKindBusy
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCoordinatorClosed):
		return ErrorKindCancelled
	default:
		return ErrorKindTransient
	}
}
