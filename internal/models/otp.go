package models

import "fmt"

// OTPChallenge lives only for the duration of one confirmation call.
type OTPChallenge struct {
	OrderID string
	Code    string
}

// Validate is a format check only: length digits, nothing else.
func (c OTPChallenge) Validate(length int) error {
	if c.OrderID == "" {
		return ErrInvalidOrderID
	}
	if length <= 0 {
		length = DefaultOTPLength
	}
	if len(c.Code) != length {
		return fmt.Errorf("expected %d digits, got %d: %w", length, len(c.Code), ErrInvalidOTP)
	}
	for _, r := range c.Code {
		if r < '0' || r > '9' {
			return fmt.Errorf("non-digit %q: %w", r, ErrInvalidOTP)
		}
	}
	return nil
}
