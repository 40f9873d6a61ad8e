package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Money is an amount in minor currency units. All arithmetic and comparisons
// stay in minor units; conversion to major units happens only for display.
type Money int64

// Major formats the amount as units/100 with two decimals.
func (m Money) Major() string {
	v := uint64(m)
	sign := ""
	if m < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// UnmarshalJSON accepts integral JSON numbers and numeric strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q is not in minor units: %w", s, err)
	}
	*m = Money(v)
	return nil
}

// Timestamp decodes RFC3339 strings or unix epochs (seconds or milliseconds).
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		t.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = fromEpoch(n)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", raw, err)
	}
	t.Time = fromEpoch(n)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func fromEpoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// PaymentSession is one time-boxed collection attempt for an order.
type PaymentSession struct {
	ID           string                 `json:"id"` // local, replaced on regeneration
	OrderID      string                 `json:"order_id"`
	Payload      string                 `json:"code_payload"`
	Amount       Money                  `json:"amount"`
	ExpiresAt    time.Time              `json:"expires_at"`
	Status       PaymentStatus          `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	OrderDetails map[string]interface{} `json:"order_details,omitempty"`
}

// Expired reports whether the session deadline has passed at now.
func (p PaymentSession) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Remaining is the time left before expiry, never negative.
func (p PaymentSession) Remaining(now time.Time) time.Duration {
	if p.ExpiresAt.IsZero() || !now.Before(p.ExpiresAt) {
		return 0
	}
	return p.ExpiresAt.Sub(now)
}

// ParsePaymentStatus normalises the service's payment status vocabulary.
func ParsePaymentStatus(s string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "success", "paid", "completed", "captured":
		return PaymentStatusSucceeded
	case "failed", "failure", "declined", "cancelled":
		return PaymentStatusFailed
	case "expired":
		return PaymentStatusExpired
	case "processing", "in_progress":
		return PaymentStatusProcessing
	default:
		return PaymentStatusPending
	}
}
