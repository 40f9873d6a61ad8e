package models

// OrderState is the client-side view of an order's lifecycle.
type OrderState string

const (
	OrderStateUnclaimed       OrderState = "unclaimed"
	OrderStateAssignedToMe    OrderState = "assigned_to_me"
	OrderStateAssignedToOther OrderState = "assigned_to_other"
	OrderStateOutForDelivery  OrderState = "out_for_delivery"
	OrderStateDelivered       OrderState = "delivered"
	OrderStateCancelled       OrderState = "cancelled"
	// OrderStateRemoved is client-local: the agent ignored the order.
	OrderStateRemoved OrderState = "removed"
)

// remote statuses as reported by the order service
const (
	RemoteStatusPending        = "pending"
	RemoteStatusUnassigned     = "unassigned"
	RemoteStatusUnclaimed      = "unclaimed"
	RemoteStatusAssigned       = "assigned"
	RemoteStatusAccepted       = "accepted"
	RemoteStatusPickedUp       = "picked_up"
	RemoteStatusOutForDelivery = "out_for_delivery"
	RemoteStatusInTransit      = "in_transit"
	RemoteStatusDelivered      = "delivered"
	RemoteStatusCancelled      = "cancelled"
)

type PaymentType string

const (
	PaymentTypeCashOnDelivery PaymentType = "cod"
	PaymentTypeOnline         PaymentType = "online"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusExpired    PaymentStatus = "expired"
)

// Terminal reports whether the session can no longer change without regeneration.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed || s == PaymentStatusExpired
}

const (
	PaymentMethodCash   = "cash"
	PaymentMethodUPI    = "upi"
	PaymentMethodManual = "manual"
)

const DefaultOTPLength = 6
