package models

import (
	"fmt"
	"strings"
)

type OrderItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     Money  `json:"price"` // minor units
}

type Order struct {
	ID              string      `json:"id"`
	RemoteStatus    string      `json:"status"`
	CustomerID      string      `json:"customer_id"`
	StoreID         string      `json:"store_id"`
	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shipping_address"`
	PaymentType     PaymentType `json:"payment_type"`
	TotalAmount     Money       `json:"total_amount"` // minor units
	DeliveryAgentID *string     `json:"delivery_agent_id"`

	// Status is the projection of RemoteStatus for the agent that fetched the order.
	Status OrderState `json:"-"`
}

// Project maps the service status onto the client view for agentID.
func (o Order) Project(agentID string) OrderState {
	owner := ""
	if o.DeliveryAgentID != nil {
		owner = *o.DeliveryAgentID
	}
	switch strings.ToLower(strings.TrimSpace(o.RemoteStatus)) {
	case RemoteStatusDelivered:
		return OrderStateDelivered
	case RemoteStatusCancelled:
		return OrderStateCancelled
	case RemoteStatusPickedUp, RemoteStatusOutForDelivery, RemoteStatusInTransit:
		if owner != "" && owner != agentID {
			return OrderStateAssignedToOther
		}
		return OrderStateOutForDelivery
	case string(OrderStateAssignedToMe):
		return OrderStateAssignedToMe
	case string(OrderStateAssignedToOther):
		return OrderStateAssignedToOther
	}
	// assigned, accepted, pending and anything unknown resolve on ownership alone
	switch {
	case owner == "":
		return OrderStateUnclaimed
	case owner == agentID:
		return OrderStateAssignedToMe
	default:
		return OrderStateAssignedToOther
	}
}

// Owned reports whether the state requires a delivery-agent reference.
func (s OrderState) Owned() bool {
	switch s {
	case OrderStateAssignedToMe, OrderStateAssignedToOther, OrderStateOutForDelivery, OrderStateDelivered:
		return true
	}
	return false
}

// Terminal reports whether no further transition happens without a new action.
func (s OrderState) Terminal() bool {
	return s == OrderStateDelivered || s == OrderStateRemoved || s == OrderStateCancelled
}

// Validate checks the ownership invariant of a projected order.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return ErrInvalidOrderID
	}
	hasAgent := o.DeliveryAgentID != nil && *o.DeliveryAgentID != ""
	if o.Status.Owned() != hasAgent {
		return fmt.Errorf("order %s in state %s with agent reference set=%t: %w", o.ID, o.Status, hasAgent, ErrInconsistentOrder)
	}
	return nil
}

// ItemCount sums item quantities.
func (o Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}
