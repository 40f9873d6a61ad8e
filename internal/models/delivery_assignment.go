package models

import "time"

// DeliveryAssignment is the client projection of an order this agent owns.
type DeliveryAssignment struct {
	OrderID     string     `json:"order_id"`
	AgentID     string     `json:"agent_id"`
	ClaimedAt   time.Time  `json:"claimed_at"`
	LocalStatus OrderState `json:"local_status"` // may lag the server
}
