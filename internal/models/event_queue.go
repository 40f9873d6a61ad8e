package models

import (
	"container/heap"
	"sync"
	"time"
)

const (
	EventListCandidates         = "ListCandidates"
	EventClaimOrder             = "ClaimOrder"
	EventClaimConflict          = "ClaimConflict"
	EventIgnoreOrder            = "IgnoreOrder"
	EventOrderStateChanged      = "OrderStateChanged"
	EventDeliverOrder           = "DeliverOrder"
	EventDeliveryRejected       = "DeliveryRejected"
	EventGeneratePayment        = "GeneratePayment"
	EventRegeneratePayment      = "RegeneratePayment"
	EventPaymentStateChanged    = "PaymentStateChanged"
	EventConfirmPaymentManually = "ConfirmPaymentManually"
	EventCollectionCancelled    = "CollectionCancelled"
	EventSessionExpired         = "SessionExpired"
)

// Event is one journal record of a transition observed by the agent client.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	OrderID string    `json:"order_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Amount  Money     `json:"amount,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Topic groups events by the component that emitted them.
func (e Event) Topic() string {
	switch e.Type {
	case EventGeneratePayment, EventRegeneratePayment, EventPaymentStateChanged,
		EventConfirmPaymentManually, EventCollectionCancelled:
		return "payment_events"
	case EventSessionExpired:
		return "session_events"
	default:
		return "order_events"
	}
}

// EventQueue is a time-ordered buffer of events waiting to be flushed
type EventQueue struct {
	events []*Event
	mutex  sync.Mutex
}

// eventHeap implements heap.Interface and holds Events
type eventHeap []*Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].Time.Before(h[j].Time) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*Event))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func NewEventQueue() *EventQueue {
	return &EventQueue{events: make([]*Event, 0)}
}

func (eq *EventQueue) Enqueue(event *Event) {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()
	heap.Push((*eventHeap)(&eq.events), event)
}

func (eq *EventQueue) Len() int {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()
	return len(eq.events)
}

// DequeueBatch pops up to maxBatchSize events in time order.
func (eq *EventQueue) DequeueBatch(maxBatchSize int) []*Event {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()

	batchSize := min(maxBatchSize, len(eq.events))
	batch := make([]*Event, 0, batchSize)

	for i := 0; i < batchSize; i++ {
		event := heap.Pop((*eventHeap)(&eq.events)).(*Event)
		batch = append(batch, event)
	}

	return batch
}
