// Package coordinator binds one open order to its lifecycle controller and
// payment monitor, and exposes the combined state to the presentation layer.
// Delivery confirmation and payment collection run independently: neither
// waits for or blocks the other.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/chrisdamba/foodagent/internal/journal"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/orders"
	"github.com/chrisdamba/foodagent/internal/payment"
	"github.com/chrisdamba/foodagent/internal/transport"
)

// MonitorFactory builds the payment monitor for an order on first collection.
type MonitorFactory func(orderID string) *payment.Monitor

// View is the state shown for the open order.
type View struct {
	OrderID     string
	State       models.OrderState
	PaymentType models.PaymentType
	Amount      models.Money
	Assignment  *models.DeliveryAssignment
	Payment     *payment.Snapshot
	Closed      bool
}

type Coordinator struct {
	orderID    string
	initial    models.Order
	controller *orders.Controller
	sender     transport.Sender
	newMonitor MonitorFactory
	journal    journal.Recorder
	logger     *log.Logger

	mu          sync.Mutex
	monitor     *payment.Monitor
	unsubscribe func()
	closed      bool
	begins      map[int]context.CancelFunc
	nextBegin   int

	// guarded separately: updated from monitor listeners
	payMu       sync.Mutex
	lastPayment payment.State
}

type Option func(*Coordinator)

func WithJournal(r journal.Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.journal = r
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New opens order. sender is used for cash confirmations that need no
// monitor; newMonitor is only called for online orders.
func New(order models.Order, controller *orders.Controller, sender transport.Sender, newMonitor MonitorFactory, opts ...Option) *Coordinator {
	if controller == nil || sender == nil || newMonitor == nil {
		panic("coordinator: nil dependency")
	}
	c := &Coordinator{
		orderID:     order.ID,
		initial:     order,
		controller:  controller,
		sender:      sender,
		newMonitor:  newMonitor,
		journal:     journal.Discard,
		logger:      log.Default(),
		lastPayment: payment.StateIdle,
		begins:      make(map[int]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) OrderID() string { return c.orderID }

// CurrentOrderState combines the controller's projection with the payment
// snapshot. It performs no I/O.
func (c *Coordinator) CurrentOrderState() View {
	o := c.order()
	v := View{
		OrderID:     c.orderID,
		State:       c.controller.State(c.orderID),
		PaymentType: o.PaymentType,
		Amount:      o.TotalAmount,
	}
	if a, ok := c.controller.Assignment(c.orderID); ok {
		v.Assignment = &a
	}

	c.mu.Lock()
	m := c.monitor
	v.Closed = c.closed
	c.mu.Unlock()
	if m != nil {
		snap := m.Snapshot()
		v.Payment = &snap
	}
	return v
}

// RequestDeliveryConfirmation submits otp. On success any payment polling
// for the order stops; the payment state itself is left as it was.
func (c *Coordinator) RequestDeliveryConfirmation(ctx context.Context, otp string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.controller.ConfirmDelivery(ctx, c.orderID, otp); err != nil {
		return err
	}

	if m := c.currentMonitor(); m != nil {
		m.Stop()
	}
	return nil
}

// BeginCollection starts, restarts or resumes the QR collection for an
// online order. Cash orders never get a monitor.
func (c *Coordinator) BeginCollection(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.order().PaymentType == models.PaymentTypeCashOnDelivery {
		return fmt.Errorf("order %s: %w", c.orderID, models.ErrCashOnDelivery)
	}

	m, ctx, done, err := c.ensureMonitor(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = c.collect(ctx, m)
	if c.checkOpen() != nil {
		m.Stop()
		return models.ErrCoordinatorClosed
	}
	return err
}

func (c *Coordinator) collect(ctx context.Context, m *payment.Monitor) error {
	switch state := m.State(); state {
	case payment.StateIdle:
		c.record(models.Event{Type: models.EventGeneratePayment})
		return m.Generate(ctx)
	case payment.StateExpired, payment.StateFailed:
		c.record(models.Event{Type: models.EventRegeneratePayment, From: string(state)})
		return m.Regenerate(ctx)
	case payment.StateProcessing:
		return m.Resume()
	case payment.StatePending:
		return fmt.Errorf("collect payment for order %s: %w", c.orderID, models.ErrInFlight)
	default:
		return nil
	}
}

// CancelCollection stops polling; the session itself is not revoked.
func (c *Coordinator) CancelCollection() {
	m := c.currentMonitor()
	if m == nil {
		return
	}
	m.Stop()
	c.record(models.Event{Type: models.EventCollectionCancelled, To: string(m.State())})
}

// ConfirmPayment records a payment taken outside the QR flow.
func (c *Coordinator) ConfirmPayment(ctx context.Context, method, note string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	var err error
	if m := c.currentMonitor(); m != nil {
		err = m.ConfirmManually(ctx, method, note)
	} else {
		err = payment.Confirm(ctx, c.sender, c.orderID, method, note)
	}
	if err != nil {
		return err
	}
	c.record(models.Event{Type: models.EventConfirmPaymentManually, Detail: method, Amount: c.order().TotalAmount})
	return nil
}

// Refresh re-reads the order from the service.
func (c *Coordinator) Refresh(ctx context.Context) (models.Order, error) {
	if err := c.checkOpen(); err != nil {
		return models.Order{}, err
	}
	return c.controller.FetchDetail(ctx, c.orderID)
}

// Close stops the monitor and rejects further operations.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, cancel := range c.begins {
		cancel()
	}
	m, unsubscribe := c.monitor, c.unsubscribe
	c.mu.Unlock()

	if m != nil {
		m.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Coordinator) order() models.Order {
	if o, ok := c.controller.Order(c.orderID); ok {
		return o
	}
	return c.initial
}

func (c *Coordinator) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.ErrCoordinatorClosed
	}
	return nil
}

func (c *Coordinator) currentMonitor() *payment.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}

// ensureMonitor creates the monitor on first use and registers a begin that
// Close cancels, so a collection racing teardown never starts polling.
func (c *Coordinator) ensureMonitor(ctx context.Context) (*payment.Monitor, context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, nil, models.ErrCoordinatorClosed
	}
	if c.monitor == nil {
		c.monitor = c.newMonitor(c.orderID)
		c.unsubscribe = c.monitor.Subscribe(c.onPayment)
	}

	ctx, cancel := context.WithCancel(ctx)
	id := c.nextBegin
	c.nextBegin++
	c.begins[id] = cancel
	done := func() {
		c.mu.Lock()
		delete(c.begins, id)
		c.mu.Unlock()
		cancel()
	}
	return c.monitor, ctx, done, nil
}

// onPayment runs inside the monitor's notification and must not call back
// into the monitor or take c.mu.
func (c *Coordinator) onPayment(s payment.Snapshot) {
	c.payMu.Lock()
	from := c.lastPayment
	c.lastPayment = s.State
	c.payMu.Unlock()
	if from == s.State {
		return
	}

	e := models.Event{
		Type: models.EventPaymentStateChanged,
		From: string(from),
		To:   string(s.State),
	}
	if s.Session != nil {
		e.Amount = s.Session.Amount
		e.Detail = s.Session.ID
	}
	if s.LastError != nil {
		e.Detail = s.LastError.Error()
	}
	c.record(e)
}

func (c *Coordinator) record(e models.Event) {
	e.OrderID = c.orderID
	c.journal.Record(e)
}

// TransitionRecorder journals order transitions; pass it to
// orders.WithTransitionHook.
func TransitionRecorder(r journal.Recorder) func(orders.Transition) {
	return func(t orders.Transition) {
		r.Record(models.Event{
			Type:    t.Event,
			OrderID: t.OrderID,
			From:    string(t.From),
			To:      string(t.To),
			Detail:  t.Detail,
		})
	}
}
