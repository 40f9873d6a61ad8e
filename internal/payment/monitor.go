// Package payment reconciles one order's QR collection session against the
// payment service: it issues the session, polls its status on a ticker and
// settles on exactly one terminal state.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chrisdamba/foodagent/internal/clock"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/transport"
	"github.com/lucsky/cuid"
	"golang.org/x/sync/semaphore"
)

const DefaultPollInterval = 5 * time.Second

type State string

const (
	StateIdle       State = "idle"
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateExpired
}

// Snapshot is a copy of the monitor state; it never aliases monitor memory.
type Snapshot struct {
	OrderID       string
	State         State
	Session       *models.PaymentSession
	DisplayAmount string
	LastError     error
	Polling       bool
	Checks        int
	SkippedTicks  int
	LastCheckedAt time.Time
	At            time.Time
}

// Remaining is the time left on the current session at the snapshot instant.
func (s Snapshot) Remaining() time.Duration {
	if s.Session == nil {
		return 0
	}
	return s.Session.Remaining(s.At)
}

type Monitor struct {
	sender   transport.Sender
	orderID  string
	interval time.Duration
	clock    clock.Clock
	logger   *log.Logger
	baseCtx  context.Context
	poll     *semaphore.Weighted

	// notifyMu serialises state changes with their delivery to listeners, so
	// once Stop returns no earlier change can still be in delivery.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	session   *models.PaymentSession
	lastErr   error
	gen       uint64
	cancel    context.CancelFunc
	checks    int
	skipped   int
	checkedAt time.Time
	listeners map[int]func(Snapshot)
	nextSub   int
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) {
		if clk != nil {
			m.clock = clk
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBaseContext sets the parent of every poll loop context.
func WithBaseContext(ctx context.Context) Option {
	return func(m *Monitor) {
		if ctx != nil {
			m.baseCtx = ctx
		}
	}
}

func NewMonitor(sender transport.Sender, orderID string, opts ...Option) *Monitor {
	if sender == nil {
		panic("payment: nil sender")
	}
	m := &Monitor{
		sender:    sender,
		orderID:   orderID,
		interval:  DefaultPollInterval,
		clock:     clock.NewSystem(),
		logger:    log.Default(),
		baseCtx:   context.Background(),
		poll:      semaphore.NewWeighted(1),
		state:     StateIdle,
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) OrderID() string { return m.orderID }

// Subscribe registers fn for every published change and returns a function
// that removes it. fn runs synchronously and must not call mutating methods
// of the monitor.
func (m *Monitor) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DisplayAmount renders the session amount in major units, "" without a session.
func (m *Monitor) DisplayAmount() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Amount.Major()
}

type createRequest struct {
	OrderID string `json:"orderId"`
}

type createResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Payload      string                 `json:"code_payload"`
		Amount       models.Money           `json:"amount"`
		ExpiresAt    models.Timestamp       `json:"expires_at"`
		OrderDetails map[string]interface{} `json:"order_details"`
	} `json:"data"`
}

type statusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		PaymentStatus string `json:"payment_status"`
		QRExpired     bool   `json:"qr_expired"`
	} `json:"data"`
}

// Generate issues the first session for the order. Only valid from Idle.
func (m *Monitor) Generate(ctx context.Context) error {
	return m.issue(ctx, models.EventGeneratePayment, func(s State) bool { return s == StateIdle })
}

// Regenerate supersedes an expired or failed session with a new one. The
// previous session's loop is stopped before the new one is requested.
func (m *Monitor) Regenerate(ctx context.Context) error {
	return m.issue(ctx, models.EventRegeneratePayment, func(s State) bool {
		return s == StateExpired || s == StateFailed
	})
}

func (m *Monitor) issue(ctx context.Context, op string, allowed func(State) bool) error {
	var (
		g   uint64
		err error
	)
	m.step(func() bool {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s for order %s: %w", op, m.orderID, ctxErr)
			return false
		}
		if !allowed(m.state) {
			err = fmt.Errorf("%s from %s: %w", op, m.state, models.ErrInvalidTransition)
			return false
		}
		m.stopLoopLocked()
		g = m.gen
		m.state = StatePending
		m.session = nil
		m.lastErr = nil
		m.checks, m.skipped = 0, 0
		m.checkedAt = time.Time{}
		return true
	})
	if err != nil {
		return err
	}

	var resp createResponse
	sendErr := m.sender.Send(ctx, http.MethodPost, transport.PaymentSessionPath(), createRequest{OrderID: m.orderID}, &resp)
	if sendErr == nil && strings.TrimSpace(resp.Data.Payload) == "" {
		sendErr = errors.New("payment service returned an empty code payload")
	}
	if sendErr != nil {
		sendErr = fmt.Errorf("%s for order %s: %w", op, m.orderID, sendErr)
		m.step(func() bool {
			if m.gen != g || m.state != StatePending {
				return false
			}
			m.state = StateIdle
			m.lastErr = sendErr
			return true
		})
		m.logger.Printf("Failed to create payment session for order %s: %v", m.orderID, sendErr)
		return sendErr
	}

	now := m.clock.Now()
	session := &models.PaymentSession{
		ID:           cuid.New(),
		OrderID:      m.orderID,
		Payload:      resp.Data.Payload,
		Amount:       resp.Data.Amount,
		ExpiresAt:    resp.Data.ExpiresAt.UTC(),
		Status:       models.PaymentStatusPending,
		CreatedAt:    now,
		OrderDetails: resp.Data.OrderDetails,
	}

	applied := false
	m.step(func() bool {
		if m.gen != g || m.state != StatePending {
			return false
		}
		m.session = session
		m.state = StateProcessing
		m.startLoopLocked()
		applied = true
		return true
	})
	if !applied {
		m.logger.Printf("Discarded payment session for order %s: superseded while in flight", m.orderID)
		return nil
	}
	m.logger.Printf("Payment session %s for order %s: %s due, expires %s",
		session.ID, m.orderID, session.Amount.Major(), session.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Resume restarts polling for a Processing session whose loop was stopped,
// e.g. after the session guard fired and the credential was renewed.
func (m *Monitor) Resume() error {
	var err error
	m.step(func() bool {
		if m.state != StateProcessing || m.session == nil {
			err = fmt.Errorf("resume from %s: %w", m.state, models.ErrNoActiveSession)
			return false
		}
		if m.cancel != nil {
			return false
		}
		m.lastErr = nil
		m.startLoopLocked()
		return true
	})
	return err
}

// Stop halts polling. A session still being created is abandoned and the
// monitor falls back to Idle; any other state is kept.
func (m *Monitor) Stop() {
	m.step(func() bool {
		wasPolling := m.cancel != nil
		m.stopLoopLocked()
		if m.state == StatePending {
			m.state = StateIdle
			return true
		}
		return wasPolling
	})
}

// Reset stops polling and forgets the session.
func (m *Monitor) Reset() {
	m.step(func() bool {
		m.stopLoopLocked()
		m.state = StateIdle
		m.session = nil
		m.lastErr = nil
		m.checks, m.skipped = 0, 0
		m.checkedAt = time.Time{}
		return true
	})
}

// ConfirmManually records a payment the agent collected outside the QR flow.
// It is accepted from any non-terminal state and settles on Succeeded.
func (m *Monitor) ConfirmManually(ctx context.Context, method, note string) error {
	var err error
	m.step(func() bool {
		if m.state.Terminal() {
			err = fmt.Errorf("confirm payment from %s: %w", m.state, models.ErrInvalidTransition)
		}
		return false
	})
	if err != nil {
		return err
	}

	if err := Confirm(ctx, m.sender, m.orderID, method, note); err != nil {
		if !errors.Is(err, models.ErrMissingPaymentInfo) {
			m.step(func() bool {
				m.lastErr = err
				return true
			})
		}
		return err
	}

	m.step(func() bool {
		if m.state.Terminal() {
			m.logger.Printf("Manual payment for order %s confirmed after session settled as %s", m.orderID, m.state)
			return false
		}
		m.stopLoopLocked()
		m.state = StateSucceeded
		m.lastErr = nil
		if m.session != nil {
			m.session.Status = models.PaymentStatusSucceeded
		}
		return true
	})
	return nil
}

type confirmRequest struct {
	PaymentMethod string `json:"paymentMethod"`
	Notes         string `json:"notes"`
}

// Confirm tells the service the order was paid by method. It needs no
// session, which makes it usable for cash-on-delivery orders.
func Confirm(ctx context.Context, sender transport.Sender, orderID, method, note string) error {
	if strings.TrimSpace(orderID) == "" {
		return models.ErrInvalidOrderID
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return models.ErrMissingPaymentInfo
	}
	body := confirmRequest{PaymentMethod: method, Notes: note}
	if err := sender.Send(ctx, http.MethodPost, transport.ManualPaymentPath(orderID), body, nil); err != nil {
		return fmt.Errorf("confirm payment for order %s: %w", orderID, err)
	}
	return nil
}

func (m *Monitor) startLoopLocked() {
	m.gen++
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancel = cancel
	go m.loop(ctx, m.gen, m.clock.NewTicker(m.interval))
}

// stopLoopLocked invalidates every outstanding loop and request.
func (m *Monitor) stopLoopLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) loop(ctx context.Context, g uint64, ticker clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.tick(ctx, g)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, g uint64) {
	if !m.poll.TryAcquire(1) {
		m.mu.Lock()
		if m.gen == g {
			m.skipped++
		}
		m.mu.Unlock()
		m.logger.Printf("Skipped payment status check for order %s: previous check still running", m.orderID)
		return
	}
	go func() {
		defer m.poll.Release(1)
		m.check(ctx, g)
	}()
}

func (m *Monitor) check(ctx context.Context, g uint64) {
	var resp statusResponse
	err := m.sender.Send(ctx, http.MethodGet, transport.PaymentStatusPath(m.orderID), nil, &resp)
	now := m.clock.Now()

	m.step(func() bool {
		if m.gen != g || m.state != StateProcessing {
			return false
		}
		m.checks++
		m.checkedAt = now
		expired := m.session.Expired(now)

		if err != nil {
			m.lastErr = err
			switch {
			case errors.Is(err, models.ErrSessionExpired):
				m.logger.Printf("Stopped polling payment for order %s: %v", m.orderID, err)
				m.stopLoopLocked()
			case expired:
				m.settleLocked(StateExpired, models.PaymentStatusExpired)
			default:
				m.logger.Printf("Payment status check for order %s failed: %v", m.orderID, err)
			}
			return true
		}

		m.lastErr = nil
		status := models.ParsePaymentStatus(resp.Data.PaymentStatus)
		switch {
		case status == models.PaymentStatusSucceeded:
			m.settleLocked(StateSucceeded, status)
		case status == models.PaymentStatusFailed:
			m.settleLocked(StateFailed, status)
		case resp.Data.QRExpired, status == models.PaymentStatusExpired, expired:
			m.settleLocked(StateExpired, models.PaymentStatusExpired)
		default:
			m.session.Status = status
		}
		return true
	})
}

func (m *Monitor) settleLocked(state State, status models.PaymentStatus) {
	m.stopLoopLocked()
	m.state = state
	m.session.Status = status
	m.logger.Printf("Payment for order %s settled as %s", m.orderID, state)
}

// step applies fn under the state lock and, when fn reports a change,
// delivers the resulting snapshot to listeners before returning.
func (m *Monitor) step(fn func() bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if !fn() {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (m *Monitor) snapshotLocked() Snapshot {
	s := Snapshot{
		OrderID:       m.orderID,
		State:         m.state,
		LastError:     m.lastErr,
		Polling:       m.cancel != nil,
		Checks:        m.checks,
		SkippedTicks:  m.skipped,
		LastCheckedAt: m.checkedAt,
		At:            m.clock.Now(),
	}
	if m.session != nil {
		cp := *m.session
		if cp.OrderDetails != nil {
			details := make(map[string]interface{}, len(cp.OrderDetails))
			for k, v := range cp.OrderDetails {
				details[k] = v
			}
			cp.OrderDetails = details
		}
		s.Session = &cp
		s.DisplayAmount = cp.Amount.Major()
	}
	return s
}
