// Package orders tracks candidate orders and drives one agent's claims and
// deliveries against the order service. Every mutating call is issued once;
// nothing here retries on its own.
package orders

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/chrisdamba/foodagent/internal/clock"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/transport"
)

// Transition is reported for every change of an order's client state.
type Transition struct {
	OrderID string
	From    models.OrderState
	To      models.OrderState
	Event   string
	Detail  string
}

type Controller struct {
	sender       transport.Sender
	agentID      string
	otpLength    int
	clock        clock.Clock
	logger       *log.Logger
	onTransition func(Transition)

	mu          sync.Mutex
	candidates  []models.Order
	orders      map[string]models.Order
	states      map[string]models.OrderState
	assignments map[string]models.DeliveryAssignment
	inFlight    map[string]string
}

type Option func(*Controller)

func WithOTPLength(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.otpLength = n
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransitionHook registers fn to observe state changes. fn runs outside
// the controller lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

func NewController(sender transport.Sender, agentID string, opts ...Option) *Controller {
	if sender == nil {
		panic("orders: nil sender")
	}
	c := &Controller{
		sender:      sender,
		agentID:     agentID,
		otpLength:   models.DefaultOTPLength,
		clock:       clock.NewSystem(),
		logger:      log.Default(),
		orders:      make(map[string]models.Order),
		states:      make(map[string]models.OrderState),
		assignments: make(map[string]models.DeliveryAssignment),
		inFlight:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) AgentID() string { return c.agentID }

type listResponse struct {
	Success bool           `json:"success"`
	Orders  []models.Order `json:"orders"`
}

type detailResponse struct {
	Success bool         `json:"success"`
	Order   models.Order `json:"order"`
}

// ListCandidates fetches the queue in server order. Orders claimed by other
// agents stay in the list; only orders this client ignored are left out.
func (c *Controller) ListCandidates(ctx context.Context) ([]models.Order, error) {
	var resp listResponse
	if err := c.sender.Send(ctx, http.MethodGet, transport.CandidatesPath(), nil, &resp); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	var changes []Transition
	c.mu.Lock()
	candidates := make([]models.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		if c.states[o.ID] == models.OrderStateRemoved {
			continue
		}
		o.Status = o.Project(c.agentID)
		if t, ok := c.applyLocked(&o, models.EventListCandidates); ok {
			changes = append(changes, t)
		}
		candidates = append(candidates, o)
	}
	c.candidates = candidates
	out := append([]models.Order(nil), candidates...)
	c.mu.Unlock()

	c.emit(changes...)
	return out, nil
}

// Claim asks the service to assign orderID to this agent. A 404/409 answer
// is a Conflict: the candidate list is refetched and the claim is not
// retried. Other failures are returned for the agent to retry explicitly.
func (c *Controller) Claim(ctx context.Context, orderID string) (models.DeliveryAssignment, error) {
	if err := validID(orderID); err != nil {
		return models.DeliveryAssignment{}, err
	}
	if !c.begin(orderID, "claim") {
		return models.DeliveryAssignment{}, fmt.Errorf("claim %s: %w", orderID, models.ErrInFlight)
	}
	defer c.end(orderID)

	err := c.sender.Send(ctx, http.MethodPost, transport.ClaimPath(orderID), nil, nil)
	if err != nil {
		if f, ok := transport.AsFailure(err); ok && f.Conflict() {
			return models.DeliveryAssignment{}, c.conflict(ctx, orderID, f.Message)
		}
		return models.DeliveryAssignment{}, fmt.Errorf("claim %s: %w", orderID, err)
	}

	c.mu.Lock()
	a := models.DeliveryAssignment{
		OrderID:     orderID,
		AgentID:     c.agentID,
		ClaimedAt:   c.clock.Now(),
		LocalStatus: models.OrderStateAssignedToMe,
	}
	if existing, ok := c.assignments[orderID]; ok {
		a = existing
	}
	c.assignments[orderID] = a
	from := c.setStateLocked(orderID, models.OrderStateAssignedToMe)
	c.patchLocked(orderID, func(o *models.Order) {
		agent := c.agentID
		o.DeliveryAgentID = &agent
		o.RemoteStatus = models.RemoteStatusAssigned
		o.Status = models.OrderStateAssignedToMe
	})
	c.mu.Unlock()

	c.logger.Printf("Claimed order %s", orderID)
	c.emit(Transition{OrderID: orderID, From: from, To: models.OrderStateAssignedToMe, Event: models.EventClaimOrder})
	return a, nil
}

func (c *Controller) conflict(ctx context.Context, orderID, msg string) error {
	c.logger.Printf("Claim of order %s lost: %s", orderID, msg)
	state := c.State(orderID)
	c.emit(Transition{OrderID: orderID, From: state, To: state, Event: models.EventClaimConflict, Detail: msg})

	if _, err := c.ListCandidates(ctx); err != nil {
		c.logger.Printf("Failed to refresh candidates after conflict on %s: %v", orderID, err)
	}
	return &models.ConflictError{OrderID: orderID, Message: msg}
}

// Ignore drops orderID from the candidate set once the service confirms.
func (c *Controller) Ignore(ctx context.Context, orderID string) error {
	if err := validID(orderID); err != nil {
		return err
	}
	if !c.begin(orderID, "ignore") {
		return fmt.Errorf("ignore %s: %w", orderID, models.ErrInFlight)
	}
	defer c.end(orderID)

	if err := c.sender.Send(ctx, http.MethodPost, transport.IgnorePath(orderID), nil, nil); err != nil {
		return fmt.Errorf("ignore %s: %w", orderID, err)
	}

	c.mu.Lock()
	from := c.setStateLocked(orderID, models.OrderStateRemoved)
	delete(c.assignments, orderID)
	kept := c.candidates[:0]
	for _, o := range c.candidates {
		if o.ID != orderID {
			kept = append(kept, o)
		}
	}
	c.candidates = kept
	c.mu.Unlock()

	c.emit(Transition{OrderID: orderID, From: from, To: models.OrderStateRemoved, Event: models.EventIgnoreOrder})
	return nil
}

// FetchDetail is a side-effect free read; repeated calls with no mutation in
// between return equal projections.
func (c *Controller) FetchDetail(ctx context.Context, orderID string) (models.Order, error) {
	if err := validID(orderID); err != nil {
		return models.Order{}, err
	}
	var resp detailResponse
	if err := c.sender.Send(ctx, http.MethodGet, transport.OrderPath(orderID), nil, &resp); err != nil {
		return models.Order{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	o := resp.Order
	if o.ID == "" {
		o.ID = orderID
	}
	o.Status = o.Project(c.agentID)

	c.mu.Lock()
	t, changed := c.applyLocked(&o, models.EventOrderStateChanged)
	c.mu.Unlock()
	if changed {
		c.emit(t)
	}
	return o, nil
}

type confirmDeliveryRequest struct {
	OTP string `json:"otp"`
}

// ConfirmDelivery submits the recipient's code. The format is checked before
// any request; payment state is not consulted.
func (c *Controller) ConfirmDelivery(ctx context.Context, orderID, otp string) error {
	challenge := models.OTPChallenge{OrderID: orderID, Code: strings.TrimSpace(otp)}
	if err := challenge.Validate(c.otpLength); err != nil {
		return err
	}
	if !c.begin(orderID, "confirm") {
		return fmt.Errorf("confirm delivery %s: %w", orderID, models.ErrInFlight)
	}
	defer c.end(orderID)

	err := c.sender.Send(ctx, http.MethodPost, transport.ConfirmDeliveryPath(orderID), confirmDeliveryRequest{OTP: challenge.Code}, nil)
	if err != nil {
		state := c.State(orderID)
		c.emit(Transition{OrderID: orderID, From: state, To: state, Event: models.EventDeliveryRejected, Detail: err.Error()})
		return fmt.Errorf("confirm delivery %s: %w", orderID, err)
	}

	c.mu.Lock()
	from := c.setStateLocked(orderID, models.OrderStateDelivered)
	delete(c.assignments, orderID)
	c.patchLocked(orderID, func(o *models.Order) {
		o.RemoteStatus = models.RemoteStatusDelivered
		o.Status = models.OrderStateDelivered
		if o.DeliveryAgentID == nil {
			agent := c.agentID
			o.DeliveryAgentID = &agent
		}
	})
	c.mu.Unlock()

	c.logger.Printf("Delivered order %s", orderID)
	c.emit(Transition{OrderID: orderID, From: from, To: models.OrderStateDelivered, Event: models.EventDeliverOrder})
	return nil
}

// State returns the client view of orderID; unknown orders are unclaimed.
func (c *Controller) State(orderID string) models.OrderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(orderID)
}

func (c *Controller) Candidates() []models.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Order(nil), c.candidates...)
}

// Order returns the last projection seen for orderID.
func (c *Controller) Order(orderID string) (models.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	return o, ok
}

func (c *Controller) Assignment(orderID string) (models.DeliveryAssignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assignments[orderID]
	return a, ok
}

// InFlight reports whether a mutating call for orderID is outstanding, so a
// presentation layer can disable the control that triggers it.
func (c *Controller) InFlight(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[orderID]
	return ok
}

func (c *Controller) begin(orderID, op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, busy := c.inFlight[orderID]; busy {
		c.logger.Printf("Rejected %s on order %s: %s still in flight", op, orderID, current)
		return false
	}
	c.inFlight[orderID] = op
	return true
}

func (c *Controller) end(orderID string) {
	c.mu.Lock()
	delete(c.inFlight, orderID)
	c.mu.Unlock()
}

func (c *Controller) stateLocked(orderID string) models.OrderState {
	if s, ok := c.states[orderID]; ok {
		return s
	}
	return models.OrderStateUnclaimed
}

func (c *Controller) setStateLocked(orderID string, to models.OrderState) models.OrderState {
	from := c.stateLocked(orderID)
	c.states[orderID] = to
	if a, ok := c.assignments[orderID]; ok {
		a.LocalStatus = to
		c.assignments[orderID] = a
	}
	return from
}

func (c *Controller) patchLocked(orderID string, fn func(o *models.Order)) {
	if o, ok := c.orders[orderID]; ok {
		fn(&o)
		c.orders[orderID] = o
	}
	for i := range c.candidates {
		if c.candidates[i].ID == orderID {
			fn(&c.candidates[i])
		}
	}
}

// applyLocked folds a server projection into local state. Locally removed
// orders stay removed, a delivered order is not moved back by a projection
// that has not caught up, and the assignment follows the projected owner.
func (c *Controller) applyLocked(o *models.Order, event string) (Transition, bool) {
	from := c.stateLocked(o.ID)
	if from == models.OrderStateRemoved {
		return Transition{}, false
	}
	if from == models.OrderStateDelivered {
		o.Status = models.OrderStateDelivered
	}
	c.orders[o.ID] = *o
	c.setStateLocked(o.ID, o.Status)

	switch o.Status {
	case models.OrderStateAssignedToMe, models.OrderStateOutForDelivery:
		if _, ok := c.assignments[o.ID]; !ok {
			c.assignments[o.ID] = models.DeliveryAssignment{
				OrderID:     o.ID,
				AgentID:     c.agentID,
				ClaimedAt:   c.clock.Now(),
				LocalStatus: o.Status,
			}
		}
	default:
		delete(c.assignments, o.ID)
	}

	if from == o.Status {
		return Transition{}, false
	}
	return Transition{OrderID: o.ID, From: from, To: o.Status, Event: event}, true
}

func (c *Controller) emit(ts ...Transition) {
	if c.onTransition == nil {
		return
	}
	for _, t := range ts {
		c.onTransition(t)
	}
}

func validID(orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return models.ErrInvalidOrderID
	}
	return nil
}
