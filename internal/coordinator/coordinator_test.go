package coordinator

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/chrisdamba/foodagent/internal/clock"
	"github.com/chrisdamba/foodagent/internal/factories"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/orders"
	"github.com/chrisdamba/foodagent/internal/payment"
	"github.com/chrisdamba/foodagent/internal/session"
	"github.com/chrisdamba/foodagent/internal/transport"
	"github.com/chrisdamba/foodagent/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentID = "agent-me"

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Record(e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) paymentChanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == models.EventPaymentStateChanged {
			out = append(out, e.From+">"+e.To)
		}
	}
	return out
}

type fixture struct {
	clk      *clock.Manual
	svc      *transporttest.Service
	ctrl     *orders.Controller
	coord    *Coordinator
	journal  *recorder
	order    models.Order
	monitors int
}

func newFixture(t *testing.T, paymentType models.PaymentType) *fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	f := &fixture{
		clk:     clock.NewManual(time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)),
		journal: &recorder{},
	}
	f.svc = transporttest.New(t, f.clk, agentID)

	factory := &factories.OrderFactory{}
	f.order = factory.CreateOrderWithTotal(paymentType, 50000)
	f.svc.AddOrder(f.order, "482913")

	guard := session.NewGuard(session.NewMemoryStore(""), session.WithGuardLogger(quiet))
	sender := guard.Wrap(transport.NewClient(f.svc.URL, guard, transport.WithLogger(quiet)))
	f.ctrl = orders.NewController(sender, agentID,
		orders.WithClock(f.clk),
		orders.WithLogger(quiet),
		orders.WithTransitionHook(TransitionRecorder(f.journal)),
	)
	_, err := f.ctrl.Claim(context.Background(), f.order.ID)
	require.NoError(t, err)

	newMonitor := func(orderID string) *payment.Monitor {
		f.monitors++
		return payment.NewMonitor(sender, orderID, payment.WithClock(f.clk), payment.WithLogger(quiet))
	}
	f.coord = New(f.order, f.ctrl, sender, newMonitor, WithJournal(f.journal), WithLogger(quiet))
	t.Cleanup(f.coord.Close)
	return f
}

func TestDeliveryStopsPaymentPolling(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	ctx := context.Background()

	require.NoError(t, f.coord.BeginCollection(ctx))
	view := f.coord.CurrentOrderState()
	require.NotNil(t, view.Payment)
	assert.Equal(t, payment.StateProcessing, view.Payment.State)
	assert.Equal(t, "500.00", view.Payment.DisplayAmount)

	require.NoError(t, f.coord.RequestDeliveryConfirmation(ctx, "482913"))
	view = f.coord.CurrentOrderState()
	assert.Equal(t, models.OrderStateDelivered, view.State)
	assert.Nil(t, view.Assignment)
	require.NotNil(t, view.Payment)
	assert.False(t, view.Payment.Polling)
	assert.Equal(t, payment.StateProcessing, view.Payment.State)

	require.Eventually(t, func() bool { return f.clk.Tickers() == 0 }, time.Second, time.Millisecond)
	f.clk.Advance(30 * time.Second)
	assert.Equal(t, 0, f.svc.Calls(transporttest.RoutePaymentStatus))
	assert.Contains(t, f.journal.types(), models.EventDeliverOrder)
}

func TestDeliveryIsNotBlockedByPayment(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	require.NoError(t, f.coord.RequestDeliveryConfirmation(context.Background(), "482913"))
	view := f.coord.CurrentOrderState()
	assert.Equal(t, models.OrderStateDelivered, view.State)
	assert.Nil(t, view.Payment)
	assert.Equal(t, 0, f.monitors)
}

func TestRejectedOTPKeepsCollectionRunning(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	ctx := context.Background()
	require.NoError(t, f.coord.BeginCollection(ctx))

	require.Error(t, f.coord.RequestDeliveryConfirmation(ctx, "000000"))
	view := f.coord.CurrentOrderState()
	assert.Equal(t, models.OrderStateAssignedToMe, view.State)
	assert.True(t, view.Payment.Polling)
}

func TestCashOnDeliveryNeverCreatesMonitor(t *testing.T) {
	f := newFixture(t, models.PaymentTypeCashOnDelivery)
	ctx := context.Background()

	err := f.coord.BeginCollection(ctx)
	require.ErrorIs(t, err, models.ErrCashOnDelivery)
	assert.Equal(t, 0, f.monitors)
	assert.Nil(t, f.coord.CurrentOrderState().Payment)
	assert.Equal(t, 0, f.svc.Calls(transporttest.RouteCreatePayment))

	require.NoError(t, f.coord.ConfirmPayment(ctx, models.PaymentMethodCash, "exact change"))
	p, ok := f.svc.Payment(f.order.ID)
	require.True(t, ok)
	assert.Equal(t, models.PaymentMethodCash, p.Method)
	assert.Equal(t, 0, f.monitors)
	assert.Contains(t, f.journal.types(), models.EventConfirmPaymentManually)
}

func TestBeginCollection_Dispatch(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	ctx := context.Background()

	require.NoError(t, f.coord.BeginCollection(ctx))
	first := f.coord.CurrentOrderState().Payment.Session.ID

	// already processing: resumes without a new session
	require.NoError(t, f.coord.BeginCollection(ctx))
	assert.Equal(t, 1, f.svc.Calls(transporttest.RouteCreatePayment))

	f.coord.CancelCollection()
	assert.False(t, f.coord.CurrentOrderState().Payment.Polling)
	require.NoError(t, f.coord.BeginCollection(ctx))
	assert.True(t, f.coord.CurrentOrderState().Payment.Polling)

	f.clk.Advance(125 * time.Second)
	require.Eventually(t, func() bool {
		return f.coord.CurrentOrderState().Payment.State == payment.StateExpired
	}, time.Second, time.Millisecond)

	require.NoError(t, f.coord.BeginCollection(ctx))
	view := f.coord.CurrentOrderState()
	assert.Equal(t, payment.StateProcessing, view.Payment.State)
	assert.NotEqual(t, first, view.Payment.Session.ID)
	assert.Equal(t, 2, f.svc.Calls(transporttest.RouteCreatePayment))
	assert.Equal(t, 1, f.monitors)

	assert.Equal(t, []string{"idle>pending", "pending>processing", "processing>expired", "expired>pending", "pending>processing"},
		f.journal.paymentChanges())
	assert.Contains(t, f.journal.types(), models.EventRegeneratePayment)
	assert.Contains(t, f.journal.types(), models.EventCollectionCancelled)
}

func TestBeginCollection_SucceededIsNoop(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	ctx := context.Background()
	require.NoError(t, f.coord.BeginCollection(ctx))
	require.NoError(t, f.coord.ConfirmPayment(ctx, models.PaymentMethodUPI, ""))
	assert.Equal(t, payment.StateSucceeded, f.coord.CurrentOrderState().Payment.State)

	require.NoError(t, f.coord.BeginCollection(ctx))
	assert.Equal(t, 1, f.svc.Calls(transporttest.RouteCreatePayment))
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	o, err := f.coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStateAssignedToMe, o.Status)
	assert.Equal(t, models.Money(50000), f.coord.CurrentOrderState().Amount)
}

func TestClose(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	ctx := context.Background()
	require.NoError(t, f.coord.BeginCollection(ctx))

	f.coord.Close()
	f.coord.Close()
	view := f.coord.CurrentOrderState()
	assert.True(t, view.Closed)
	assert.False(t, view.Payment.Polling)

	assert.ErrorIs(t, f.coord.BeginCollection(ctx), models.ErrCoordinatorClosed)
	assert.ErrorIs(t, f.coord.RequestDeliveryConfirmation(ctx, "482913"), models.ErrCoordinatorClosed)
	assert.ErrorIs(t, f.coord.ConfirmPayment(ctx, "cash", ""), models.ErrCoordinatorClosed)
	_, err := f.coord.Refresh(ctx)
	assert.ErrorIs(t, err, models.ErrCoordinatorClosed)
	assert.Equal(t, models.ErrorKindCancelled, models.Classify(models.ErrCoordinatorClosed))
}

func TestCloseDuringPaymentCreationNeverStartsPolling(t *testing.T) {
	f := newFixture(t, models.PaymentTypeOnline)
	gate := f.svc.Gate(transporttest.RouteCreatePayment)
	defer close(gate)

	done := make(chan error, 1)
	go func() { done <- f.coord.BeginCollection(context.Background()) }()
	require.Eventually(t, func() bool {
		return f.svc.Calls(transporttest.RouteCreatePayment) == 1
	}, time.Second, time.Millisecond)

	f.coord.Close()
	require.ErrorIs(t, <-done, models.ErrCoordinatorClosed)

	view := f.coord.CurrentOrderState()
	require.NotNil(t, view.Payment)
	assert.Equal(t, payment.StateIdle, view.Payment.State)
	assert.False(t, view.Payment.Polling)
	assert.Equal(t, 0, f.clk.Tickers())
}
