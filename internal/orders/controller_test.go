package orders

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/chrisdamba/foodagent/internal/clock"
	"github.com/chrisdamba/foodagent/internal/factories"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/session"
	"github.com/chrisdamba/foodagent/internal/transport"
	"github.com/chrisdamba/foodagent/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentID = "agent-me"

type fixture struct {
	svc         *transporttest.Service
	guard       *session.Guard
	ctrl        *Controller
	transitions []Transition
	mu          sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	clk := clock.NewManual(time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC))
	f := &fixture{svc: transporttest.New(t, clk, agentID)}
	f.svc.RequireToken("tok")
	f.guard = session.NewGuard(session.NewMemoryStore("tok"), session.WithGuardLogger(quiet))
	client := transport.NewClient(f.svc.URL, f.guard, transport.WithLogger(quiet))
	f.ctrl = NewController(f.guard.Wrap(client), agentID,
		WithClock(clk),
		WithLogger(quiet),
		WithTransitionHook(func(tr Transition) {
			f.mu.Lock()
			f.transitions = append(f.transitions, tr)
			f.mu.Unlock()
		}),
	)
	return f
}

func (f *fixture) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.transitions {
		out = append(out, t.Event)
	}
	return out
}

func addOrder(f *fixture, id string) models.Order {
	factory := &factories.OrderFactory{}
	o := factory.CreateOrder(models.PaymentTypeOnline)
	o.ID = id
	f.svc.AddOrder(o, "123456")
	return o
}

func TestListCandidates_KeepsServerOrderAndOthersClaims(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "A")
	addOrder(f, "B")
	addOrder(f, "C")
	f.svc.AssignTo("B", "agent-other")

	got, err := f.ctrl.ListCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, models.OrderStateAssignedToOther, got[1].Status)
	assert.Equal(t, models.OrderStateAssignedToOther, f.ctrl.State("B"))
	assert.Equal(t, models.OrderStateUnclaimed, f.ctrl.State("A"))
	for _, o := range got {
		require.NoError(t, o.Validate())
	}
}

func TestClaim_SuccessAssignsToMe(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "A")
	_, err := f.ctrl.ListCandidates(context.Background())
	require.NoError(t, err)

	a, err := f.ctrl.Claim(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "A", a.OrderID)
	assert.Equal(t, agentID, a.AgentID)
	assert.Equal(t, models.OrderStateAssignedToMe, a.LocalStatus)
	assert.Equal(t, models.OrderStateAssignedToMe, f.ctrl.State("A"))

	for _, o := range f.ctrl.Candidates() {
		if o.ID == "A" {
			assert.Equal(t, models.OrderStateAssignedToMe, o.Status)
			require.NoError(t, o.Validate())
		}
	}
	assert.Contains(t, f.events(), models.EventClaimOrder)
}

func TestClaim_ConflictRefetchesWithoutRetry(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "B")
	_, err := f.ctrl.ListCandidates(context.Background())
	require.NoError(t, err)
	f.svc.Fail(transporttest.RouteClaim, http.StatusNotFound, "Order already assigned")

	_, err = f.ctrl.Claim(context.Background(), "B")
	require.ErrorIs(t, err, models.ErrConflict)
	var conflict *models.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "Order already assigned", conflict.Message)

	assert.Equal(t, models.OrderStateUnclaimed, f.ctrl.State("B"))
	assert.Equal(t, 1, f.svc.Calls(transporttest.RouteClaim))
	assert.Equal(t, 2, f.svc.Calls(transporttest.RouteList))
	_, ok := f.ctrl.Assignment("B")
	assert.False(t, ok)
	assert.Equal(t, models.ErrorKindConflict, models.Classify(err))
}

func TestClaim_TransientFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "A")
	f.svc.Fail(transporttest.RouteClaim, http.StatusInternalServerError, "boom")

	_, err := f.ctrl.Claim(context.Background(), "A")
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrConflict))
	assert.Equal(t, models.ErrorKindTransient, models.Classify(err))
	assert.Equal(t, 1, f.svc.Calls(transporttest.RouteClaim))
	assert.Equal(t, 0, f.svc.Calls(transporttest.RouteList))
	assert.Equal(t, models.OrderStateUnclaimed, f.ctrl.State("A"))
}

func TestClaim_UnauthorizedRaisesSessionExpiry(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "A")
	f.svc.RequireToken("other-token")

	_, err := f.ctrl.Claim(context.Background(), "A")
	require.ErrorIs(t, err, models.ErrSessionExpired)
	assert.True(t, f.guard.IsExpired())
	assert.Equal(t, models.ErrorKindAuth, models.Classify(err))
	assert.Equal(t, models.OrderStateUnclaimed, f.ctrl.State("A"))
}

func TestClaim_SequentialDoubleClaimKeepsAssignment(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "E")

	_, err := f.ctrl.Claim(context.Background(), "E")
	require.NoError(t, err)
	first, _ := f.ctrl.Assignment("E")

	_, err = f.ctrl.Claim(context.Background(), "E")
	require.ErrorIs(t, err, models.ErrConflict)

	assert.Equal(t, models.OrderStateAssignedToMe, f.ctrl.State("E"))
	second, ok := f.ctrl.Assignment("E")
	require.True(t, ok)
	assert.Equal(t, first.ClaimedAt, second.ClaimedAt)

	n := 0
	for _, o := range f.ctrl.Candidates() {
		if o.ID == "E" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestClaim_ConcurrentDoubleClaimIsGuarded(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "E")
	gate := f.svc.Gate(transporttest.RouteClaim)

	errs := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Claim(context.Background(), "E")
		errs <- err
	}()
	require.Eventually(t, func() bool { return f.ctrl.InFlight("E") }, time.Second, time.Millisecond)

	_, err := f.ctrl.Claim(context.Background(), "E")
	require.ErrorIs(t, err, models.ErrInFlight)

	close(gate)
	require.NoError(t, <-errs)
	assert.Equal(t, models.OrderStateAssignedToMe, f.ctrl.State("E"))
	assert.Equal(t, 1, f.svc.Calls(transporttest.RouteClaim))
	assert.False(t, f.ctrl.InFlight("E"))
}

func TestIgnore_RemovesOnlyAfterConfirmation(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "A")
	addOrder(f, "B")
	_, err := f.ctrl.ListCandidates(context.Background())
	require.NoError(t, err)

	f.svc.Fail(transporttest.RouteIgnore, http.StatusBadRequest, "cannot ignore")
	require.Error(t, f.ctrl.Ignore(context.Background(), "A"))
	assert.Len(t, f.ctrl.Candidates(), 2)
	assert.Equal(t, models.OrderStateUnclaimed, f.ctrl.State("A"))

	require.NoError(t, f.ctrl.Ignore(context.Background(), "A"))
	require.Len(t, f.ctrl.Candidates(), 1)
	assert.Equal(t, "B", f.ctrl.Candidates()[0].ID)
	assert.Equal(t, models.OrderStateRemoved, f.ctrl.State("A"))
}

func TestFetchDetail_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "A")
	_, err := f.ctrl.Claim(context.Background(), "A")
	require.NoError(t, err)

	first, err := f.ctrl.FetchDetail(context.Background(), "A")
	require.NoError(t, err)
	second, err := f.ctrl.FetchDetail(context.Background(), "A")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, models.OrderStateAssignedToMe, second.Status)
	assert.Equal(t, models.OrderStateAssignedToMe, f.ctrl.State("A"))
}

func TestFetchDetail_ClearsAssignmentWhenTakenElsewhere(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "A")
	_, err := f.ctrl.Claim(context.Background(), "A")
	require.NoError(t, err)
	f.svc.AssignTo("A", "agent-other")

	o, err := f.ctrl.FetchDetail(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStateAssignedToOther, o.Status)
	_, ok := f.ctrl.Assignment("A")
	assert.False(t, ok)
}

func TestConfirmDelivery(t *testing.T) {
	tests := []struct {
		name      string
		otp       string
		wantErr   error
		wantState models.OrderState
		wantCalls int
	}{
		{name: "valid code", otp: "123456", wantState: models.OrderStateDelivered, wantCalls: 1},
		{name: "short code blocked locally", otp: "12345", wantErr: models.ErrInvalidOTP, wantState: models.OrderStateAssignedToMe},
		{name: "letters blocked locally", otp: "12a456", wantErr: models.ErrInvalidOTP, wantState: models.OrderStateAssignedToMe},
		{name: "wrong code rejected by service", otp: "654321", wantState: models.OrderStateAssignedToMe, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			addOrder(f, "D")
			_, err := f.ctrl.Claim(context.Background(), "D")
			require.NoError(t, err)

			err = f.ctrl.ConfirmDelivery(context.Background(), "D", tt.otp)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantState == models.OrderStateDelivered:
				require.NoError(t, err)
			default:
				fail, ok := transport.AsFailure(err)
				require.True(t, ok)
				assert.Equal(t, "Invalid OTP", fail.Message)
			}
			assert.Equal(t, tt.wantState, f.ctrl.State("D"))
			assert.Equal(t, tt.wantCalls, f.svc.Calls(transporttest.RouteVerifyOTP))
		})
	}
}

func TestConfirmDelivery_ClearsAssignment(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "D")
	_, err := f.ctrl.Claim(context.Background(), "D")
	require.NoError(t, err)

	require.NoError(t, f.ctrl.ConfirmDelivery(context.Background(), "D", " 123456 "))
	_, ok := f.ctrl.Assignment("D")
	assert.False(t, ok)
	assert.Contains(t, f.events(), models.EventDeliverOrder)
}

func TestDeliveredSurvivesLaggingProjection(t *testing.T) {
	f := newFixture(t)
	addOrder(f, "D")
	_, err := f.ctrl.Claim(context.Background(), "D")
	require.NoError(t, err)
	require.NoError(t, f.ctrl.ConfirmDelivery(context.Background(), "D", "123456"))

	f.svc.AssignTo("D", agentID)

	o, err := f.ctrl.FetchDetail(context.Background(), "D")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStateDelivered, o.Status)
	assert.Equal(t, models.OrderStateDelivered, f.ctrl.State("D"))
	_, ok := f.ctrl.Assignment("D")
	assert.False(t, ok)

	list, err := f.ctrl.ListCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.OrderStateDelivered, list[0].Status)
	_, ok = f.ctrl.Assignment("D")
	assert.False(t, ok)
}

func TestOperationsRejectEmptyID(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Claim(context.Background(), " ")
	assert.ErrorIs(t, err, models.ErrInvalidOrderID)
	assert.ErrorIs(t, f.ctrl.Ignore(context.Background(), ""), models.ErrInvalidOrderID)
	_, err = f.ctrl.FetchDetail(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidOrderID)
	assert.ErrorIs(t, f.ctrl.ConfirmDelivery(context.Background(), "", "123456"), models.ErrInvalidOrderID)
}
