// Package transporttest runs an in-memory order/payment service for tests.
package transporttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chrisdamba/foodagent/internal/clock"
	"github.com/chrisdamba/foodagent/internal/models"
)

const (
	RouteList          = "list"
	RouteDetail        = "detail"
	RouteClaim         = "claim"
	RouteIgnore        = "ignore"
	RouteVerifyOTP     = "verify_otp"
	RouteCreatePayment = "create_payment"
	RoutePaymentStatus = "payment_status"
	RouteConfirmManual = "confirm_manual"
)

type Payment struct {
	Status    string
	QRExpired bool
	Amount    models.Money
	ExpiresAt time.Time
	Method    string
	Notes     string
}

type failure struct {
	status int
	msg    string
}

// Service is a fake of the remote order/payment service.
type Service struct {
	URL string

	mu        sync.Mutex
	clock     clock.Clock
	agentID   string
	token     string
	orders    []models.Order
	otps      map[string]string
	payments  map[string]*Payment
	paymentTT time.Duration
	calls     map[string]int
	failures  map[string][]failure
	gates     map[string]chan struct{}
}

// New starts the service. Claims are attributed to agentID.
func New(t testing.TB, clk clock.Clock, agentID string) *Service {
	t.Helper()
	s := &Service{
		clock:     clk,
		agentID:   agentID,
		otps:      make(map[string]string),
		payments:  make(map[string]*Payment),
		paymentTT: 120 * time.Second,
		calls:     make(map[string]int),
		failures:  make(map[string][]failure),
		gates:     make(map[string]chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/delivery/orders", s.handle(RouteList, s.list))
	mux.HandleFunc("GET /api/delivery/orders/{id}", s.handle(RouteDetail, s.detail))
	mux.HandleFunc("POST /api/delivery/orders/{id}/accept", s.handle(RouteClaim, s.claim))
	mux.HandleFunc("POST /api/delivery/orders/{id}/ignore", s.handle(RouteIgnore, s.ignore))
	mux.HandleFunc("POST /api/delivery/orders/{id}/verify-otp", s.handle(RouteVerifyOTP, s.verifyOTP))
	mux.HandleFunc("POST /api/payments/qr", s.handle(RouteCreatePayment, s.createPayment))
	mux.HandleFunc("GET /api/payments/status/{id}", s.handle(RoutePaymentStatus, s.paymentStatus))
	mux.HandleFunc("POST /api/payments/{id}/confirm", s.handle(RouteConfirmManual, s.confirmManual))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// RequireToken makes every request without "Bearer token" answer 401.
func (s *Service) RequireToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Service) SetPaymentTTL(d time.Duration) {
	s.mu.Lock()
	s.paymentTT = d
	s.mu.Unlock()
}

// AddOrder appends an order to the queue; otp is the code the recipient holds.
func (s *Service) AddOrder(o models.Order, otp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	if otp != "" {
		s.otps[o.ID] = otp
	}
}

// AssignTo marks an order as taken by another agent.
func (s *Service) AssignTo(orderID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.find(orderID); o != nil {
		o.DeliveryAgentID = &agentID
		o.RemoteStatus = models.RemoteStatusAssigned
	}
}

func (s *Service) SetPaymentStatus(orderID, status string, qrExpired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[orderID]
	if !ok {
		p = &Payment{}
		s.payments[orderID] = p
	}
	p.Status = status
	p.QRExpired = qrExpired
}

func (s *Service) Payment(orderID string) (Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[orderID]
	if !ok {
		return Payment{}, false
	}
	return *p, true
}

func (s *Service) Order(orderID string) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.find(orderID); o != nil {
		return *o, true
	}
	return models.Order{}, false
}

// Fail queues a failure answer for the next call to route.
func (s *Service) Fail(route string, status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failure{status: status, msg: msg})
}

// Gate blocks calls to route until the returned channel receives or is closed.
func (s *Service) Gate(route string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[route] = ch
	return ch
}

func (s *Service) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Service) find(id string) *models.Order {
	for i := range s.orders {
		if s.orders[i].ID == id {
			return &s.orders[i]
		}
	}
	return nil
}

func (s *Service) handle(route string, fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		gate := s.gates[route]
		token := s.token
		var queued *failure
		if q := s.failures[route]; len(q) > 0 {
			queued = &q[0]
			s.failures[route] = q[1:]
		}
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "Not authorized, token failed"})
			return
		}
		if queued != nil {
			writeJSON(w, queued.status, map[string]interface{}{"message": queued.msg})
			return
		}
		fn(w, r)
	}
}

func (s *Service) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	orders := append([]models.Order(nil), s.orders...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "orders": orders})
}

func (s *Service) detail(w http.ResponseWriter, r *http.Request) {
	o, ok := s.Order(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Order not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "order": o})
}

func (s *Service) claim(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.find(r.PathValue("id"))
	if o == nil || o.DeliveryAgentID != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Order not available or already assigned"})
		return
	}
	agent := s.agentID
	o.DeliveryAgentID = &agent
	o.RemoteStatus = models.RemoteStatusAssigned
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Order accepted"})
}

func (s *Service) ignore(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	for i := range s.orders {
		if s.orders[i].ID == id {
			if s.orders[i].DeliveryAgentID != nil {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "Cannot ignore an assigned order"})
				return
			}
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Order not found"})
}

func (s *Service) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OTP string `json:"otp"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	o := s.find(id)
	if o == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Order not found"})
		return
	}
	if s.otps[id] != body.OTP {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "Invalid OTP"})
		return
	}
	o.RemoteStatus = models.RemoteStatusDelivered
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Order delivered"})
}

func (s *Service) createPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID string `json:"orderId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.find(body.OrderID)
	if o == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Order not found"})
		return
	}
	expires := s.clock.Now().Add(s.paymentTT)
	s.payments[o.ID] = &Payment{Status: "pending", Amount: o.TotalAmount, ExpiresAt: expires}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"code_payload":  fmt.Sprintf("upi://pay?pa=store@bank&am=%s&tr=%s", o.TotalAmount.Major(), o.ID),
			"amount":        int64(o.TotalAmount),
			"expires_at":    expires.Format(time.RFC3339),
			"order_details": map[string]interface{}{"order_id": o.ID, "items": len(o.Items)},
		},
	})
}

func (s *Service) paymentStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Payment not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"payment_status": p.Status, "qr_expired": p.QRExpired},
	})
}

func (s *Service) confirmManual(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentMethod string `json:"paymentMethod"`
		Notes         string `json:"notes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	if s.find(id) == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Order not found"})
		return
	}
	p, ok := s.payments[id]
	if !ok {
		p = &Payment{}
		s.payments[id] = p
	}
	p.Status = "succeeded"
	p.Method = body.PaymentMethod
	p.Notes = body.Notes
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"payment_status": p.Status, "payment_method": p.Method},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
