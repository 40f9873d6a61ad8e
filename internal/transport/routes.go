package transport

import "net/url"

// Routes of the order/payment service. Kept together so a service-side
// rename touches one file.
const (
	pathOrders          = "/api/delivery/orders"
	pathPaymentSessions = "/api/payments/qr"
	pathPaymentStatus   = "/api/payments/status/"
	pathPayments        = "/api/payments/"
)

func CandidatesPath() string { return pathOrders }

func OrderPath(orderID string) string { return pathOrders + "/" + url.PathEscape(orderID) }

func ClaimPath(orderID string) string { return OrderPath(orderID) + "/accept" }

func IgnorePath(orderID string) string { return OrderPath(orderID) + "/ignore" }

func ConfirmDeliveryPath(orderID string) string { return OrderPath(orderID) + "/verify-otp" }

func PaymentSessionPath() string { return pathPaymentSessions }

func PaymentStatusPath(orderID string) string { return pathPaymentStatus + url.PathEscape(orderID) }

func ManualPaymentPath(orderID string) string {
	return pathPayments + url.PathEscape(orderID) + "/confirm"
}
