package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/payment"
)

var (
	colorText    = lipgloss.Color("#cdd6f4")
	colorSubtext = lipgloss.Color("#7f849c")
	colorGreen   = lipgloss.Color("#a6e3a1")
	colorBlue    = lipgloss.Color("#89b4fa")
	colorPeach   = lipgloss.Color("#fab387")
	colorRed     = lipgloss.Color("#f38ba8")

	titleStyle = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorSubtext)
	errorStyle = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
)

func orderStateColor(s models.OrderState) lipgloss.Color {
	switch s {
	case models.OrderStateUnclaimed:
		return colorBlue
	case models.OrderStateAssignedToMe, models.OrderStateOutForDelivery:
		return colorPeach
	case models.OrderStateDelivered:
		return colorGreen
	case models.OrderStateAssignedToOther, models.OrderStateCancelled:
		return colorRed
	default:
		return colorSubtext
	}
}

func paymentStateColor(s payment.State) lipgloss.Color {
	switch s {
	case payment.StateSucceeded:
		return colorGreen
	case payment.StateFailed, payment.StateExpired:
		return colorRed
	case payment.StatePending, payment.StateProcessing:
		return colorPeach
	default:
		return colorSubtext
	}
}

func renderOrderState(s models.OrderState) string {
	label := strings.ToUpper(strings.ReplaceAll(string(s), "_", " "))
	return lipgloss.NewStyle().Foreground(orderStateColor(s)).Render(label)
}

func renderPaymentState(s payment.State) string {
	return lipgloss.NewStyle().Foreground(paymentStateColor(s)).Bold(true).Render(strings.ToUpper(string(s)))
}

// renderOrderLine is the one-line form used in candidate lists.
func renderOrderLine(o models.Order) string {
	return lipgloss.NewStyle().Foreground(colorText).Render(o.ID) + " " +
		renderOrderState(o.Status) + " " +
		lipgloss.NewStyle().Foreground(colorText).Render(o.TotalAmount.Major()) + " " +
		mutedStyle.Render(fmt.Sprintf("%s · %d items · %s", o.PaymentType, o.ItemCount(), o.ShippingAddress.City))
}

func renderOrderDetail(o models.Order) string {
	lines := []string{
		titleStyle.Render("Order " + o.ID),
		"  state    " + renderOrderState(o.Status),
		"  total    " + o.TotalAmount.Major() + " " + mutedStyle.Render(string(o.PaymentType)),
		"  deliver  " + o.ShippingAddress.Line(),
	}
	if o.ShippingAddress.Name != "" {
		lines = append(lines, "  contact  "+o.ShippingAddress.Name+" "+mutedStyle.Render(o.ShippingAddress.Phone))
	}
	for _, it := range o.Items {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("    %dx %s  %s", it.Quantity, it.Name, it.Price.Major())))
	}
	return strings.Join(lines, "\n")
}

func renderPayment(s payment.Snapshot) string {
	line := "payment " + renderPaymentState(s.State)
	if s.Session != nil {
		line += " " + s.DisplayAmount
		if !s.State.Terminal() {
			line += mutedStyle.Render(fmt.Sprintf(" · expires in %s", s.Remaining().Truncate(time.Second)))
		}
	}
	if s.LastError != nil {
		line += " " + errorStyle.Render(s.LastError.Error())
	}
	return line
}

func renderError(err error) string {
	var hint string
	switch models.Classify(err) {
	case models.ErrorKindAuth:
		hint = "sign in again and retry"
	case models.ErrorKindConflict:
		hint = "another agent took this order; the list was refreshed"
	case models.ErrorKindValidation:
		hint = "check the input"
	case models.ErrorKindExpiry:
		hint = "regenerate the payment code"
	case models.ErrorKindBusy:
		hint = "a request for this order is still running"
	case models.ErrorKindTransient:
		hint = "retry when the connection is back"
	}
	msg := errorStyle.Render("error: ") + err.Error()
	if hint != "" {
		msg += "\n" + mutedStyle.Render(hint)
	}
	return msg
}
