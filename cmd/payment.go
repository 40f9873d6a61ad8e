package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/chrisdamba/foodagent/internal/payment"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var collectCmd = &cobra.Command{
	Use:   "collect <order-id>",
	Short: "Show a payment code and wait until it is paid, fails or expires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		ctx := cmd.Context()

		c, _, err := current.open(ctx, args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.BeginCollection(ctx); err != nil {
			if errors.Is(err, models.ErrCashOnDelivery) {
				fmt.Fprintln(current.out, mutedStyle.Render("Cash on delivery: collect cash and run confirm-payment"))
				return nil
			}
			return err
		}

		snap := c.CurrentOrderState().Payment
		if snap == nil || snap.Session == nil {
			return fmt.Errorf("order %s: %w", args[0], models.ErrNoActiveSession)
		}
		fmt.Fprintln(current.out, titleStyle.Render("Scan to pay "+snap.DisplayAmount))
		fmt.Fprintln(current.out, snap.Session.Payload)
		if !wait {
			return nil
		}

		total := countdown(snap.Session)
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("waiting for payment"),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.CancelCollection()
				_ = bar.Exit()
				return ctx.Err()
			case <-ticker.C:
			}

			view := c.CurrentOrderState()
			s := view.Payment
			if total > 0 && s.Session != nil {
				_ = bar.Set(total - int(s.Remaining().Seconds()))
			} else {
				_ = bar.Add(1)
			}
			if s.State.Terminal() || !s.Polling {
				_ = bar.Finish()
				fmt.Fprintln(current.out, renderPayment(*s))
				return paymentOutcome(*s)
			}
		}
	},
}

// countdown is the bar length in seconds, or -1 for a spinner when the
// service sent no usable deadline.
func countdown(s *models.PaymentSession) int {
	if s.ExpiresAt.IsZero() {
		return -1
	}
	total := int(s.ExpiresAt.Sub(s.CreatedAt).Seconds())
	if total <= 0 {
		return -1
	}
	return total
}

// paymentOutcome turns a settled snapshot into the command result.
func paymentOutcome(s payment.Snapshot) error {
	switch s.State {
	case payment.StateSucceeded:
		return nil
	case payment.StateExpired:
		return fmt.Errorf("order %s: %w", s.OrderID, models.ErrPaymentExpired)
	case payment.StateFailed:
		return fmt.Errorf("payment for order %s failed", s.OrderID)
	}
	if s.LastError != nil {
		return s.LastError
	}
	return fmt.Errorf("stopped polling payment for order %s", s.OrderID)
}

var confirmPaymentCmd = &cobra.Command{
	Use:   "confirm-payment <order-id>",
	Short: "Record a payment collected outside the QR flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		note, _ := cmd.Flags().GetString("note")

		c, o, err := current.open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.ConfirmPayment(cmd.Context(), method, note); err != nil {
			return err
		}
		fmt.Fprintf(current.out, "Payment of %s for %s recorded as %s\n", o.TotalAmount.Major(), o.ID, method)
		return nil
	},
}

func init() {
	collectCmd.Flags().Bool("wait", true, "Wait for the payment to settle")
	confirmPaymentCmd.Flags().String("method", models.PaymentMethodCash, "Payment method: cash, upi or manual")
	confirmPaymentCmd.Flags().String("note", "", "Free-form note stored with the payment")
}
