package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deliverCmd = &cobra.Command{
	Use:   "deliver <order-id>",
	Short: "Confirm delivery with the recipient's OTP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		otp, _ := cmd.Flags().GetString("otp")
		c, _, err := current.open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.RequestDeliveryConfirmation(cmd.Context(), otp); err != nil {
			return err
		}
		view := c.CurrentOrderState()
		fmt.Fprintf(current.out, "Order %s %s\n", view.OrderID, renderOrderState(view.State))
		return nil
	},
}

func init() {
	deliverCmd.Flags().String("otp", "", "Code read out by the recipient")
	_ = deliverCmd.MarkFlagRequired("otp")
}
