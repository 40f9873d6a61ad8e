package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List candidate orders in service order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := current.controller.ListCandidates(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(current.out, mutedStyle.Render("No candidate orders"))
			return nil
		}
		for _, o := range list {
			fmt.Fprintln(current.out, renderOrderLine(o))
		}
		return nil
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <order-id>",
	Short: "Claim an order for this agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := current.controller.Claim(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(current.out, "Claimed %s %s\n", a.OrderID, renderOrderState(a.LocalStatus))
		return nil
	},
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore <order-id>",
	Short: "Remove an order from this agent's candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.controller.Ignore(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(current.out, "Ignored %s\n", args[0])
		return nil
	},
}

var detailCmd = &cobra.Command{
	Use:   "detail <order-id>",
	Short: "Show one order as this agent sees it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := current.controller.FetchDetail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(current.out, renderOrderDetail(o))
		return nil
	},
}
