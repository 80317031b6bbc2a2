package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/trellis/internal/rpc"
	"github.com/forgeline/trellis/internal/ui"
)

var clarifyCmd = &cobra.Command{
	Use:   "clarify <ticket-id>",
	Short: "Request an arbitration ruling for a disputed ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		flags := cmd.Flags()
		conflict, _ := flags.GetString("conflict")
		context, _ := flags.GetString("context")
		solutions, _ := flags.GetStringSlice("solutions")

		var result rpc.ClarificationResult
		err = client.Call(rpc.OpRequestClarification, rpc.ClarificationArgs{
			TicketID:            args[0],
			ConflictDescription: conflict,
			Context:             context,
			PotentialSolutions:  solutions,
		}, &result)
		if err != nil {
			return err
		}

		return emit(result, func() {
			fmt.Println(ui.HeaderStyle.Render("Clarification") +
				ui.MutedStyle.Render(fmt.Sprintf(" (comment %d)", result.CommentID)))
			fmt.Println(result.Clarification)
		})
	},
}

func init() {
	clarifyCmd.Flags().String("conflict", "", "description of the disagreement (required, ≥20 chars)")
	clarifyCmd.Flags().String("context", "", "additional context")
	clarifyCmd.Flags().StringSlice("solutions", nil, "proposed resolutions")
	_ = clarifyCmd.MarkFlagRequired("conflict")

	rootCmd.AddCommand(clarifyCmd)
}
