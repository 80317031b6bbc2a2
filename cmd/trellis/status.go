package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgeline/trellis/internal/rpc"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status <ticket-id> <new-status>",
	Short: "Move a ticket to a new column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		comment, _ := cmd.Flags().GetString("comment")
		commitSHA, _ := cmd.Flags().GetString("commit")

		var result rpc.ChangeStatusResult
		err = client.Call(rpc.OpChangeTicketStatus, rpc.ChangeStatusArgs{
			TicketID:  args[0],
			NewStatus: args[1],
			Comment:   comment,
			CommitSHA: commitSHA,
		}, &result)
		if err != nil {
			var se *storage.Error
			if errors.As(err, &se) && se.Kind == storage.KindBlocked {
				fmt.Printf("%s %s is blocked by: %s\n", ui.FailStyle.Render(ui.IconFail),
					args[0], strings.Join(se.BlockingIDs, ", "))
				return err
			}
			return err
		}

		return emit(result, func() {
			fmt.Printf("%s %s: %s → %s\n", ui.PassStyle.Render(ui.IconPass),
				args[0], result.OldStatus, result.NewStatus)
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <ticket-id>",
	Short: "Resolve a ticket and unblock its dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		comment, _ := cmd.Flags().GetString("comment")
		commitSHA, _ := cmd.Flags().GetString("commit")

		var result rpc.ResolveTicketResult
		err = client.Call(rpc.OpResolveTicket, rpc.ResolveTicketArgs{
			TicketID:          args[0],
			ResolutionComment: comment,
			CommitSHA:         commitSHA,
		}, &result)
		if err != nil {
			return err
		}

		return emit(result, func() {
			fmt.Printf("%s resolved %s\n", ui.PassStyle.Render(ui.IconPass), args[0])
			if len(result.UnblockedTickets) > 0 {
				fmt.Printf("  unblocked: %s\n", strings.Join(result.UnblockedTickets, ", "))
			}
		})
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <ticket-id>",
	Short: "Reopen a resolved ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		reason, _ := cmd.Flags().GetString("reason")
		if err := client.Call(rpc.OpReopenTicket, rpc.ReopenTicketArgs{
			TicketID: args[0],
			Reason:   reason,
		}, nil); err != nil {
			return err
		}

		fmt.Printf("%s reopened %s\n", ui.PassStyle.Render(ui.IconPass), args[0])
		return nil
	},
}

func init() {
	statusCmd.Flags().String("comment", "", "comment explaining the transition")
	statusCmd.Flags().String("commit", "", "commit sha to link")

	resolveCmd.Flags().String("comment", "", "resolution comment (required, ≥10 chars)")
	resolveCmd.Flags().String("commit", "", "commit sha to link")
	_ = resolveCmd.MarkFlagRequired("comment")

	reopenCmd.Flags().String("reason", "", "why the ticket is being reopened")

	rootCmd.AddCommand(statusCmd, resolveCmd, reopenCmd)
}
