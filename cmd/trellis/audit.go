package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/trellis/internal/rpc"
	"github.com/forgeline/trellis/internal/ui"
)

var commentCmd = &cobra.Command{
	Use:   "comment <ticket-id> <text>",
	Short: "Add a comment to a ticket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		commentType, _ := cmd.Flags().GetString("type")
		mentions, _ := cmd.Flags().GetStringSlice("mentions")

		var result rpc.AddCommentResult
		err = client.Call(rpc.OpAddTicketComment, rpc.AddCommentArgs{
			TicketID:    args[0],
			CommentText: args[1],
			CommentType: commentType,
			Mentions:    mentions,
		}, &result)
		if err != nil {
			return err
		}

		return emit(result, func() {
			fmt.Printf("%s comment %d added to %s\n", ui.PassStyle.Render(ui.IconPass),
				result.CommentID, args[0])
		})
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <ticket-id> <sha>",
	Short: "Link a commit to a ticket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		message, _ := cmd.Flags().GetString("message")
		if err := client.Call(rpc.OpLinkCommitToTicket, rpc.LinkCommitArgs{
			TicketID:      args[0],
			CommitSHA:     args[1],
			CommitMessage: message,
		}, nil); err != nil {
			return err
		}

		fmt.Printf("%s linked %s to %s\n", ui.PassStyle.Render(ui.IconPass), args[1], args[0])
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check daemon liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		if err := client.Ping(); err != nil {
			return err
		}
		fmt.Println(ui.PassStyle.Render(ui.IconPass) + " daemon is up")
		return nil
	},
}

func init() {
	commentCmd.Flags().String("type", "general", "comment type (general/status_change/blocker/resolution)")
	commentCmd.Flags().StringSlice("mentions", nil, "mentioned agent or ticket ids")

	commitCmd.Flags().String("message", "", "commit message (fetched if omitted and a fetcher is configured)")

	rootCmd.AddCommand(commentCmd, commitCmd, pingCmd)
}
