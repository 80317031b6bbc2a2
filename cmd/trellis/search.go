package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgeline/trellis/internal/rpc"
	"github.com/forgeline/trellis/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search tickets with hybrid ranking",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		flags := cmd.Flags()
		searchType, _ := flags.GetString("type")
		limit, _ := flags.GetInt("limit")
		includeComments, _ := flags.GetBool("comments")

		searchArgs := rpc.SearchTicketsArgs{
			WorkflowID:      viper.GetString("workflow"),
			Query:           strings.Join(args, " "),
			SearchType:      searchType,
			Limit:           limit,
			IncludeComments: includeComments,
		}
		for flag, dst := range map[string]**string{
			"status":   &searchArgs.Filters.Status,
			"priority": &searchArgs.Filters.Priority,
			"assignee": &searchArgs.Filters.AssignedAgentID,
		} {
			if flags.Changed(flag) {
				v, _ := flags.GetString(flag)
				*dst = &v
			}
		}
		searchArgs.Filters.Tags, _ = flags.GetStringSlice("tags")
		if flags.Changed("blocked") {
			v, _ := flags.GetBool("blocked")
			searchArgs.Filters.IsBlocked = &v
		}

		var result rpc.SearchTicketsResult
		if err := client.Call(rpc.OpSearchTickets, searchArgs, &result); err != nil {
			return err
		}

		return emit(result, func() {
			for _, r := range result.Results {
				badges := ""
				if r.IsBlocked {
					badges += " " + ui.BlockedBadge()
				}
				if r.IsResolved {
					badges += " " + ui.ResolvedBadge()
				}
				fmt.Printf("%.3f  %s %s%s\n", r.RelevanceScore,
					ui.AccentStyle.Render(r.Ticket.ID), r.Ticket.Title, badges)
			}
			note := fmt.Sprintf("%d found in %dms", result.TotalFound, result.SearchTimeMS)
			if result.Degraded {
				note += " (semantic scorer unavailable, keyword-only)"
			}
			fmt.Println(ui.MutedStyle.Render(note))
		})
	},
}

func init() {
	searchCmd.Flags().String("type", "hybrid", "search type (semantic/keyword/hybrid)")
	searchCmd.Flags().Int("limit", 10, "max results (1-50)")
	searchCmd.Flags().Bool("comments", false, "include comment text in matching")
	searchCmd.Flags().String("status", "", "filter by status")
	searchCmd.Flags().String("priority", "", "filter by priority")
	searchCmd.Flags().String("assignee", "", "filter by assignee")
	searchCmd.Flags().StringSlice("tags", nil, "filter by tags")
	searchCmd.Flags().Bool("blocked", false, "filter by blocked state")

	rootCmd.AddCommand(searchCmd)
}
