package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgeline/trellis/internal/rpc"
	"github.com/forgeline/trellis/internal/types"
	"github.com/forgeline/trellis/internal/ui"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a ticket",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		flags := cmd.Flags()
		title, _ := flags.GetString("title")
		desc, _ := flags.GetString("description")
		ticketType, _ := flags.GetString("type")
		priority, _ := flags.GetString("priority")
		tags, _ := flags.GetStringSlice("tags")
		blockedBy, _ := flags.GetStringSlice("blocked-by")
		assignee, _ := flags.GetString("assignee")
		parent, _ := flags.GetString("parent")

		var result rpc.CreateTicketResult
		err = client.Call(rpc.OpCreateTicket, rpc.CreateTicketArgs{
			WorkflowID:      viper.GetString("workflow"),
			Title:           title,
			Description:     desc,
			TicketType:      ticketType,
			Priority:        priority,
			Tags:            tags,
			BlockedBy:       blockedBy,
			AssignedAgentID: assignee,
			ParentTicketID:  parent,
		}, &result)
		if err != nil {
			return err
		}

		return emit(result, func() {
			t := result.Ticket
			fmt.Printf("%s created %s %s (%s)\n", ui.PassStyle.Render(ui.IconPass),
				ui.AccentStyle.Render(t.ID), ui.TitleStyle.Render(t.Title), t.Status)
			if len(result.SimilarTickets) > 0 {
				fmt.Println(ui.WarnStyle.Render(ui.IconWarn + " possible duplicates:"))
				for _, sim := range result.SimilarTickets {
					fmt.Printf("  %s %s (%.2f)\n", sim.TicketID, sim.Title, sim.Score)
				}
			}
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <ticket-id>",
	Short: "Update ticket fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		updates := map[string]any{}
		flags := cmd.Flags()
		for flag, field := range map[string]string{
			"title":       "title",
			"description": "description",
			"type":        "ticket_type",
			"priority":    "priority",
			"assignee":    "assigned_agent_id",
			"parent":      "parent_ticket_id",
		} {
			if flags.Changed(flag) {
				v, _ := flags.GetString(flag)
				updates[field] = v
			}
		}
		if flags.Changed("tags") {
			v, _ := flags.GetStringSlice("tags")
			updates["tags"] = v
		}
		if flags.Changed("blocked-by") {
			v, _ := flags.GetStringSlice("blocked-by")
			updates["blocked_by_ticket_ids"] = v
		}
		comment, _ := flags.GetString("comment")

		var result rpc.UpdateTicketResult
		err = client.Call(rpc.OpUpdateTicket, rpc.UpdateTicketArgs{
			TicketID:      args[0],
			Updates:       updates,
			UpdateComment: comment,
		}, &result)
		if err != nil {
			return err
		}

		return emit(result, func() {
			fmt.Printf("%s updated %s\n", ui.PassStyle.Render(ui.IconPass),
				strings.Join(result.FieldsUpdated, ", "))
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <ticket-id>",
	Short: "Show a ticket with its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		historyLimit, _ := cmd.Flags().GetInt("history-limit")
		historyOffset, _ := cmd.Flags().GetInt("history-offset")

		var detail types.TicketDetail
		if err := client.Call(rpc.OpGetTicket, rpc.GetTicketArgs{
			TicketID:      args[0],
			HistoryLimit:  historyLimit,
			HistoryOffset: historyOffset,
		}, &detail); err != nil {
			return err
		}

		return emit(detail, func() { renderTicketDetail(&detail) })
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialClient()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		flags := cmd.Flags()
		listArgs := rpc.GetTicketsArgs{WorkflowID: viper.GetString("workflow")}
		for flag, dst := range map[string]**string{
			"status":   &listArgs.Status,
			"priority": &listArgs.Priority,
			"type":     &listArgs.TicketType,
			"assignee": &listArgs.Assignee,
			"parent":   &listArgs.ParentID,
		} {
			if flags.Changed(flag) {
				v, _ := flags.GetString(flag)
				*dst = &v
			}
		}
		listArgs.Tags, _ = flags.GetStringSlice("tags")
		if flags.Changed("blocked") {
			v, _ := flags.GetBool("blocked")
			listArgs.Blocked = &v
		}
		if flags.Changed("resolved") {
			v, _ := flags.GetBool("resolved")
			listArgs.Resolved = &v
		}
		listArgs.Limit, _ = flags.GetInt("limit")
		listArgs.Offset, _ = flags.GetInt("offset")
		listArgs.Sort, _ = flags.GetString("sort")

		var page types.TicketPage
		if err := client.Call(rpc.OpGetTickets, listArgs, &page); err != nil {
			return err
		}

		return emit(page, func() {
			for _, t := range page.Tickets {
				renderTicketLine(t)
			}
			fmt.Println(ui.MutedStyle.Render(
				fmt.Sprintf("%d of %d tickets (has_more=%v)", len(page.Tickets), page.TotalCount, page.HasMore)))
		})
	},
}

func renderTicketLine(t *types.Ticket) {
	badges := ""
	if t.IsBlocked {
		badges += " " + ui.BlockedBadge()
	}
	if t.IsResolved {
		badges += " " + ui.ResolvedBadge()
	}
	fmt.Printf("%s  %-9s %s %s%s\n",
		ui.AccentStyle.Render(t.ID),
		t.Status,
		ui.PriorityStyle(string(t.Priority)).Render(string(t.Priority)),
		t.Title,
		badges)
}

func renderTicketDetail(d *types.TicketDetail) {
	t := d.Ticket
	fmt.Printf("%s %s\n", ui.AccentStyle.Render(t.ID), ui.TitleStyle.Render(t.Title))
	fmt.Printf("  status: %s  priority: %s  type: %s\n",
		t.Status, ui.PriorityStyle(string(t.Priority)).Render(string(t.Priority)), t.TicketType)
	if t.AssignedAgentID != "" {
		fmt.Printf("  assignee: %s\n", t.AssignedAgentID)
	}
	if len(t.Tags) > 0 {
		fmt.Printf("  tags: %s\n", strings.Join(t.Tags, ", "))
	}
	if len(t.BlockedBy) > 0 {
		fmt.Printf("  blocked by: %s", strings.Join(t.BlockedBy, ", "))
		if t.IsBlocked {
			fmt.Printf(" %s", ui.BlockedBadge())
		}
		fmt.Println()
	}
	if t.IsResolved {
		fmt.Printf("  %s at %s\n", ui.ResolvedBadge(), t.ResolvedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\n%s\n", t.Description)

	if len(d.Comments) > 0 {
		fmt.Println("\n" + ui.HeaderStyle.Render("Comments"))
		for _, c := range d.Comments {
			fmt.Printf("  [%s] %s: %s\n", c.CommentType, c.AgentID, c.CommentText)
		}
	}
	if len(d.History) > 0 {
		fmt.Println("\n" + ui.HeaderStyle.Render("History"))
		for _, ev := range d.History {
			line := string(ev.ChangeType)
			if ev.OldValue != "" || ev.NewValue != "" {
				line += fmt.Sprintf(" %s → %s", ev.OldValue, ev.NewValue)
			}
			fmt.Printf("  %s %s (%s)\n", ev.ChangedAt.Format("2006-01-02 15:04"), line, ev.AgentID)
		}
	}
	if len(d.Commits) > 0 {
		fmt.Println("\n" + ui.HeaderStyle.Render("Commits"))
		for _, c := range d.Commits {
			fmt.Printf("  %s %s\n", c.CommitSHA, c.CommitMessage)
		}
	}
}

func init() {
	createCmd.Flags().String("title", "", "ticket title")
	createCmd.Flags().String("description", "", "ticket description")
	createCmd.Flags().String("type", "", "ticket type")
	createCmd.Flags().String("priority", "", "priority (low/medium/high/critical)")
	createCmd.Flags().StringSlice("tags", nil, "tags")
	createCmd.Flags().StringSlice("blocked-by", nil, "blocker ticket ids")
	createCmd.Flags().String("assignee", "", "assigned agent id")
	createCmd.Flags().String("parent", "", "parent ticket id")
	_ = createCmd.MarkFlagRequired("title")
	_ = createCmd.MarkFlagRequired("description")

	updateCmd.Flags().String("title", "", "new title")
	updateCmd.Flags().String("description", "", "new description")
	updateCmd.Flags().String("type", "", "new ticket type")
	updateCmd.Flags().String("priority", "", "new priority")
	updateCmd.Flags().String("assignee", "", "new assignee")
	updateCmd.Flags().String("parent", "", "new parent ticket id")
	updateCmd.Flags().StringSlice("tags", nil, "replacement tag set")
	updateCmd.Flags().StringSlice("blocked-by", nil, "replacement blocker set")
	updateCmd.Flags().String("comment", "", "comment to attach to the update")

	showCmd.Flags().Int("history-limit", 0, "history events per page (default: server cap)")
	showCmd.Flags().Int("history-offset", 0, "history events to skip, counting back from the most recent")

	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().String("priority", "", "filter by priority")
	listCmd.Flags().String("type", "", "filter by ticket type")
	listCmd.Flags().String("assignee", "", "filter by assignee")
	listCmd.Flags().String("parent", "", "filter by parent ticket")
	listCmd.Flags().StringSlice("tags", nil, "filter by tags (all must match)")
	listCmd.Flags().Bool("blocked", false, "filter by blocked state")
	listCmd.Flags().Bool("resolved", false, "filter by resolved state")
	listCmd.Flags().Int("limit", 50, "page size")
	listCmd.Flags().Int("offset", 0, "page offset")
	listCmd.Flags().String("sort", "", "sort order (created_desc/created_asc/updated_desc/priority_desc)")

	rootCmd.AddCommand(createCmd, updateCmd, showCmd, listCmd)
}
