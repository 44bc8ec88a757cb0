package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/spec-kit/ops-portal/internal/domain"
)

func renderOverdueTickets(w io.Writer, tickets []domain.Ticket, baseURL string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Number", "Priority", "Status", "Assignee", "Deadline", "Link"})
	for _, t := range tickets {
		assignee := "-"
		if t.AssigneeID != nil {
			assignee = *t.AssigneeID
		}
		tw.AppendRow(table.Row{
			t.Number,
			t.Priority,
			t.Status,
			assignee,
			t.SLADeadline.UTC().Format(time.RFC3339),
			fmt.Sprintf("%s/tickets/%s", baseURL, t.ID),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", len(tickets)})
	tw.Render()
}

func renderUnroutedRequests(w io.Writer, requests []domain.Request) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Number", "Type", "Subject", "Requestor", "Created"})
	for _, r := range requests {
		tw.AppendRow(table.Row{r.ID, r.Number, r.Type, r.Subject, r.RequestorID, r.CreatedAt.UTC().Format(time.RFC3339)})
	}
	tw.Render()
}
