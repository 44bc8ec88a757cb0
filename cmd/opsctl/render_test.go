package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/ops-portal/internal/domain"
)

func TestRenderOverdueTickets(t *testing.T) {
	var buf bytes.Buffer
	assignee := "agent-7"
	renderOverdueTickets(&buf, []domain.Ticket{{
		ID:          "t-1",
		Number:      "TKT-ABC-1234",
		Priority:    domain.TicketPriorityCritical,
		Status:      domain.TicketStatusInProgress,
		AssigneeID:  &assignee,
		SLADeadline: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}, "https://ops.example.com")

	out := buf.String()
	for _, want := range []string{"TKT-ABC-1234", "CRITICAL", "agent-7", "2024-01-02T03:04:05Z", "https://ops.example.com/tickets/t-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderUnroutedRequests(t *testing.T) {
	var buf bytes.Buffer
	renderUnroutedRequests(&buf, []domain.Request{{ID: "r-1", Number: "REQ-1", Type: domain.RequestTypeAccess, Subject: "VPN", RequestorID: "emp"}})
	if !strings.Contains(buf.String(), "REQ-1") || !strings.Contains(buf.String(), "ACCESS") {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
}

func TestCommandTree(t *testing.T) {
	rootCmd.AddCommand(migrateCmd(), tokenCmd(), ticketsCmd(), requestsCmd())
	for _, path := range [][]string{{"migrate"}, {"token", "issue"}, {"tickets", "overdue"}, {"requests", "unrouted"}, {"requests", "add-approver"}} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}
