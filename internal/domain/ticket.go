package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// Valid reports whether the status is a known ticket state.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// TicketCategory groups tickets by the area of the problem.
type TicketCategory string

const (
	TicketCategoryHardware TicketCategory = "HARDWARE"
	TicketCategorySoftware TicketCategory = "SOFTWARE"
	TicketCategoryNetwork  TicketCategory = "NETWORK"
	TicketCategoryAccess   TicketCategory = "ACCESS"
	TicketCategoryOther    TicketCategory = "OTHER"
)

// Valid reports whether the category is known.
func (c TicketCategory) Valid() bool {
	switch c {
	case TicketCategoryHardware, TicketCategorySoftware, TicketCategoryNetwork, TicketCategoryAccess, TicketCategoryOther:
		return true
	}
	return false
}

// Ticket is the aggregate for help-desk support tickets.
type Ticket struct {
	ID          string
	Number      string
	Subject     string
	Description string
	Priority    TicketPriority
	Category    TicketCategory
	Status      TicketStatus
	CreatorID   string
	AssigneeID  *string
	AssetID     *string
	SoftwareID  *string
	SLADeadline time.Time
	ResolvedAt  *time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ApplyStatus moves the ticket to status and stamps resolution/closure times
// the first time those states are reached. Existing stamps are never overwritten.
func (t *Ticket) ApplyStatus(status TicketStatus, now time.Time) {
	t.Status = status
	switch status {
	case TicketStatusResolved:
		if t.ResolvedAt == nil {
			stamp := now
			t.ResolvedAt = &stamp
		}
	case TicketStatusClosed:
		if t.ClosedAt == nil {
			stamp := now
			t.ClosedAt = &stamp
		}
	}
}

// Finished reports whether the ticket sits in RESOLVED or CLOSED.
func (t *Ticket) Finished() bool {
	return t.Status == TicketStatusResolved || t.Status == TicketStatusClosed
}

// Overdue reports whether an unfinished ticket has passed its SLA deadline.
func (t *Ticket) Overdue(now time.Time) bool {
	return !t.Finished() && now.After(t.SLADeadline)
}
