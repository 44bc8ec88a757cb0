package events

import (
	"time"

	"github.com/spec-kit/ops-portal/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestSubmitted     EventType = "request_submitted"
	EventRequestDecided       EventType = "request_decided"
	EventRequestStatusChanged EventType = "request_status_changed"
	EventApprovalLevelAdded   EventType = "approval_level_added"
	EventTicketCreated        EventType = "ticket_created"
	EventTicketUpdated        EventType = "ticket_updated"
	EventTicketStatusChanged  EventType = "ticket_status_changed"
	EventTicketAssigned       EventType = "ticket_assigned"
	EventTicketCommentAdded   EventType = "ticket_comment_added"
)

// AggregateType names the entity an event belongs to.
type AggregateType string

const (
	AggregateRequest AggregateType = "request"
	AggregateTicket  AggregateType = "ticket"
)

// Event represents a domain event emitted after a committed mutation.
type Event struct {
	ID            string        `json:"id"`
	Type          EventType     `json:"type"`
	AggregateType AggregateType `json:"aggregate_type"`
	AggregateID   string        `json:"aggregate_id"`
	ActorID       string        `json:"actor_id,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Payload       interface{}   `json:"payload"`
}

// Recipient is the addressable projection of an actor.
type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RecipientOf projects an actor for event payloads.
func RecipientOf(actor *domain.Actor) Recipient {
	if actor == nil {
		return Recipient{}
	}
	return Recipient{ID: actor.ID, Name: actor.Name, Email: actor.Email}
}

// RequestSubmittedPayload payload. Approver is nil when no chain was seeded.
type RequestSubmittedPayload struct {
	Number    string             `json:"number"`
	Type      domain.RequestType `json:"type"`
	Subject   string             `json:"subject"`
	Requestor Recipient          `json:"requestor"`
	Approver  *Recipient         `json:"approver,omitempty"`
}

// RequestDecidedPayload payload.
type RequestDecidedPayload struct {
	Number    string                `json:"number"`
	Decision  domain.ApprovalStatus `json:"decision"`
	Comments  *string               `json:"comments,omitempty"`
	Approver  Recipient             `json:"approver"`
	Requestor Recipient             `json:"requestor"`
	Status    domain.RequestStatus  `json:"status"`
}

// RequestStatusChangedPayload payload.
type RequestStatusChangedPayload struct {
	Number    string               `json:"number"`
	OldStatus domain.RequestStatus `json:"old_status"`
	NewStatus domain.RequestStatus `json:"new_status"`
}

// ApprovalLevelAddedPayload payload.
type ApprovalLevelAddedPayload struct {
	Number    string    `json:"number"`
	Level     int       `json:"level"`
	Approver  Recipient `json:"approver"`
	Requestor Recipient `json:"requestor"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Number      string                `json:"number"`
	Subject     string                `json:"subject"`
	Priority    domain.TicketPriority `json:"priority"`
	Category    domain.TicketCategory `json:"category"`
	SLADeadline time.Time             `json:"sla_deadline"`
	Creator     Recipient             `json:"creator"`
}

// TicketUpdatedPayload lists the fields an update touched.
type TicketUpdatedPayload struct {
	Number  string   `json:"number"`
	Changed []string `json:"changed"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	Number    string              `json:"number"`
	Subject   string              `json:"subject"`
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Creator   Recipient           `json:"creator"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	Number      string              `json:"number"`
	OldAssignee *string             `json:"old_assignee_id,omitempty"`
	Assignee    Recipient           `json:"assignee"`
	OldStatus   domain.TicketStatus `json:"old_status"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	CommentID   string `json:"comment_id"`
	AuthorID    string `json:"author_id"`
	IsInternal  bool   `json:"is_internal"`
	BodyPreview string `json:"body_preview"`
}
