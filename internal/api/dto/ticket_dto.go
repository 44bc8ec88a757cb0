package dto

import (
	"time"

	"github.com/spec-kit/ops-portal/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject     string                `json:"subject"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Category    domain.TicketCategory `json:"category"`
	AssetID     *string               `json:"asset_id"`
	SoftwareID  *string               `json:"software_id"`
}

// UpdateTicketRequest is a partial update; omitted fields are left alone.
type UpdateTicketRequest struct {
	Status     *domain.TicketStatus   `json:"status"`
	AssigneeID *string                `json:"assignee_id"`
	Category   *domain.TicketCategory `json:"category"`
	Priority   *domain.TicketPriority `json:"priority"`
}

// AssignTicketRequest payload.
type AssignTicketRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Content    string `json:"content"`
	IsInternal bool   `json:"is_internal"`
}

// TicketResponse is the ticket without its thread.
type TicketResponse struct {
	ID          string                `json:"id"`
	Number      string                `json:"number"`
	Subject     string                `json:"subject"`
	Description string                `json:"description"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	Category    domain.TicketCategory `json:"category"`
	CreatorID   string                `json:"creator_id"`
	AssigneeID  *string               `json:"assignee_id"`
	AssetID     *string               `json:"asset_id,omitempty"`
	SoftwareID  *string               `json:"software_id,omitempty"`
	SLADeadline time.Time             `json:"sla_deadline"`
	Overdue     bool                  `json:"overdue"`
	ResolvedAt  *time.Time            `json:"resolved_at"`
	ClosedAt    *time.Time            `json:"closed_at"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketResponse
	Comments []TicketCommentResponse `json:"comments"`
	History  []TicketHistoryResponse `json:"history"`
}

// TicketCommentResponse represents a thread entry.
type TicketCommentResponse struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	Content    string    `json:"content"`
	IsInternal bool      `json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
}

// TicketHistoryResponse is an audit trail entry.
type TicketHistoryResponse struct {
	ID          string                  `json:"id"`
	ChangeType  domain.TicketChangeType `json:"change_type"`
	ChangedByID *string                 `json:"changed_by_id"`
	OldValue    map[string]any          `json:"old_value"`
	NewValue    map[string]any          `json:"new_value"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NewTicketResponse projects a ticket. Overdue is evaluated at now.
func NewTicketResponse(ticket *domain.Ticket, now time.Time) TicketResponse {
	return TicketResponse{
		ID:          ticket.ID,
		Number:      ticket.Number,
		Subject:     ticket.Subject,
		Description: ticket.Description,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		Category:    ticket.Category,
		CreatorID:   ticket.CreatorID,
		AssigneeID:  ticket.AssigneeID,
		AssetID:     ticket.AssetID,
		SoftwareID:  ticket.SoftwareID,
		SLADeadline: ticket.SLADeadline,
		Overdue:     ticket.Overdue(now),
		ResolvedAt:  ticket.ResolvedAt,
		ClosedAt:    ticket.ClosedAt,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

// RefreshOverdue re-evaluates the overdue flag, e.g. for a cached response.
func (t *TicketResponse) RefreshOverdue(now time.Time) {
	finished := t.Status == domain.TicketStatusResolved || t.Status == domain.TicketStatusClosed
	t.Overdue = !finished && now.After(t.SLADeadline)
}

// NewTicketCommentResponse projects a comment.
func NewTicketCommentResponse(comment *domain.TicketComment) TicketCommentResponse {
	return TicketCommentResponse{
		ID:         comment.ID,
		AuthorID:   comment.AuthorID,
		Content:    comment.Content,
		IsInternal: comment.IsInternal,
		CreatedAt:  comment.CreatedAt,
	}
}

// NewTicketDetailResponse projects a ticket with its thread and history.
func NewTicketDetailResponse(ticket *domain.Ticket, comments []domain.TicketComment, history []domain.TicketHistory, now time.Time) TicketDetailResponse {
	resp := TicketDetailResponse{
		TicketResponse: NewTicketResponse(ticket, now),
		Comments:       make([]TicketCommentResponse, 0, len(comments)),
		History:        make([]TicketHistoryResponse, 0, len(history)),
	}
	for i := range comments {
		resp.Comments = append(resp.Comments, NewTicketCommentResponse(&comments[i]))
	}
	for _, entry := range history {
		resp.History = append(resp.History, TicketHistoryResponse{
			ID:          entry.ID,
			ChangeType:  entry.ChangeType,
			ChangedByID: entry.ChangedByID,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return resp
}
