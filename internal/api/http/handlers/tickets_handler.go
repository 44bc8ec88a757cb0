package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ops-portal/internal/api/dto"
	"github.com/spec-kit/ops-portal/internal/auth"
	"github.com/spec-kit/ops-portal/internal/cache"
	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/service"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

// TicketEngine is the ticket lifecycle surface the handler drives.
type TicketEngine interface {
	SubmitTicket(ctx context.Context, creatorID string, input service.TicketCreateInput) (*domain.Ticket, error)
	UpdateTicket(ctx context.Context, ticketID, actorID string, patch service.TicketPatch) (*domain.Ticket, error)
	AssignTicket(ctx context.Context, ticketID, actorID, assigneeID string) (*domain.Ticket, error)
	AddComment(ctx context.Context, ticketID, authorID, content string, isInternal bool) (*domain.TicketComment, error)
	GetTicket(ctx context.Context, ticketID string, staff bool) (*service.TicketDetail, error)
}

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service TicketEngine
	views   *cache.Views
	now     func() time.Time
}

// NewTicketsHandler constructs handler. views may be nil.
func NewTicketsHandler(ticketService TicketEngine, views *cache.Views) *TicketsHandler {
	return &TicketsHandler{service: ticketService, views: views, now: time.Now}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.SubmitTicket(c.UserContext(), principal.Actor.ID, service.TicketCreateInput{
		Subject:     req.Subject,
		Description: req.Description,
		Priority:    req.Priority,
		Category:    req.Category,
		AssetID:     req.AssetID,
		SoftwareID:  req.SoftwareID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, h.now())})
}

// GetTicket GET /tickets/:id. Non-staff callers only see their own tickets
// and never see internal comments.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id := c.Params("id")
	staff := principal.IsStaff()
	variant := cache.VariantPublic
	if staff {
		variant = cache.VariantStaff
	}

	var resp dto.TicketDetailResponse
	if !h.views.Get(c.UserContext(), events.AggregateTicket, id, variant, &resp) {
		generation := h.views.Generation(c.UserContext(), events.AggregateTicket, id)
		detail, err := h.service.GetTicket(c.UserContext(), id, staff)
		if err != nil {
			return err
		}
		resp = dto.NewTicketDetailResponse(detail.Ticket, detail.Comments, detail.History, h.now())
		h.views.Put(c.UserContext(), events.AggregateTicket, id, variant, generation, resp)
	}
	if !staff && resp.CreatorID != principal.Actor.ID {
		return apperrors.NewForbidden("ticket belongs to another employee")
	}
	resp.RefreshOverdue(h.now())
	return c.JSON(fiber.Map{"data": resp})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.UpdateTicket(c.UserContext(), c.Params("id"), principal.Actor.ID, service.TicketPatch{
		Status:     normalizeStatus(req.Status),
		AssigneeID: req.AssigneeID,
		Category:   req.Category,
		Priority:   req.Priority,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, h.now())})
}

// AssignTicket POST /tickets/:id/assign.
func (h *TicketsHandler) AssignTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.AssignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.AssignTicket(c.UserContext(), c.Params("id"), principal.Actor.ID, strings.TrimSpace(req.AssigneeID))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, h.now())})
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if !principal.IsStaff() {
		if req.IsInternal {
			return apperrors.NewForbidden("internal comments are restricted to staff")
		}
		detail, err := h.service.GetTicket(c.UserContext(), c.Params("id"), false)
		if err != nil {
			return err
		}
		if detail.Ticket.CreatorID != principal.Actor.ID {
			return apperrors.NewForbidden("ticket belongs to another employee")
		}
	}
	comment, err := h.service.AddComment(c.UserContext(), c.Params("id"), principal.Actor.ID, req.Content, req.IsInternal)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketCommentResponse(comment)})
}

func normalizeStatus(status *domain.TicketStatus) *domain.TicketStatus {
	if status == nil {
		return nil
	}
	normalized := domain.TicketStatus(strings.ToUpper(strings.TrimSpace(string(*status))))
	return &normalized
}
