package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ops-portal/internal/api/dto"
	"github.com/spec-kit/ops-portal/internal/auth"
	"github.com/spec-kit/ops-portal/internal/cache"
	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/service"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

// RequestEngine is the approval surface the handler drives.
type RequestEngine interface {
	SubmitRequest(ctx context.Context, requestorID string, input service.RequestSubmitInput) (*service.RequestView, error)
	Decide(ctx context.Context, requestID, approverID string, decision domain.ApprovalStatus, comments *string) (*domain.Request, error)
	GetRequest(ctx context.Context, requestID string) (*service.RequestView, error)
}

// RequestsHandler manages service request endpoints.
type RequestsHandler struct {
	service RequestEngine
	views   *cache.Views
}

// NewRequestsHandler constructs handler. views may be nil.
func NewRequestsHandler(requestService RequestEngine, views *cache.Views) *RequestsHandler {
	return &RequestsHandler{service: requestService, views: views}
}

// CreateRequest POST /requests.
func (h *RequestsHandler) CreateRequest(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	view, err := h.service.SubmitRequest(c.UserContext(), principal.Actor.ID, service.RequestSubmitInput{
		Type:          domain.RequestType(strings.ToUpper(strings.TrimSpace(string(req.Type)))),
		Subject:       req.Subject,
		Description:   req.Description,
		Justification: req.Justification,
		Details:       req.Details,
	})
	if err != nil {
		return err
	}
	resp, err := dto.NewRequestResponse(view.Request, view.Requestor, view.Manager, view.Approvals)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": resp})
}

// GetRequest GET /requests/:id. Visible to the requestor, anyone on the
// approval chain and staff.
func (h *RequestsHandler) GetRequest(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id := c.Params("id")

	var resp dto.RequestResponse
	if !h.views.Get(c.UserContext(), events.AggregateRequest, id, cache.VariantPublic, &resp) {
		generation := h.views.Generation(c.UserContext(), events.AggregateRequest, id)
		view, err := h.service.GetRequest(c.UserContext(), id)
		if err != nil {
			return err
		}
		resp, err = dto.NewRequestResponse(view.Request, view.Requestor, view.Manager, view.Approvals)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		h.views.Put(c.UserContext(), events.AggregateRequest, id, cache.VariantPublic, generation, resp)
	}
	if !principal.IsStaff() && !resp.Involves(principal.Actor.ID) {
		return apperrors.NewForbidden("request not visible to caller")
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Decide POST /requests/:id/decision. The caller decides as themselves.
func (h *RequestsHandler) Decide(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.DecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	decision := domain.ApprovalStatus(strings.ToUpper(strings.TrimSpace(string(req.Decision))))
	request, err := h.service.Decide(c.UserContext(), c.Params("id"), principal.Actor.ID, decision, req.Comments)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"id":     request.ID,
		"number": request.Number,
		"status": request.Status,
	}})
}
