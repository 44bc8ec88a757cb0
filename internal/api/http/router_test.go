package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/api/http/handlers"
	"github.com/spec-kit/ops-portal/internal/auth"
	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/observability"
	"github.com/spec-kit/ops-portal/internal/service"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

type stubDirectory map[string]domain.Actor

func (d stubDirectory) GetByID(_ context.Context, id string) (*domain.Actor, error) {
	actor, ok := d[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &actor, nil
}

func (d stubDirectory) GetByEmail(context.Context, string) (*domain.Actor, error) {
	return nil, pgx.ErrNoRows
}

type stubRequests struct {
	submitted   service.RequestSubmitInput
	requestorID string
	decideErr   error
	submitErr   error
	view        *service.RequestView
}

func (s *stubRequests) SubmitRequest(_ context.Context, requestorID string, input service.RequestSubmitInput) (*service.RequestView, error) {
	s.requestorID = requestorID
	s.submitted = input
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &service.RequestView{Request: &domain.Request{
		ID:          "r-1",
		Number:      "REQ-1",
		Type:        input.Type,
		Status:      domain.RequestStatusPendingApproval,
		RequestorID: requestorID,
		Details:     domain.GeneralDetails{},
	}}, nil
}

func (s *stubRequests) Decide(_ context.Context, requestID, approverID string, decision domain.ApprovalStatus, _ *string) (*domain.Request, error) {
	if s.decideErr != nil {
		return nil, s.decideErr
	}
	return &domain.Request{ID: requestID, Number: "REQ-1", Status: domain.RequestStatusApproved}, nil
}

func (s *stubRequests) GetRequest(_ context.Context, requestID string) (*service.RequestView, error) {
	if s.view == nil {
		return nil, apperrors.NewNotFound("request", nil)
	}
	return s.view, nil
}

type stubTickets struct {
	lastStaff bool
	patch     service.TicketPatch
	comments  int
	ticket    domain.Ticket
	getErr    error
}

func (s *stubTickets) SubmitTicket(_ context.Context, creatorID string, input service.TicketCreateInput) (*domain.Ticket, error) {
	ticket := s.ticket
	ticket.CreatorID = creatorID
	ticket.Priority = input.Priority
	return &ticket, nil
}

func (s *stubTickets) UpdateTicket(_ context.Context, _ string, _ string, patch service.TicketPatch) (*domain.Ticket, error) {
	s.patch = patch
	ticket := s.ticket
	return &ticket, nil
}

func (s *stubTickets) AssignTicket(_ context.Context, _ string, _ string, assigneeID string) (*domain.Ticket, error) {
	ticket := s.ticket
	ticket.AssigneeID = &assigneeID
	ticket.Status = domain.TicketStatusInProgress
	return &ticket, nil
}

func (s *stubTickets) AddComment(_ context.Context, ticketID, authorID, content string, isInternal bool) (*domain.TicketComment, error) {
	s.comments++
	return &domain.TicketComment{ID: "c-1", TicketID: ticketID, AuthorID: authorID, Content: content, IsInternal: isInternal}, nil
}

func (s *stubTickets) GetTicket(_ context.Context, _ string, staff bool) (*service.TicketDetail, error) {
	s.lastStaff = staff
	if s.getErr != nil {
		return nil, s.getErr
	}
	ticket := s.ticket
	return &service.TicketDetail{Ticket: &ticket}, nil
}

type testServer struct {
	app      *fiber.App
	tokens   *auth.TokenManager
	requests *stubRequests
	tickets  *stubTickets
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	directory := stubDirectory{
		"emp":   {ID: "emp", Name: "Eli", Role: domain.ActorRoleEmployee, Active: true},
		"other": {ID: "other", Name: "Oz", Role: domain.ActorRoleEmployee, Active: true},
		"agent": {ID: "agent", Name: "Sam", Role: domain.ActorRoleITStaff, Active: true},
	}
	tokens := auth.NewTokenManager("test-secret", 5)
	requests := &stubRequests{}
	tickets := &stubTickets{ticket: domain.Ticket{
		ID:          "t-1",
		Number:      "TKT-1",
		Status:      domain.TicketStatusOpen,
		CreatorID:   "emp",
		SLADeadline: time.Now().Add(time.Hour),
	}}
	metrics := observability.NewMetrics()

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ops-portal", "test", nil, nil),
		Requests:       handlers.NewRequestsHandler(requests, nil),
		Tickets:        handlers.NewTicketsHandler(tickets, nil),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokens, directory),
	})
	return &testServer{app: app, tokens: tokens, requests: requests, tickets: tickets}
}

func (s *testServer) do(t *testing.T, method, path, actorID, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		token, _, err := s.tokens.GenerateToken(actorID, domain.ActorRoleEmployee)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func TestCreateRequestRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodPost, "/requests", "", `{}`)
	if status != http.StatusUnauthorized || errorCode(body) != apperrors.CodeUnauthorized {
		t.Fatalf("expected 401, got %d %v", status, body)
	}
}

func TestCreateRequest(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodPost, "/requests", "emp",
		`{"type":"general","subject":"Desk","description":"Standing desk","justification":"Back pain","details":{"note":"any"}}`)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", status, body)
	}
	if srv.requests.requestorID != "emp" || srv.requests.submitted.Type != domain.RequestTypeGeneral {
		t.Fatalf("unexpected service call %+v", srv.requests.submitted)
	}
	if string(srv.requests.submitted.Details) != `{"note":"any"}` {
		t.Fatalf("details must be passed through raw, got %s", srv.requests.submitted.Details)
	}
}

func TestCreateRequestValidationError(t *testing.T) {
	srv := newTestServer(t)
	srv.requests.submitErr = apperrors.NewValidationError("invalid request", map[string]any{"subject": "required"})
	status, body := srv.do(t, http.MethodPost, "/requests", "emp", `{"type":"HARDWARE"}`)
	if status != http.StatusBadRequest || errorCode(body) != apperrors.CodeValidation {
		t.Fatalf("expected 400, got %d %v", status, body)
	}
	details, _ := body["error"].(map[string]any)["details"].(map[string]any)
	if details["subject"] != "required" {
		t.Fatalf("expected field details, got %v", body)
	}
}

func TestDecideConflict(t *testing.T) {
	srv := newTestServer(t)
	srv.requests.decideErr = apperrors.NewConflict("no pending approval for approver", nil)
	status, body := srv.do(t, http.MethodPost, "/requests/r-1/decision", "emp", `{"decision":"approved"}`)
	if status != http.StatusConflict || errorCode(body) != apperrors.CodeConflict {
		t.Fatalf("expected 409, got %d %v", status, body)
	}
}

func TestGetRequestVisibility(t *testing.T) {
	srv := newTestServer(t)
	srv.requests.view = &service.RequestView{
		Request: &domain.Request{ID: "r-1", RequestorID: "emp", Details: domain.GeneralDetails{}},
		Approvals: []domain.RequestApproval{
			{ID: "a-1", ApproverID: "agent", Level: 1, Status: domain.ApprovalStatusPending},
		},
	}
	if status, _ := srv.do(t, http.MethodGet, "/requests/r-1", "emp", ""); status != http.StatusOK {
		t.Fatalf("requestor must see the request, got %d", status)
	}
	if status, _ := srv.do(t, http.MethodGet, "/requests/r-1", "other", ""); status != http.StatusForbidden {
		t.Fatalf("uninvolved employee must be forbidden, got %d", status)
	}
	srv.requests.view = nil
	if status, _ := srv.do(t, http.MethodGet, "/requests/r-2", "emp", ""); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestTicketMutationsRequireStaff(t *testing.T) {
	srv := newTestServer(t)
	if status, _ := srv.do(t, http.MethodPatch, "/tickets/t-1", "emp", `{"status":"RESOLVED"}`); status != http.StatusForbidden {
		t.Fatalf("employee patch must be forbidden, got %d", status)
	}
	if status, _ := srv.do(t, http.MethodPost, "/tickets/t-1/assign", "emp", `{"assignee_id":"agent"}`); status != http.StatusForbidden {
		t.Fatalf("employee assign must be forbidden, got %d", status)
	}

	status, _ := srv.do(t, http.MethodPatch, "/tickets/t-1", "agent", `{"status":"resolved"}`)
	if status != http.StatusOK {
		t.Fatalf("staff patch failed: %d", status)
	}
	if srv.tickets.patch.Status == nil || *srv.tickets.patch.Status != domain.TicketStatusResolved {
		t.Fatalf("status not normalized: %+v", srv.tickets.patch)
	}
	status, body := srv.do(t, http.MethodPost, "/tickets/t-1/assign", "agent", `{"assignee_id":"agent"}`)
	data, _ := body["data"].(map[string]any)
	if status != http.StatusOK || data["status"] != string(domain.TicketStatusInProgress) {
		t.Fatalf("assign failed: %d %v", status, body)
	}
}

func TestTicketComments(t *testing.T) {
	srv := newTestServer(t)
	if status, _ := srv.do(t, http.MethodPost, "/tickets/t-1/comments", "emp", `{"content":"hi","is_internal":true}`); status != http.StatusForbidden {
		t.Fatalf("employee internal note must be forbidden, got %d", status)
	}
	if status, _ := srv.do(t, http.MethodPost, "/tickets/t-1/comments", "other", `{"content":"hi"}`); status != http.StatusForbidden {
		t.Fatalf("comment on someone else's ticket must be forbidden, got %d", status)
	}
	if status, _ := srv.do(t, http.MethodPost, "/tickets/t-1/comments", "emp", `{"content":"hi"}`); status != http.StatusCreated {
		t.Fatalf("creator comment failed: %d", status)
	}
	if status, _ := srv.do(t, http.MethodPost, "/tickets/t-1/comments", "agent", `{"content":"note","is_internal":true}`); status != http.StatusCreated {
		t.Fatalf("staff internal note failed: %d", status)
	}
	if srv.tickets.comments != 2 {
		t.Fatalf("expected two stored comments, got %d", srv.tickets.comments)
	}
}

func TestGetTicketScopesByRole(t *testing.T) {
	srv := newTestServer(t)
	if status, _ := srv.do(t, http.MethodGet, "/tickets/t-1", "emp", ""); status != http.StatusOK || srv.tickets.lastStaff {
		t.Fatalf("creator read failed or saw staff view: %d", status)
	}
	if status, _ := srv.do(t, http.MethodGet, "/tickets/t-1", "other", ""); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if status, _ := srv.do(t, http.MethodGet, "/tickets/t-1", "agent", ""); status != http.StatusOK || !srv.tickets.lastStaff {
		t.Fatalf("staff read failed or got public view: %d", status)
	}
}

func TestMalformedTicketIDIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	srv.tickets.getErr = &pgconn.PgError{Code: "22P02"}
	status, body := srv.do(t, http.MethodGet, "/tickets/not-a-uuid", "agent", "")
	if status != http.StatusNotFound || errorCode(body) != apperrors.CodeNotFound {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", status, body)
	}
}

func TestHealthMetricsAndUnknownRoutes(t *testing.T) {
	srv := newTestServer(t)
	if status, body := srv.do(t, http.MethodGet, "/health/ready", "", ""); status != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready failed: %d %v", status, body)
	}
	if status, body := srv.do(t, http.MethodGet, "/nowhere", "", ""); status != http.StatusNotFound || errorCode(body) != apperrors.CodeNotFound {
		t.Fatalf("expected JSON 404, got %d %v", status, body)
	}

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "ops_portal_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}
