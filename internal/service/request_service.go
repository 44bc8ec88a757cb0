package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/numbering"
	"github.com/spec-kit/ops-portal/internal/repository"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

// RequestService owns request submission and the approval chain.
type RequestService struct {
	requests  repository.RequestRepository
	approvals repository.ApprovalRepository
	directory repository.ActorRepository
	tx        repository.Transactor
	numbers   numbering.Generator
	logger    *zap.Logger
	now       func() time.Time
	publisher
}

// RequestDependencies bundles collaborators for the request service.
type RequestDependencies struct {
	RequestRepo  repository.RequestRepository
	ApprovalRepo repository.ApprovalRepository
	Directory    repository.ActorRepository
	Transactor   repository.Transactor
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Now          func() time.Time
}

// RequestSubmitInput describes a request submission payload.
type RequestSubmitInput struct {
	Type          domain.RequestType
	Subject       string
	Description   string
	Justification string
	Details       json.RawMessage
}

// RequestView is a request joined with its people and approval chain.
type RequestView struct {
	Request   *domain.Request
	Requestor *domain.ActorRef
	Manager   *domain.ActorRef
	Approvals []domain.RequestApproval
}

// NewRequestService constructs the service.
func NewRequestService(deps RequestDependencies) *RequestService {
	now := clockOrDefault(deps.Now)
	logger := loggerOrNop(deps.Logger)
	return &RequestService{
		requests:  deps.RequestRepo,
		approvals: deps.ApprovalRepo,
		directory: deps.Directory,
		tx:        deps.Transactor,
		numbers:   numbering.Generator{Prefix: numbering.PrefixRequest, Now: now},
		logger:    logger,
		now:       now,
		publisher: publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
	}
}

// SubmitRequest validates and stores a request, seeding a level-1 approval for
// the requestor's manager. A requestor without a manager gets no approval
// record; such requests stay pending until a level is added by hand.
func (s *RequestService) SubmitRequest(ctx context.Context, requestorID string, input RequestSubmitInput) (*RequestView, error) {
	details, err := validateRequestInput(input)
	if err != nil {
		return nil, err
	}
	requestor, err := lookupActor(ctx, s.directory, requestorID, "requestor")
	if err != nil {
		return nil, err
	}
	var manager *domain.Actor
	if requestor.ManagerID != nil {
		manager, err = lookupActor(ctx, s.directory, *requestor.ManagerID, "manager")
		if err != nil {
			return nil, err
		}
	}

	request := &domain.Request{
		Type:          input.Type,
		Subject:       strings.TrimSpace(input.Subject),
		Description:   strings.TrimSpace(input.Description),
		Justification: strings.TrimSpace(input.Justification),
		Details:       details,
		Status:        domain.RequestStatusPendingApproval,
		RequestorID:   requestor.ID,
	}
	var approvals []domain.RequestApproval

	err = withNumber(s.numbers.Next, func(number string) error {
		request.Number = number
		approvals = nil
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.requests.Create(ctx, request); err != nil {
				return err
			}
			if manager == nil {
				return nil
			}
			approval := &domain.RequestApproval{
				RequestID:  request.ID,
				ApproverID: manager.ID,
				Level:      1,
				Status:     domain.ApprovalStatusPending,
			}
			if err := s.approvals.Create(ctx, approval); err != nil {
				return err
			}
			approvals = append(approvals, *approval)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	payload := events.RequestSubmittedPayload{
		Number:    request.Number,
		Type:      request.Type,
		Subject:   request.Subject,
		Requestor: events.RecipientOf(requestor),
	}
	if manager != nil {
		approver := events.RecipientOf(manager)
		payload.Approver = &approver
	} else {
		s.logger.Warn("request submitted without approval chain",
			zap.String("request_id", request.ID),
			zap.String("requestor_id", requestor.ID))
	}
	s.publish(ctx, events.Event{
		Type:          events.EventRequestSubmitted,
		AggregateType: events.AggregateRequest,
		AggregateID:   request.ID,
		ActorID:       requestor.ID,
		Payload:       payload,
	})

	return &RequestView{
		Request:   request,
		Requestor: requestor.Ref(),
		Manager:   manager.Ref(),
		Approvals: approvals,
	}, nil
}

// Decide records an approver's decision and derives the request status in the
// same transaction. The request row is locked so concurrent decisions on one
// request serialize. Deciding without a pending record, or on a request that
// already reached a terminal status, is a conflict.
func (s *RequestService) Decide(ctx context.Context, requestID, approverID string, decision domain.ApprovalStatus, comments *string) (*domain.Request, error) {
	if !decision.ValidDecision() {
		return nil, apperrors.NewValidationError("invalid decision", map[string]any{"decision": "must be APPROVED or REJECTED"})
	}
	if strings.TrimSpace(approverID) == "" {
		return nil, apperrors.NewValidationError("approver id required", nil)
	}
	comments = trimmedOrNil(comments)
	now := s.now()

	var (
		request   *domain.Request
		oldStatus domain.RequestStatus
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.requests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return notFoundOr(err, "request", map[string]any{"request_id": requestID})
		}
		if current.Status.Terminal() {
			return apperrors.NewConflict("request already decided", map[string]any{
				"request_id": requestID,
				"status":     current.Status,
			})
		}
		changed, err := s.approvals.RecordDecision(ctx, requestID, approverID, decision, comments, now)
		if err != nil {
			return err
		}
		if changed == 0 {
			return apperrors.NewConflict("no pending approval for approver", map[string]any{
				"request_id":  requestID,
				"approver_id": approverID,
			})
		}

		oldStatus = current.Status
		if decision == domain.ApprovalStatusRejected {
			current.Status = domain.RequestStatusRejected
		} else {
			chain, err := s.approvals.ListByRequest(ctx, requestID)
			if err != nil {
				return err
			}
			current.Status = domain.DeriveRequestStatus(chain)
		}
		if current.Status != oldStatus {
			if err := s.requests.UpdateStatus(ctx, requestID, current.Status); err != nil {
				return notFoundOr(err, "request", map[string]any{"request_id": requestID})
			}
			current.UpdatedAt = now
		}
		request = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishDecision(ctx, request, approverID, decision, comments, oldStatus)
	return request, nil
}

func (s *RequestService) publishDecision(ctx context.Context, request *domain.Request, approverID string, decision domain.ApprovalStatus, comments *string, oldStatus domain.RequestStatus) {
	requestor := s.actorForNotice(ctx, request.RequestorID)
	approver := s.actorForNotice(ctx, approverID)

	s.publish(ctx, events.Event{
		Type:          events.EventRequestDecided,
		AggregateType: events.AggregateRequest,
		AggregateID:   request.ID,
		ActorID:       approverID,
		Payload: events.RequestDecidedPayload{
			Number:    request.Number,
			Decision:  decision,
			Comments:  comments,
			Approver:  events.RecipientOf(approver),
			Requestor: events.RecipientOf(requestor),
			Status:    request.Status,
		},
	})
	if request.Status != oldStatus {
		s.publish(ctx, events.Event{
			Type:          events.EventRequestStatusChanged,
			AggregateType: events.AggregateRequest,
			AggregateID:   request.ID,
			ActorID:       approverID,
			Payload: events.RequestStatusChangedPayload{
				Number:    request.Number,
				OldStatus: oldStatus,
				NewStatus: request.Status,
			},
		})
	}
}

// AddApprovalLevel extends a pending request's chain with another approver.
// This is the manual path for requests submitted without a manager and for
// chains longer than the direct manager.
func (s *RequestService) AddApprovalLevel(ctx context.Context, requestID, approverID string, level int) (*domain.RequestApproval, error) {
	if level < 1 {
		return nil, apperrors.NewValidationError("invalid approval level", map[string]any{"level": "must be at least 1"})
	}
	approver, err := lookupActor(ctx, s.directory, approverID, "approver")
	if err != nil {
		return nil, err
	}

	var (
		request  *domain.Request
		approval *domain.RequestApproval
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.requests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return notFoundOr(err, "request", map[string]any{"request_id": requestID})
		}
		if current.Status.Terminal() {
			return apperrors.NewConflict("request already decided", map[string]any{
				"request_id": requestID,
				"status":     current.Status,
			})
		}
		record := &domain.RequestApproval{
			RequestID:  requestID,
			ApproverID: approver.ID,
			Level:      level,
			Status:     domain.ApprovalStatusPending,
		}
		switch err := s.approvals.Create(ctx, record); {
		case errors.Is(err, repository.ErrDuplicateLevel):
			return apperrors.NewConflict("approval level already exists", map[string]any{"request_id": requestID, "level": level})
		case errors.Is(err, repository.ErrApproverPending):
			return apperrors.NewConflict("approver already has a pending approval", map[string]any{"request_id": requestID, "approver_id": approver.ID})
		case err != nil:
			return err
		}
		request = current
		approval = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	requestor := s.actorForNotice(ctx, request.RequestorID)
	s.publish(ctx, events.Event{
		Type:          events.EventApprovalLevelAdded,
		AggregateType: events.AggregateRequest,
		AggregateID:   request.ID,
		Payload: events.ApprovalLevelAddedPayload{
			Number:    request.Number,
			Level:     level,
			Approver:  events.RecipientOf(approver),
			Requestor: events.RecipientOf(requestor),
		},
	})
	return approval, nil
}

// GetRequest loads a request with its chain and people.
func (s *RequestService) GetRequest(ctx context.Context, requestID string) (*RequestView, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, notFoundOr(err, "request", map[string]any{"request_id": requestID})
	}
	chain, err := s.approvals.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	view := &RequestView{Request: request, Approvals: chain}
	requestor, err := s.directory.GetByID(ctx, request.RequestorID)
	if err != nil && !apperrors.IsMissingRow(err) {
		return nil, err
	}
	view.Requestor = requestor.Ref()
	if requestor != nil && requestor.ManagerID != nil {
		manager, err := s.directory.GetByID(ctx, *requestor.ManagerID)
		if err != nil && !apperrors.IsMissingRow(err) {
			return nil, err
		}
		view.Manager = manager.Ref()
	}
	return view, nil
}

// ListUnroutedRequests returns pending requests that have no approval chain.
func (s *RequestService) ListUnroutedRequests(ctx context.Context, limit int) ([]domain.Request, error) {
	return s.requests.ListUnrouted(ctx, limit)
}

// actorForNotice resolves an actor for a notification after commit. A failed
// lookup only loses the notification.
func (s *RequestService) actorForNotice(ctx context.Context, id string) *domain.Actor {
	actor, err := s.directory.GetByID(ctx, id)
	if err != nil {
		s.logger.Warn("actor lookup for notification failed", zap.String("actor_id", id), zap.Error(err))
		return nil
	}
	return actor
}

func validateRequestInput(input RequestSubmitInput) (domain.RequestDetails, error) {
	problems := map[string]any{}
	if !input.Type.Valid() {
		problems["type"] = "must be one of HARDWARE, SOFTWARE, ACCESS, GENERAL"
	}
	validateText(problems, "subject", input.Subject, maxSubjectLen)
	validateText(problems, "description", input.Description, 0)
	validateText(problems, "justification", input.Justification, 0)

	var details domain.RequestDetails
	if input.Type.Valid() {
		decoded, err := domain.DecodeRequestDetails(input.Type, input.Details)
		switch {
		case errors.Is(err, domain.ErrDetailsRequired):
			problems["details"] = "required"
		case err != nil:
			problems["details"] = err.Error()
		default:
			for field, problem := range decoded.Validate() {
				problems["details."+field] = problem
			}
			details = decoded
		}
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid request", problems)
	}
	return details, nil
}
