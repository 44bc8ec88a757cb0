package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/numbering"
	"github.com/spec-kit/ops-portal/internal/repository"
	"github.com/spec-kit/ops-portal/internal/sla"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets   repository.TicketRepository
	comments  repository.TicketCommentRepository
	history   repository.TicketHistoryRepository
	directory repository.ActorRepository
	tx        repository.Transactor
	numbers   numbering.Generator
	policy    TicketPolicy
	logger    *zap.Logger
	now       func() time.Time
	publisher
}

// TicketPolicy holds switchable lifecycle rules.
type TicketPolicy struct {
	// AssignReopensTerminal lets assignment pull RESOLVED/CLOSED tickets back
	// to IN_PROGRESS. When false such assignments are rejected.
	AssignReopensTerminal bool
}

// DefaultTicketPolicy keeps assignment unconditional.
func DefaultTicketPolicy() TicketPolicy {
	return TicketPolicy{AssignReopensTerminal: true}
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	CommentRepo repository.TicketCommentRepository
	HistoryRepo repository.TicketHistoryRepository
	Directory   repository.ActorRepository
	Transactor  repository.Transactor
	Dispatcher  events.Dispatcher
	Policy      TicketPolicy
	Logger      *zap.Logger
	Now         func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject     string
	Description string
	Priority    domain.TicketPriority
	Category    domain.TicketCategory
	AssetID     *string
	SoftwareID  *string
}

// TicketPatch is a partial update. Nil fields are left alone.
type TicketPatch struct {
	Status     *domain.TicketStatus
	AssigneeID *string
	Category   *domain.TicketCategory
	Priority   *domain.TicketPriority
}

// Empty reports whether the patch carries no field.
func (p TicketPatch) Empty() bool {
	return p.Status == nil && p.AssigneeID == nil && p.Category == nil && p.Priority == nil
}

// TicketDetail is a ticket with its thread and audit trail.
type TicketDetail struct {
	Ticket   *domain.Ticket
	Comments []domain.TicketComment
	History  []domain.TicketHistory
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	now := clockOrDefault(deps.Now)
	logger := loggerOrNop(deps.Logger)
	return &TicketService{
		tickets:   deps.TicketRepo,
		comments:  deps.CommentRepo,
		history:   deps.HistoryRepo,
		directory: deps.Directory,
		tx:        deps.Transactor,
		numbers:   numbering.Generator{Prefix: numbering.PrefixTicket, Now: now},
		policy:    deps.Policy,
		logger:    logger,
		now:       now,
		publisher: publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
	}
}

// SubmitTicket opens a ticket with an SLA deadline fixed from its priority.
func (s *TicketService) SubmitTicket(ctx context.Context, creatorID string, input TicketCreateInput) (*domain.Ticket, error) {
	problems := map[string]any{}
	validateText(problems, "subject", input.Subject, maxSubjectLen)
	validateText(problems, "description", input.Description, 0)
	if !sla.Known(input.Priority) {
		problems["priority"] = "must be one of CRITICAL, HIGH, MEDIUM, LOW"
	}
	if !input.Category.Valid() {
		problems["category"] = "must be one of HARDWARE, SOFTWARE, NETWORK, ACCESS, OTHER"
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", problems)
	}
	creator, err := lookupActor(ctx, s.directory, creatorID, "creator")
	if err != nil {
		return nil, err
	}

	now := s.now()
	deadline, err := sla.Deadline(input.Priority, now)
	if err != nil {
		return nil, err
	}
	ticket := &domain.Ticket{
		Subject:     strings.TrimSpace(input.Subject),
		Description: strings.TrimSpace(input.Description),
		Priority:    input.Priority,
		Category:    input.Category,
		Status:      domain.TicketStatusOpen,
		CreatorID:   creator.ID,
		AssetID:     trimmedOrNil(input.AssetID),
		SoftwareID:  trimmedOrNil(input.SoftwareID),
		SLADeadline: deadline,
	}
	err = withNumber(s.numbers.Next, func(number string) error {
		ticket.Number = number
		return s.tickets.Create(ctx, ticket)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:          events.EventTicketCreated,
		AggregateType: events.AggregateTicket,
		AggregateID:   ticket.ID,
		ActorID:       creator.ID,
		Payload: events.TicketCreatedPayload{
			Number:      ticket.Number,
			Subject:     ticket.Subject,
			Priority:    ticket.Priority,
			Category:    ticket.Category,
			SLADeadline: ticket.SLADeadline,
			Creator:     events.RecipientOf(creator),
		},
	})
	return ticket, nil
}

// UpdateTicket applies a partial update. Resolution and closure times are
// stamped the first time those states are reached and kept afterwards.
// Priority changes leave the SLA deadline as it was set at creation.
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID, actorID string, patch TicketPatch) (*domain.Ticket, error) {
	if patch.Empty() {
		return nil, apperrors.NewValidationError("empty patch", nil)
	}
	problems := map[string]any{}
	if patch.Status != nil && !patch.Status.Valid() {
		problems["status"] = "must be one of OPEN, IN_PROGRESS, RESOLVED, CLOSED"
	}
	if patch.Priority != nil && !sla.Known(*patch.Priority) {
		problems["priority"] = "must be one of CRITICAL, HIGH, MEDIUM, LOW"
	}
	if patch.Category != nil && !patch.Category.Valid() {
		problems["category"] = "must be one of HARDWARE, SOFTWARE, NETWORK, ACCESS, OTHER"
	}
	if patch.AssigneeID != nil && strings.TrimSpace(*patch.AssigneeID) == "" {
		problems["assignee_id"] = "must not be blank"
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket update", problems)
	}
	if patch.AssigneeID != nil {
		if _, err := lookupActor(ctx, s.directory, *patch.AssigneeID, "assignee"); err != nil {
			return nil, err
		}
	}

	var (
		ticket    *domain.Ticket
		oldStatus domain.TicketStatus
		changed   []string
	)
	now := s.now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		oldStatus = current.Status
		entries := s.applyPatch(current, actorID, patch, now)
		if err := s.tickets.Update(ctx, current); err != nil {
			return notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		for i := range entries {
			if err := s.history.Create(ctx, &entries[i]); err != nil {
				return err
			}
			changed = append(changed, changeField(entries[i].ChangeType))
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		s.publish(ctx, events.Event{
			Type:          events.EventTicketUpdated,
			AggregateType: events.AggregateTicket,
			AggregateID:   ticket.ID,
			ActorID:       actorID,
			Payload:       events.TicketUpdatedPayload{Number: ticket.Number, Changed: changed},
		})
	}
	if ticket.Status != oldStatus {
		s.publishStatusChange(ctx, ticket, actorID, oldStatus)
	}
	return ticket, nil
}

// applyPatch mutates ticket in place and returns one history entry per field
// whose value actually changed.
func (s *TicketService) applyPatch(ticket *domain.Ticket, actorID string, patch TicketPatch, now time.Time) []domain.TicketHistory {
	var entries []domain.TicketHistory
	record := func(change domain.TicketChangeType, key string, oldValue, newValue any) {
		entries = append(entries, domain.TicketHistory{
			TicketID:    ticket.ID,
			ChangedByID: actorRef(actorID),
			ChangeType:  change,
			OldValue:    map[string]any{key: oldValue},
			NewValue:    map[string]any{key: newValue},
		})
	}

	if patch.Status != nil {
		old := ticket.Status
		ticket.ApplyStatus(*patch.Status, now)
		if old != ticket.Status {
			record(domain.ChangeTypeStatus, "status", old, ticket.Status)
		}
	}
	if patch.AssigneeID != nil {
		assignee := strings.TrimSpace(*patch.AssigneeID)
		if ticket.AssigneeID == nil || *ticket.AssigneeID != assignee {
			record(domain.ChangeTypeAssignee, "assignee_id", ticket.AssigneeID, assignee)
			ticket.AssigneeID = &assignee
		}
	}
	if patch.Category != nil && *patch.Category != ticket.Category {
		record(domain.ChangeTypeCategory, "category", ticket.Category, *patch.Category)
		ticket.Category = *patch.Category
	}
	if patch.Priority != nil && *patch.Priority != ticket.Priority {
		record(domain.ChangeTypePriority, "priority", ticket.Priority, *patch.Priority)
		ticket.Priority = *patch.Priority
	}
	return entries
}

// AssignTicket sets the assignee and moves the ticket to IN_PROGRESS.
func (s *TicketService) AssignTicket(ctx context.Context, ticketID, actorID, assigneeID string) (*domain.Ticket, error) {
	assignee, err := lookupActor(ctx, s.directory, assigneeID, "assignee")
	if err != nil {
		return nil, err
	}

	var (
		ticket      *domain.Ticket
		oldStatus   domain.TicketStatus
		oldAssignee *string
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.tickets.GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		if current.Finished() && !s.policy.AssignReopensTerminal {
			return apperrors.NewConflict("ticket already finished", map[string]any{
				"ticket_id": ticketID,
				"status":    current.Status,
			})
		}
		oldStatus = current.Status
		oldAssignee = current.AssigneeID
		entries := s.applyPatch(current, actorID, TicketPatch{
			Status:     statusPtr(domain.TicketStatusInProgress),
			AssigneeID: &assignee.ID,
		}, s.now())
		if err := s.tickets.Update(ctx, current); err != nil {
			return notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		for i := range entries {
			if err := s.history.Create(ctx, &entries[i]); err != nil {
				return err
			}
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:          events.EventTicketAssigned,
		AggregateType: events.AggregateTicket,
		AggregateID:   ticket.ID,
		ActorID:       actorID,
		Payload: events.TicketAssignedPayload{
			Number:      ticket.Number,
			OldAssignee: oldAssignee,
			Assignee:    events.RecipientOf(assignee),
			OldStatus:   oldStatus,
		},
	})
	return ticket, nil
}

// AddComment appends to the thread. The ticket itself is not touched.
func (s *TicketService) AddComment(ctx context.Context, ticketID, authorID, content string, isInternal bool) (*domain.TicketComment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("invalid comment", map[string]any{"content": "required"})
	}
	author, err := lookupActor(ctx, s.directory, authorID, "author")
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
	}

	comment := &domain.TicketComment{
		TicketID:   ticket.ID,
		AuthorID:   author.ID,
		Content:    content,
		IsInternal: isInternal,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{
		Type:          events.EventTicketCommentAdded,
		AggregateType: events.AggregateTicket,
		AggregateID:   ticket.ID,
		ActorID:       author.ID,
		Payload: events.TicketCommentAddedPayload{
			CommentID:   comment.ID,
			AuthorID:    author.ID,
			IsInternal:  comment.IsInternal,
			BodyPreview: stringPreview(comment.Content, previewLen),
		},
	})
	return comment, nil
}

// GetTicket loads a ticket with its comments, newest first, and history.
// Internal comments are only included for staff readers.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string, staff bool) (*TicketDetail, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	comments, err := s.comments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	history, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{
		Ticket:   ticket,
		Comments: domain.VisibleComments(comments, staff),
		History:  history,
	}, nil
}

// ListOverdueTickets returns unfinished tickets past their SLA deadline.
func (s *TicketService) ListOverdueTickets(ctx context.Context, limit int) ([]domain.Ticket, error) {
	return s.tickets.ListOverdue(ctx, s.now(), limit)
}

func (s *TicketService) publishStatusChange(ctx context.Context, ticket *domain.Ticket, actorID string, oldStatus domain.TicketStatus) {
	creator, err := s.directory.GetByID(ctx, ticket.CreatorID)
	if err != nil {
		s.logger.Warn("actor lookup for notification failed", zap.String("actor_id", ticket.CreatorID), zap.Error(err))
	}
	s.publish(ctx, events.Event{
		Type:          events.EventTicketStatusChanged,
		AggregateType: events.AggregateTicket,
		AggregateID:   ticket.ID,
		ActorID:       actorID,
		Payload: events.TicketStatusChangedPayload{
			Number:    ticket.Number,
			Subject:   ticket.Subject,
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
			Creator:   events.RecipientOf(creator),
		},
	})
}

func changeField(change domain.TicketChangeType) string {
	switch change {
	case domain.ChangeTypeStatus:
		return "status"
	case domain.ChangeTypeAssignee:
		return "assignee_id"
	case domain.ChangeTypeCategory:
		return "category"
	case domain.ChangeTypePriority:
		return "priority"
	}
	return string(change)
}

func actorRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func statusPtr(status domain.TicketStatus) *domain.TicketStatus {
	return &status
}
