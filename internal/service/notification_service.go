package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/notify"
)

// FailureRecorder counts notifications that could not be delivered.
type FailureRecorder interface {
	RecordNotificationFailure(eventType events.EventType)
}

// NotificationService turns domain events into messages for the people
// involved. Delivery is best effort: failures are logged and counted, never
// returned to the publisher.
type NotificationService struct {
	dispatcher events.Dispatcher
	sender     notify.Sender
	failures   FailureRecorder
	logger     *zap.Logger
	baseURL    string
}

// NewNotificationService creates the service. baseURL prefixes deep links.
func NewNotificationService(dispatcher events.Dispatcher, sender notify.Sender, failures FailureRecorder, logger *zap.Logger, baseURL string) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		sender:     sender,
		failures:   failures,
		logger:     loggerOrNop(logger),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil || n.sender == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventRequestSubmitted, n.handleRequestSubmitted)
	n.dispatcher.Subscribe(events.EventApprovalLevelAdded, n.handleApprovalLevelAdded)
	n.dispatcher.Subscribe(events.EventRequestDecided, n.handleRequestDecided)
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
}

func (n *NotificationService) handleRequestSubmitted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.RequestSubmittedPayload)
	if !ok || payload.Approver == nil {
		return nil
	}
	msg, err := notify.RenderApprovalNeeded(notify.ApprovalNeeded{
		To:            payload.Approver.Email,
		ApproverName:  payload.Approver.Name,
		RequestorName: payload.Requestor.Name,
		Number:        payload.Number,
		Type:          string(payload.Type),
		Level:         1,
		Link:          n.link("requests", event.AggregateID),
	})
	n.deliver(ctx, event, msg, err)
	return nil
}

func (n *NotificationService) handleApprovalLevelAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ApprovalLevelAddedPayload)
	if !ok {
		return nil
	}
	msg, err := notify.RenderApprovalNeeded(notify.ApprovalNeeded{
		To:            payload.Approver.Email,
		ApproverName:  payload.Approver.Name,
		RequestorName: payload.Requestor.Name,
		Number:        payload.Number,
		Level:         payload.Level,
		Link:          n.link("requests", event.AggregateID),
	})
	n.deliver(ctx, event, msg, err)
	return nil
}

func (n *NotificationService) handleRequestDecided(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.RequestDecidedPayload)
	if !ok {
		return nil
	}
	data := notify.RequestDecision{
		To:            payload.Requestor.Email,
		RequestorName: payload.Requestor.Name,
		ApproverName:  payload.Approver.Name,
		Number:        payload.Number,
		Decision:      string(payload.Decision),
		Status:        string(payload.Status),
		Link:          n.link("requests", event.AggregateID),
	}
	if payload.Comments != nil {
		data.Comments = *payload.Comments
	}
	msg, err := notify.RenderRequestDecision(data)
	n.deliver(ctx, event, msg, err)
	return nil
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return nil
	}
	msg, err := notify.RenderTicketCreated(notify.TicketCreated{
		To:          payload.Creator.Email,
		CreatorName: payload.Creator.Name,
		Number:      payload.Number,
		Subject:     payload.Subject,
		Priority:    string(payload.Priority),
		Deadline:    payload.SLADeadline.UTC().Format(time.RFC1123),
		Link:        n.link("tickets", event.AggregateID),
	})
	n.deliver(ctx, event, msg, err)
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return nil
	}
	msg, err := notify.RenderTicketStatusChanged(notify.TicketStatusChanged{
		To:          payload.Creator.Email,
		CreatorName: payload.Creator.Name,
		Number:      payload.Number,
		Subject:     payload.Subject,
		OldStatus:   string(payload.OldStatus),
		NewStatus:   string(payload.NewStatus),
		Link:        n.link("tickets", event.AggregateID),
	})
	n.deliver(ctx, event, msg, err)
	return nil
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event, msg notify.Message, renderErr error) {
	err := renderErr
	if err == nil {
		err = n.sender.Send(ctx, msg)
	}
	if err == nil {
		return
	}
	if n.failures != nil {
		n.failures.RecordNotificationFailure(event.Type)
	}
	n.logger.Warn("DispatchWarning",
		zap.String("event_type", string(event.Type)),
		zap.String("aggregate_id", event.AggregateID),
		zap.String("to", msg.To),
		zap.Error(err))
}

func (n *NotificationService) link(kind, id string) string {
	return fmt.Sprintf("%s/%s/%s", n.baseURL, kind, id)
}
