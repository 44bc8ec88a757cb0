package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/repository"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

// numberAttempts bounds regeneration after a number collision.
const numberAttempts = 3

const (
	maxSubjectLen = 200
	previewLen    = 120
)

// publisher stamps and publishes domain events after a mutation committed.
// Subscriber failures are logged and never reach the caller.
type publisher struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func (p publisher) publish(ctx context.Context, event events.Event) {
	if p.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if err := p.dispatcher.Publish(ctx, event); err != nil {
		p.logger.Warn("event subscriber failed",
			zap.String("event_type", string(event.Type)),
			zap.String("aggregate_id", event.AggregateID),
			zap.Error(err))
	}
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return time.Now
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return zap.NewNop()
}

// lookupActor resolves an actor, translating a missing row to NotFound.
func lookupActor(ctx context.Context, directory repository.ActorRepository, id, role string) (*domain.Actor, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError(role+" id required", map[string]any{"field": role + "_id"})
	}
	actor, err := directory.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, role, map[string]any{role + "_id": id})
	}
	return actor, nil
}

func notFoundOr(err error, resource string, details map[string]any) error {
	if apperrors.IsMissingRow(err) {
		return apperrors.NewNotFound(resource, details)
	}
	return err
}

// withNumber retries create with a fresh number while the store reports a collision.
func withNumber(next func() string, create func(number string) error) error {
	var err error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		err = create(next())
		if !errors.Is(err, repository.ErrDuplicateNumber) {
			return err
		}
	}
	return apperrors.NewConflict("could not allocate a unique number", map[string]any{"attempts": numberAttempts})
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}

func validateText(problems map[string]any, field, value string, maxLen int) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		problems[field] = "required"
	case maxLen > 0 && len(value) > maxLen:
		problems[field] = "too long"
	}
}
