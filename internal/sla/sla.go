// Package sla maps ticket priorities to response deadlines.
package sla

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spec-kit/ops-portal/internal/domain"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

var offsets = map[domain.TicketPriority]time.Duration{
	domain.TicketPriorityCritical: 4 * time.Hour,
	domain.TicketPriorityHigh:     8 * time.Hour,
	domain.TicketPriorityMedium:   24 * time.Hour,
	domain.TicketPriorityLow:      48 * time.Hour,
}

// ErrUnknownPriority is wrapped by the validation error returned for
// priorities outside the SLA table.
var ErrUnknownPriority = errors.New("unknown ticket priority")

// Offset returns the response window for a priority. An unknown priority is a
// validation error, never defaulted.
func Offset(priority domain.TicketPriority) (time.Duration, error) {
	offset, ok := offsets[priority]
	if !ok {
		return 0, &apperrors.DomainError{
			Code:       apperrors.CodeValidation,
			Message:    fmt.Sprintf("unknown ticket priority %q", priority),
			HTTPStatus: http.StatusBadRequest,
			Details:    map[string]any{"priority": "must be one of CRITICAL, HIGH, MEDIUM, LOW"},
			Err:        ErrUnknownPriority,
		}
	}
	return offset, nil
}

// Deadline returns the absolute SLA deadline for a ticket created at now.
func Deadline(priority domain.TicketPriority, now time.Time) (time.Time, error) {
	offset, err := Offset(priority)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(offset), nil
}

// Known reports whether the priority has an SLA offset.
func Known(priority domain.TicketPriority) bool {
	_, ok := offsets[priority]
	return ok
}
