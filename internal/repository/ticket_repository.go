package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/persistence"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetByIDForUpdate locks the ticket row for the surrounding transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	// ListOverdue returns unfinished tickets whose SLA deadline is before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, number, subject, description, priority, category, status, creator_id, assignee_id,
               asset_id, software_id, sla_deadline, resolved_at, closed_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (number, subject, description, priority, category, status, creator_id, assignee_id, asset_id, software_id, sla_deadline)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, created_at, updated_at`
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.Number,
		ticket.Subject,
		ticket.Description,
		ticket.Priority,
		ticket.Category,
		ticket.Status,
		ticket.CreatorID,
		ticket.AssigneeID,
		ticket.AssetID,
		ticket.SoftwareID,
		ticket.SLADeadline,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	if isUniqueViolation(err, "tickets_number_key") {
		return ErrDuplicateNumber
	}
	return err
}

// Update writes the mutable columns. sla_deadline is fixed at creation and never rewritten.
func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET priority=$1, category=$2, status=$3, assignee_id=$4,
            resolved_at=$5, closed_at=$6, updated_at=NOW()
        WHERE id=$7
        RETURNING updated_at`
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.Priority,
		ticket.Category,
		ticket.Status,
		ticket.AssigneeID,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return scanTicket(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *ticketRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status IN ($1,$2) AND sla_deadline < $3
        ORDER BY sla_deadline ASC LIMIT $4`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query,
		domain.TicketStatusOpen,
		domain.TicketStatusInProgress,
		now,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Priority,
		&ticket.Category,
		&ticket.Status,
		&ticket.CreatorID,
		&ticket.AssigneeID,
		&ticket.AssetID,
		&ticket.SoftwareID,
		&ticket.SLADeadline,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
