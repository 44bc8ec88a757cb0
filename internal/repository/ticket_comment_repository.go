package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/persistence"
)

// TicketCommentRepository manages the append-only ticket comment thread.
type TicketCommentRepository interface {
	Create(ctx context.Context, comment *domain.TicketComment) error
	// ListByTicket returns comments newest first.
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketComment, error)
}

type ticketCommentRepository struct {
	pool *pgxpool.Pool
}

// NewTicketCommentRepository builds repository.
func NewTicketCommentRepository(pool *pgxpool.Pool) TicketCommentRepository {
	return &ticketCommentRepository{pool: pool}
}

func (r *ticketCommentRepository) Create(ctx context.Context, comment *domain.TicketComment) error {
	const query = `
        INSERT INTO ticket_comments (ticket_id, author_id, content, is_internal)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		comment.TicketID,
		comment.AuthorID,
		comment.Content,
		comment.IsInternal,
	).Scan(&comment.ID, &comment.CreatedAt)
}

func (r *ticketCommentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketComment, error) {
	const query = `
        SELECT id, ticket_id, author_id, content, is_internal, created_at
        FROM ticket_comments WHERE ticket_id=$1 ORDER BY created_at DESC, id DESC`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketComment
	for rows.Next() {
		var comment domain.TicketComment
		if err := rows.Scan(
			&comment.ID,
			&comment.TicketID,
			&comment.AuthorID,
			&comment.Content,
			&comment.IsInternal,
			&comment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, comment)
	}
	return result, rows.Err()
}
