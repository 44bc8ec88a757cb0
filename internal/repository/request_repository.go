package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/persistence"
)

// RequestRepository persists service requests.
type RequestRepository interface {
	Create(ctx context.Context, request *domain.Request) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	// GetByIDForUpdate locks the request row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Request, error)
	UpdateStatus(ctx context.Context, id string, status domain.RequestStatus) error
	// ListUnrouted returns pending requests that have no approval records.
	ListUnrouted(ctx context.Context, limit int) ([]domain.Request, error)
}

type requestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository instantiates repository.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

const requestColumns = `id, number, type, subject, description, justification, details, status, requestor_id, created_at, updated_at`

func (r *requestRepository) Create(ctx context.Context, request *domain.Request) error {
	details, err := marshalDetails(request.Details)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO requests (number, type, subject, description, justification, details, status, requestor_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`
	err = persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		request.Number,
		request.Type,
		request.Subject,
		request.Description,
		request.Justification,
		details,
		request.Status,
		request.RequestorID,
	).Scan(&request.ID, &request.CreatedAt, &request.UpdatedAt)
	if isUniqueViolation(err, "requests_number_key") {
		return ErrDuplicateNumber
	}
	return err
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id=$1`
	return scanRequest(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *requestRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id=$1 FOR UPDATE`
	return scanRequest(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *requestRepository) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus) error {
	const query = `UPDATE requests SET status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *requestRepository) ListUnrouted(ctx context.Context, limit int) ([]domain.Request, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + requestColumns + ` FROM requests r
        WHERE r.status=$1
          AND NOT EXISTS (SELECT 1 FROM request_approvals a WHERE a.request_id = r.id)
        ORDER BY r.created_at ASC LIMIT $2`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, domain.RequestStatusPendingApproval, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *request)
	}
	return result, rows.Err()
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		request domain.Request
		details []byte
	)
	if err := row.Scan(
		&request.ID,
		&request.Number,
		&request.Type,
		&request.Subject,
		&request.Description,
		&request.Justification,
		&details,
		&request.Status,
		&request.RequestorID,
		&request.CreatedAt,
		&request.UpdatedAt,
	); err != nil {
		return nil, err
	}
	decoded, err := domain.DecodeRequestDetails(request.Type, details)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", request.ID, err)
	}
	request.Details = decoded
	return &request, nil
}

func marshalDetails(details domain.RequestDetails) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return raw, nil
}
