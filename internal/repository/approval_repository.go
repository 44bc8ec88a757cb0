package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/persistence"
)

// ApprovalRepository persists the approval chain of a request.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *domain.RequestApproval) error
	// RecordDecision moves the approver's PENDING record to status and reports
	// how many rows changed. Records already decided are left untouched.
	RecordDecision(ctx context.Context, requestID, approverID string, status domain.ApprovalStatus, comments *string, decidedAt time.Time) (int64, error)
	ListByRequest(ctx context.Context, requestID string) ([]domain.RequestApproval, error)
}

type approvalRepository struct {
	pool *pgxpool.Pool
}

// NewApprovalRepository builds repository.
func NewApprovalRepository(pool *pgxpool.Pool) ApprovalRepository {
	return &approvalRepository{pool: pool}
}

func (r *approvalRepository) Create(ctx context.Context, approval *domain.RequestApproval) error {
	const query = `
        INSERT INTO request_approvals (request_id, approver_id, level, status)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		approval.RequestID,
		approval.ApproverID,
		approval.Level,
		approval.Status,
	).Scan(&approval.ID, &approval.CreatedAt)
	switch {
	case isUniqueViolation(err, "request_approvals_level_key"):
		return ErrDuplicateLevel
	case isUniqueViolation(err, "idx_request_approvals_one_pending"):
		return ErrApproverPending
	}
	return err
}

func (r *approvalRepository) RecordDecision(ctx context.Context, requestID, approverID string, status domain.ApprovalStatus, comments *string, decidedAt time.Time) (int64, error) {
	const query = `
        UPDATE request_approvals SET status=$1, comments=$2, decided_at=$3
        WHERE request_id=$4 AND approver_id=$5 AND status=$6`
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query,
		status,
		comments,
		decidedAt,
		requestID,
		approverID,
		domain.ApprovalStatusPending,
	)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *approvalRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.RequestApproval, error) {
	const query = `
        SELECT id, request_id, approver_id, level, status, comments, decided_at, created_at
        FROM request_approvals WHERE request_id=$1 ORDER BY level ASC`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RequestApproval
	for rows.Next() {
		var approval domain.RequestApproval
		if err := rows.Scan(
			&approval.ID,
			&approval.RequestID,
			&approval.ApproverID,
			&approval.Level,
			&approval.Status,
			&approval.Comments,
			&approval.DecidedAt,
			&approval.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, approval)
	}
	return result, rows.Err()
}
