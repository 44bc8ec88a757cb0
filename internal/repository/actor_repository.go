package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/persistence"
)

// ActorRepository reads the organization directory. The engines never write it.
type ActorRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Actor, error)
	GetByEmail(ctx context.Context, email string) (*domain.Actor, error)
}

type actorRepository struct {
	pool *pgxpool.Pool
}

// NewActorRepository returns a Postgres-backed implementation.
func NewActorRepository(pool *pgxpool.Pool) ActorRepository {
	return &actorRepository{pool: pool}
}

func (r *actorRepository) GetByID(ctx context.Context, id string) (*domain.Actor, error) {
	const query = `
        SELECT id, name, email, manager_id, role, active, created_at, updated_at
        FROM actors WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *actorRepository) GetByEmail(ctx context.Context, email string) (*domain.Actor, error) {
	const query = `
        SELECT id, name, email, manager_id, role, active, created_at, updated_at
        FROM actors WHERE LOWER(email)=LOWER($1)`
	return r.fetchSingle(ctx, query, email)
}

func (r *actorRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Actor, error) {
	var actor domain.Actor
	if err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query, arg).Scan(
		&actor.ID,
		&actor.Name,
		&actor.Email,
		&actor.ManagerID,
		&actor.Role,
		&actor.Active,
		&actor.CreatedAt,
		&actor.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &actor, nil
}
