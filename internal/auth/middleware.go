package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/repository"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Actor *domain.Actor
}

// IsStaff reports whether the caller may work tickets.
func (p *Principal) IsStaff() bool {
	return p != nil && p.Actor != nil && p.Actor.Role.IsStaff()
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens    *TokenManager
	directory repository.ActorRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, directory repository.ActorRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, directory: directory}
}

// Handle enforces authentication for protected routes. The role is taken
// from the directory, not the token, so demotions apply immediately.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	actor, err := m.directory.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if apperrors.IsMissingRow(err) {
			return apperrors.NewUnauthorized("actor not found")
		}
		return apperrors.MapError(err)
	}
	if !actor.Active {
		return apperrors.NewUnauthorized("actor inactive")
	}

	c.Locals(principalKey, &Principal{Actor: actor})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok && principal.Actor != nil
}
