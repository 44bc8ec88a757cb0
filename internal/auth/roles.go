package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ops-portal/internal/domain"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

// RequireStaff ensures the caller is IT staff or an admin.
func RequireStaff() fiber.Handler {
	return RequireRole(domain.ActorRoleITStaff, domain.ActorRoleAdmin)
}

// RequireRole ensures the principal has one of the allowed roles.
func RequireRole(allowed ...domain.ActorRole) fiber.Handler {
	allowedSet := make(map[domain.ActorRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Actor.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures the caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}
