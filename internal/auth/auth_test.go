package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/ops-portal/internal/domain"
	apperrors "github.com/spec-kit/ops-portal/pkg/util/errorutil"
)

type stubDirectory map[string]domain.Actor

func (d stubDirectory) GetByID(_ context.Context, id string) (*domain.Actor, error) {
	if id == "not-a-uuid" {
		return nil, &pgconn.PgError{Code: "22P02"}
	}
	actor, ok := d[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &actor, nil
}

func (d stubDirectory) GetByEmail(_ context.Context, email string) (*domain.Actor, error) {
	for _, actor := range d {
		if actor.Email == email {
			return &actor, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expiresAt, err := tm.GenerateToken("actor-1", domain.ActorRoleITStaff)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(expiresAt) > 5*time.Minute {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "actor-1" || claims.Role != domain.ActorRoleITStaff {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := NewTokenManager("other", 5).ParseToken(token); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}
	if _, _, err := NewTokenManager("", 5).GenerateToken("actor-1", domain.ActorRoleAdmin); err == nil {
		t.Fatalf("empty secret must not sign")
	}
}

func TestExpiredToken(t *testing.T) {
	tm := NewTokenManager("secret", 1)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := tm.GenerateToken("actor-1", domain.ActorRoleEmployee)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenManager("secret", 1).ParseToken(token); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func newTestApp(directory stubDirectory, tm *TokenManager, guards ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
		},
	})
	handlers := append([]fiber.Handler{NewAuthMiddleware(tm, directory).Handle}, guards...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		return c.SendString(principal.Actor.ID)
	})
	app.Get("/", handlers...)
	return app
}

func TestMiddlewareAndGuards(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	directory := stubDirectory{
		"emp":   {ID: "emp", Role: domain.ActorRoleEmployee, Active: true},
		"agent": {ID: "agent", Role: domain.ActorRoleITStaff, Active: true},
		"gone":  {ID: "gone", Role: domain.ActorRoleAdmin, Active: false},
	}
	token := func(id string) string {
		// the directory role wins over whatever the token claims
		signed, _, err := tm.GenerateToken(id, domain.ActorRoleAdmin)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		return "Bearer " + signed
	}

	cases := []struct {
		name   string
		header string
		guard  fiber.Handler
		want   int
	}{
		{"no header", "", RequireAnyRole(), http.StatusUnauthorized},
		{"bad scheme", "Basic abc", RequireAnyRole(), http.StatusUnauthorized},
		{"garbage token", "Bearer abc", RequireAnyRole(), http.StatusUnauthorized},
		{"unknown actor", token("nobody"), RequireAnyRole(), http.StatusUnauthorized},
		{"inactive actor", token("gone"), RequireAnyRole(), http.StatusUnauthorized},
		{"malformed subject", token("not-a-uuid"), RequireAnyRole(), http.StatusUnauthorized},
		{"employee any", token("emp"), RequireAnyRole(), http.StatusOK},
		{"employee staff", token("emp"), RequireStaff(), http.StatusForbidden},
		{"agent staff", token("agent"), RequireStaff(), http.StatusOK},
		{"agent manager only", token("agent"), RequireRole(domain.ActorRoleManager), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(directory, tm, tc.guard)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}
