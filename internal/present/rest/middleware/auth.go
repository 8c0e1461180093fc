package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mdmahbub/amarkotha"
	"github.com/mdmahbub/amarkotha/auth"
	"github.com/mdmahbub/amarkotha/internal/domain"
)

var tracer = otel.Tracer("auth")

// ProfileSource resolves a uid to its stored profile.
type ProfileSource interface {
	Profile(ctx context.Context, uid string) (amarkotha.User, error)
}

type AuthMiddleware struct {
	provider   auth.Provider
	profiles   ProfileSource
	adminEmail string
}

func NewAuthMiddleware(provider auth.Provider, profiles ProfileSource, adminEmail string) *AuthMiddleware {
	return &AuthMiddleware{
		provider:   provider,
		profiles:   profiles,
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
	}
}

// IdentifyRequester resolves the bearer token to a profile and attaches
// it to the request context. A missing or bad token is not an error
// here; handlers that need an actor reject on their own.
func (s *AuthMiddleware) IdentifyRequester(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifyRequester")
		defer span.End()

		authHeader := c.Request().Header.Get("authorization")

		if authHeader != "" {
			split := strings.Split(authHeader, " ")
			if len(split) != 2 {
				span.RecordError(fmt.Errorf("invalid authentication header"))
				goto skipCheckAuthorization
			}

			{
				authType, token := split[0], split[1]
				if authType != "Bearer" {
					span.RecordError(fmt.Errorf("only Bearer is acceptable"))
					goto skipCheckAuthorization
				}

				identity, err := s.provider.Verify(ctx, auth.Token(token))
				if err != nil {
					span.RecordError(errors.Wrap(err, "AuthMiddleware.IdentifyRequester: token verify failed"))
					goto skipCheckAuthorization
				}

				user, err := s.profiles.Profile(ctx, identity.UID)
				if err != nil {
					// account exists but the profile row is missing
					user = amarkotha.User{
						ID:    identity.UID,
						Email: identity.Email,
						Name:  identity.DisplayName,
					}
				}
				user.ID = identity.UID
				if s.adminEmail != "" && strings.ToLower(identity.Email) == s.adminEmail {
					user.Role = amarkotha.RoleAdmin
					user.Status = amarkotha.StatusActive
				}

				ctx = context.WithValue(ctx, domain.RequesterCtxKey, &user)
				span.SetAttributes(attribute.String("RequesterId", user.ID))
			}
		}

	skipCheckAuthorization:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequesterFromContext returns the resolved actor, if any.
func RequesterFromContext(ctx context.Context) (*amarkotha.User, bool) {
	u, ok := ctx.Value(domain.RequesterCtxKey).(*amarkotha.User)
	return u, ok
}
