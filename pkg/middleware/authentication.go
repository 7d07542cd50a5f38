package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	appctx "github.com/Ramsey-B/sage/pkg/context"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type UserClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// TokenVerifier checks a raw bearer token and decodes its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (UserClaims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys and verifies tokens issued for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "oidc provider")
	}
	return &oidcVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (UserClaims, error) {
	var claims UserClaims
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return claims, err
	}
	if err := idToken.Claims(&claims); err != nil {
		return claims, errors.Wrap(err, "cannot parse claims")
	}
	return claims, nil
}

// Authentication requires a valid bearer token and makes its subject the acting user.
func Authentication(logger ectologger.Logger, verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			claims, err := verifier.Verify(verifyCtx, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Sub == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			ctx = appctx.SetUserID(ctx, claims.Sub)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
