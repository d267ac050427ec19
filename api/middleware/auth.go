package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/farmcart-backend/api/responses"
	pkgAuth "github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

// bearerToken extracts the credential from an Authorization header. Only the
// Bearer scheme is accepted; the scheme name is case-insensitive.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "authorization scheme must be Bearer")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing bearer token")
	}
	return token, nil
}

// Auth rejects requests without a valid access token and seeds the context
// with the caller identity.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx = WithActor(ctx, pkgAuth.Actor{UserID: claims.UserID, Role: claims.Role})
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithActorRole(ctx, string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
