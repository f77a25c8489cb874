package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/requestcontext"
)

// TokenValidator resolves a bearer token to an actor.
type TokenValidator interface {
	Validate(tokenString string) (id.Actor, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// actor in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				httputil.WriteError(w, r, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}

			actor, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}

// ActorFrom returns the authenticated actor or an UNAUTHORIZED error.
func ActorFrom(r *http.Request) (id.Actor, error) {
	actor, ok := requestcontext.Actor(r.Context())
	if !ok {
		return id.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}
