package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/servicehub/internal/auth"
	"github.com/josh-kwaku/servicehub/internal/domain"
	"github.com/josh-kwaku/servicehub/internal/handler"
	"github.com/josh-kwaku/servicehub/internal/logging"
)

type tokenVerifier interface {
	Verify(credential string) (domain.Actor, error)
}

// Auth resolves the bearer token to an actor and tags the request logger with
// the caller's identity.
func Auth(v tokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			actor, err := v.Verify(token)
			if err != nil {
				logging.FromContext(r.Context()).Debug("token rejected", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithActor(r.Context(), actor)
			ctx = logging.With(ctx, "user_id", actor.ID, "role", actor.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
