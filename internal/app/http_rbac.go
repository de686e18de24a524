package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"redline/api/internal/auth"
	"redline/api/internal/rbac"
)

type actorKey struct{}

func actorFrom(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}

// authenticate resolves the bearer token into an Actor. Browsers cannot set
// headers on EventSource, so access_token in the query is accepted too.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		claims, err := s.issuer.Parse(token)
		if err != nil {
			if !errors.Is(err, auth.ErrExpiredToken) && !errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
				return
			}
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		actor := Actor{Name: claims.Name, Role: rbac.Normalize(claims.Role)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// require rejects actors whose role does not grant action.
func (s *HTTPServer) require(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := actorFrom(r.Context())
			if !s.service.Can(actor.Role, action) {
				s.forbid(w, r, actor, action)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forbid writes a 403 Forbidden response and logs the denial.
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, actor Actor, action rbac.Action) {
	s.logger.Info("rbac: denied",
		slog.String("actor", actor.Name),
		slog.String("role", string(actor.Role)),
		slog.String("action", string(action)),
		slog.String("path", r.URL.Path),
	)
	status, code, message, details := mapError(errForbidden)
	writeError(w, status, code, message, details)
}
