package httpsrv

import (
	"context"
	"net/http"
	"strings"

	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/handler/marshaller"
	"github.com/telewake/relay-service/internal/service"
)

type contextKey string

// AuthContextKey is the key used to store/retrieve the authenticated
// user from the request context.
const AuthContextKey contextKey = "auth_user"

// NewAuthMiddleware validates the account token before the handler
// runs and injects the resolved user into the request context.
func NewAuthMiddleware(auther service.Auther) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auther.ResolveToken(r.Context(), BearerToken(r))
			if err != nil {
				if pe, ok := model.AsError(err); ok {
					marshaller.WriteDetail(w, pe.Kind.HTTPStatus(), pe.Message)
					return
				}
				marshaller.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), AuthContextKey, user),
			))
		})
	}
}

// AuthUser extracts the authenticated user injected by the middleware.
func AuthUser(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(AuthContextKey).(model.User)
	return user, ok
}

// BearerToken pulls the account token from the request headers. Both
// the Authorization scheme and the X-API-Token form are accepted.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return r.Header.Get("X-API-Token")
}
