package transport

import (
	"net/http"
	"strings"

	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

// TokenAuthenticator verifies a bearer token and returns the operator it
// was issued to. *session.Session satisfies it.
type TokenAuthenticator interface {
	Authenticate(token string) (*model.OperatorContext, error)
}

// BearerAuth returns middleware that verifies the session token in the
// Authorization header and stores the operator in the request context.
func BearerAuth(auth TokenAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}

			oc, err := auth.Authenticate(strings.TrimSpace(token))
			if err != nil {
				WriteError(w, err)
				return
			}

			withTrace := *oc
			withTrace.CorrelationID = CorrelationIDFrom(r.Context())
			withTrace.TraceID = observability.TraceIDFromContext(r.Context())
			ctx := model.WithOperatorContext(r.Context(), &withTrace)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
