package middleware

import (
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// RequireStepUp rejects requests whose session lacks a live step-up
// verification window for the purpose. It must run inside [Guard]: the
// session ID comes from the access identity in the request context.
// Rejections carry 403 so clients can distinguish "verify again" from a
// bad token.
func RequireStepUp(engine *goIdentity.Engine, purpose string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := AccessFromContext(r.Context())
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			_, live, err := engine.CheckStepUp(r.Context(), access.SessionID, purpose)
			if err != nil || !live {
				http.Error(w, "step-up verification required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
