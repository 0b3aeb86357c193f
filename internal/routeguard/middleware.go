package routeguard

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/telemetry"
)

// VisitorFunc resolves the visitor from a request. Implementations must
// treat a missing, malformed, or badly signed cookie as no session and
// return nil rather than an error.
type VisitorFunc func(r *http.Request) *Visitor

// Middleware gates page navigations with the policy. API and asset
// requests should be routed around it via the policy's bypass list.
func Middleware(policy *Policy, visitor VisitorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := visitor(r)
			decision := policy.Evaluate(r.URL.Path, v)

			if decision.Allow {
				next.ServeHTTP(w, r)
				return
			}

			role := "none"
			if v != nil {
				role = string(v.Role)
			}
			log.Debug().
				Str("path", r.URL.Path).
				Str("role", role).
				Str("target", decision.Target).
				Msg("route guard redirect")
			telemetry.CountRouteRedirect(r.Context(), role)

			http.Redirect(w, r, decision.Target, http.StatusFound)
		})
	}
}
