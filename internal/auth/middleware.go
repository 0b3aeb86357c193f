package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrUnauthenticated is returned when authentication fails.
var ErrUnauthenticated = errors.New("unauthenticated")

// SessionProvider resolves the authenticated principal from a session
// cookie. Implemented by the login package, which validates the signed
// token and checks the server-side session row.
type SessionProvider interface {
	GetPrincipal(r *http.Request) (*Principal, error)
}

// DualAuthMiddleware authenticates API requests with either a bearer JWT
// (Authorization header) or a session cookie. JWT is tried first; a
// presented-but-invalid JWT fails the request without falling back to
// the cookie.
func DualAuthMiddleware(verifier *JWTVerifier, sessions SessionProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				principal, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
				if err != nil {
					log.Debug().Err(err).Msg("Dual auth: JWT verification failed")
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}

				log.Debug().
					Str("user_id", principal.UserID.String()).
					Str("role", string(principal.Role)).
					Msg("Dual auth: JWT authenticated")

				next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
				return
			}

			principal, err := sessions.GetPrincipal(r)
			if err != nil {
				log.Debug().Err(err).Msg("Dual auth: session authentication failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			log.Debug().
				Str("user_id", principal.UserID.String()).
				Str("role", string(principal.Role)).
				Msg("Dual auth: session authenticated")

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// RequireParent wraps a handler and rejects non-parent principals.
// Used on story mutation and kid management endpoints.
func RequireParent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !principal.IsParent() {
			log.Debug().
				Str("user_id", principal.UserID.String()).
				Str("path", r.URL.Path).
				Msg("Non-parent principal rejected")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
