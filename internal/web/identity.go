package web

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/justestif/soundshelf/internal/auth"
)

// UserProvisioner creates the quota record of a first-time caller.
type UserProvisioner interface {
	Ensure(ctx context.Context, id string) error
}

type contextKey string

const identityKey contextKey = "identity"

// authenticate verifies the bearer token and makes sure the caller has a
// user record before any handler charges storage to it.
func authenticate(verifier *auth.Verifier, users UserProvisioner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := verifier.VerifyHeader(r.Header.Get("Authorization"))
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("rejected request")
				writeError(w, r, err)
				return
			}
			if err := users.Ensure(r.Context(), id.UserID); err != nil {
				writeError(w, r, err)
				return
			}

			log := zerolog.Ctx(r.Context())
			log.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", id.UserID)
			})

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom returns the caller set by authenticate.
func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey).(auth.Identity)
	return id
}
