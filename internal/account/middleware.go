package account

import (
	"context"
	"net/http"

	"github.com/amonhq/amon/internal/server"
)

// userKey is the context key the resolved account is attached under.
type userKey struct{}

// FromContext returns the account attached by RequireUser. Handlers under
// /pub/{user} may assume it is present.
func FromContext(ctx context.Context) *Account {
	a, _ := ctx.Value(userKey{}).(*Account)
	return a
}

// WithUser returns a copy of ctx carrying the account. Exposed for tests.
func WithUser(ctx context.Context, a *Account) context.Context {
	return context.WithValue(ctx, userKey{}, a)
}

// RequireUser wraps a /pub/{user}/... handler: it resolves the {user} path
// value through the resolver, answers 404 if the user does not exist, and
// attaches the account to the request context otherwise.
func RequireUser(resolver *Resolver, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user")
		acct, err := resolver.Resolve(r.Context(), userID)
		if err != nil {
			server.WriteError(w, server.NewInternalError())
			return
		}
		if acct == nil {
			server.WriteError(w, server.NewResourceNotFound("no such user: %q", userID))
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), acct)))
	}
}
