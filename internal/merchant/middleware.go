package merchant

import (
	"context"
	"net/http"
	"strings"

	"github.com/settlrhq/settlr/internal/common"
)

type contextKey struct{}

// FromContext returns the authenticated merchant attached by RequireAPIKey.
func FromContext(ctx context.Context) (Merchant, bool) {
	m, ok := ctx.Value(contextKey{}).(Merchant)
	return m, ok
}

// WithMerchant attaches a merchant to the context; tests use it to bypass the
// middleware.
func WithMerchant(ctx context.Context, m Merchant) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// RequireAPIKey authenticates requests via "Authorization: Bearer sk_..." and
// attaches the resolved merchant to the request context.
func RequireAPIKey(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(key) == "" {
				common.JSONError(w, http.StatusUnauthorized, "MISSING_API_KEY", "authorization header required", nil)
				return
			}
			m, err := Authenticate(r.Context(), store, strings.TrimSpace(key))
			if err != nil {
				if err == ErrInvalidAPIKey {
					common.JSONError(w, http.StatusUnauthorized, "INVALID_API_KEY", "api key rejected", nil)
					return
				}
				common.JSONError(w, http.StatusInternalServerError, "AUTH_ERROR", "unable to authenticate", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithMerchant(r.Context(), m)))
		})
	}
}
