package obs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/settlrhq/settlr/internal/obs"
)

func TestRoutePatternMiddlewareRecordsPattern(t *testing.T) {
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/checkout/sessions/{id}"}

	var got string
	handler := obs.RoutePatternMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// Drop the router context so only the value the middleware stored
		// can answer.
		ctx := context.WithValue(r.Context(), chi.RouteCtxKey, nil)
		got = obs.RoutePatternFromContext(ctx)
	}))

	req := httptest.NewRequest(http.MethodGet, "/checkout/sessions/cs_1", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "/checkout/sessions/{id}", got)
}

func TestRoutePatternFromContextFallsBackToRouter(t *testing.T) {
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/webhooks"}
	ctx := context.WithValue(context.Background(), chi.RouteCtxKey, rc)

	require.Equal(t, "/webhooks", obs.RoutePatternFromContext(ctx))
	require.Empty(t, obs.RoutePatternFromContext(context.Background()))
}

func TestStatusRecorderCapturesStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := obs.NewStatusRecorder(rec)
	sr.WriteHeader(http.StatusTeapot)
	n, err := sr.Write([]byte("short and stout"))
	require.NoError(t, err)
	require.Equal(t, 15, n)
	require.Equal(t, http.StatusTeapot, sr.Status())
	require.Equal(t, int64(15), sr.BytesWritten())
}
