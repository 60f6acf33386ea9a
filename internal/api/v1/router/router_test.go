package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"norvis/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func newTestRouter(db Pinger) http.Handler {
	return New(Services{}, "secret", nil, nil, db, metrics.New(), zerolog.Nop())
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func TestHealthz(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(newTestRouter(pinger{}), http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		serve(newTestRouter(pinger{err: errors.New("down")}), http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rr := serve(newTestRouter(nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRoutesMounted(t *testing.T) {
	h := newTestRouter(nil)

	rr := serve(h, http.MethodGet, "/v1/chats", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(h, http.MethodPost, "/v1/guest/chat", "{")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = serve(h, http.MethodGet, "/api/subscription", "")
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)
	assert.Equal(t, "/v1/subscription", rr.Header().Get("Location"))
}
