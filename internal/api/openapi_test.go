package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPIDocument(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/openapi", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	doc := decode[map[string]any](t, rec)
	assert.Equal(t, "3.0.3", doc["openapi"])
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)

	routes, ok := ts.handler.(chi.Routes)
	require.True(t, ok)
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if !strings.HasPrefix(route, "/api/") {
			return nil
		}
		ops, ok := paths[route].(map[string]any)
		if assert.True(t, ok, "route %s undocumented", route) {
			assert.Contains(t, ops, strings.ToLower(method), "%s %s undocumented", method, route)
		}
		return nil
	})
	require.NoError(t, err)
}
