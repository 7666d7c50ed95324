package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := config.NewManager(filepath.Join(t.TempDir(), "config.json"))

	srv, err := New(mgr, logger)
	require.NoError(t, err)

	srv.deps.Models = map[string][]config.ModelInfo{
		"openai-custom": {{ID: "gpt-4"}},
	}
	return srv
}

func TestModelListingDispatchesByAuthCarrier(t *testing.T) {
	mux := testServer(t).setupRoutes()

	// Default callers get the OpenAI list shape.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var openAIList struct {
		Object string `json:"object"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &openAIList))
	assert.Equal(t, "list", openAIList.Object)

	// Anthropic SDK headers switch the same path to the Claude shape.
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("x-api-key", "secret")
	req.Header.Set("anthropic-version", "2023-06-01")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var claudeList struct {
		Object string `json:"object"`
		Data   []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claudeList))
	assert.Empty(t, claudeList.Object)
	require.Len(t, claudeList.Data, 1)
	assert.Equal(t, "model", claudeList.Data[0].Type)
	assert.Equal(t, "[OpenAI] gpt-4", claudeList.Data[0].ID)
}

func TestHealthRouteIsOpen(t *testing.T) {
	mux := testServer(t).setupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
