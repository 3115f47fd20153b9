// internal/semantic/gemini_test.go
package semantic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/actuator/internal/config"
)

func setupGeminiModel(t *testing.T, handler http.HandlerFunc) *GeminiModel {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.SemanticConfig{
		Enabled:    true,
		Model:      "test-model",
		APIKey:     "test-key",
		Endpoint:   server.URL,
		APITimeout: 5 * time.Second,
	}
	m, err := NewGeminiModel(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func TestNewGeminiModel_MissingKey(t *testing.T) {
	_, err := NewGeminiModel(context.Background(), config.SemanticConfig{Model: "m"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestGeminiModel_Generate(t *testing.T) {
	var body string
	m := setupGeminiModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "test-model:generateContent")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"matches\":[0]}"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":3,"totalTokenCount":15}}`)
	})

	out, err := m.Generate(context.Background(), "system rules", "Role: 1")
	require.NoError(t, err)
	assert.Equal(t, `{"matches":[0]}`, out)
	assert.Contains(t, body, "system rules")
	assert.Contains(t, body, "Role: 1")
	assert.Contains(t, body, "application/json")
}

func TestGeminiModel_EmptyCandidates(t *testing.T) {
	m := setupGeminiModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := m.Generate(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "no text content")
}

func TestGeminiModel_APIError(t *testing.T) {
	m := setupGeminiModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := m.Generate(context.Background(), "s", "u")
	assert.Error(t, err)
}
