package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func healthMux(h *HealthHandler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux, "1.2.3", "2026-01-01", "abc123")
	return mux
}

func TestHealthHandler_Liveness(t *testing.T) {
	mux := healthMux(NewHealthHandler(zap.NewNop()))

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)

		var status HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status)
		assert.False(t, status.Timestamp.IsZero())
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantHealth string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "all pass",
			checks: []HealthCheck{
				NewFuncCheck("checkpoint", func(context.Context) error { return nil }),
				NewFuncCheck("redis", func(context.Context) error { return nil }),
			},
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "one fails",
			checks: []HealthCheck{
				NewFuncCheck("checkpoint", func(context.Context) error { return nil }),
				NewFuncCheck("database", func(context.Context) error { return errors.New("connection refused") }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(nil)
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}
			w := httptest.NewRecorder()
			healthMux(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantStatus, w.Code)

			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantHealth, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			if tt.wantHealth == "unhealthy" {
				assert.Equal(t, "fail", status.Checks["database"].Status)
				assert.Equal(t, "connection refused", status.Checks["database"].Message)
				assert.Equal(t, "pass", status.Checks["checkpoint"].Status)
			}
		})
	}
}

func TestHealthHandler_Version(t *testing.T) {
	w := httptest.NewRecorder()
	healthMux(NewHealthHandler(nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	var info map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abc123", info["git_commit"])
}
