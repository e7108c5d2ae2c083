package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHealthRouter(handler *HealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", handler.Health)
	return r
}

func TestHealthAllBackendsUp(t *testing.T) {
	handler := NewHealthHandler(map[string]Pinger{
		"redis":    PingerFunc(func(ctx context.Context) error { return nil }),
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
	})
	router := setupHealthRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string           `json:"status"`
		Checks map[string]Check `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "pass", resp.Checks["redis"].Status)
	assert.Equal(t, "pass", resp.Checks["postgres"].Status)
}

func TestHealthDegradedWhenBackendDown(t *testing.T) {
	handler := NewHealthHandler(map[string]Pinger{
		"redis":    PingerFunc(func(ctx context.Context) error { return assert.AnError }),
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
	})
	router := setupHealthRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp struct {
		Status string           `json:"status"`
		Checks map[string]Check `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "fail", resp.Checks["redis"].Status)
	assert.Equal(t, "pass", resp.Checks["postgres"].Status)
}
