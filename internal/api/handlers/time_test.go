package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestTimeGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := gin.New()
	handler := NewTimeHandler(func() time.Time { return fixed }, zerolog.Nop())
	handler.RegisterPublicRoutes(r)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/time", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp TimeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if !resp.ServerTime.Equal(fixed) {
		t.Errorf("server_time = %v, want %v", resp.ServerTime, fixed)
	}
}
