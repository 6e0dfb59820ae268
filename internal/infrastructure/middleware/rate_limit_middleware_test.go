package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meetjoin/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newLimitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Control.RateLimiting.Enabled = false
	router := newLimitedRouter(cfg)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Control.RateLimiting.Enabled = true
	cfg.Control.RateLimiting.RequestsPerSecond = 1
	cfg.Control.RateLimiting.Burst = 1
	router := newLimitedRouter(cfg)

	// First request should pass.
	w1 := httptest.NewRecorder()
	req1, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req1.RemoteAddr = "10.0.0.1:1234"
	router.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w1.Code)
	}

	// Second immediate request from same "IP" should be limited.
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req2.RemoteAddr = "10.0.0.1:1235"
	router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", w2.Header().Get("Retry-After"))
	}

	// Another client has its own budget.
	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req3.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("expected status 200 for a different client, got %d", w3.Code)
	}
}

func TestClientLimiters_EvictsRefilledClients(t *testing.T) {
	now := time.Unix(1000, 0)
	clients := newClientLimiters(1, 1)
	clients.now = func() time.Time { return now }

	for i := 0; i < maxTrackedClients; i++ {
		if !clients.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256)) {
			t.Fatalf("first request from client %d should pass", i)
		}
	}
	if clients.allow("10.0.0.0") {
		t.Fatal("second request inside the window should be limited")
	}

	now = now.Add(2 * time.Second)
	if !clients.allow("192.168.1.1") {
		t.Fatal("new client should pass")
	}
	if got := len(clients.clients); got != 1 {
		t.Fatalf("expected refilled clients to be evicted, %d tracked", got)
	}
}
