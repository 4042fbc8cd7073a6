package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhubdev/taskhub/internal/http/middlewares"
)

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	rl := middlewares.NewRateLimiter(3, time.Minute)

	r := gin.New()
	r.POST("/login", rl.RateLimiterMiddleware(middlewares.KeyByIP), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:5000"

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		return w
	}

	for i := 0; i < 3; i++ {
		if w := send(); w.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d", i, w.Code)
		}
	}

	w := send()

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d, want 429", w.Code)
	}

	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := middlewares.NewRateLimiter(1, time.Minute)

	r := gin.New()
	r.POST("/login", rl.RateLimiterMiddleware(middlewares.KeyByIP), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		return w
	}

	if w := send("10.0.0.1:5000"); w.Code != http.StatusOK {
		t.Fatalf("first client first request: %d", w.Code)
	}

	if w := send("10.0.0.1:5000"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second request: %d", w.Code)
	}

	// a different client still has budget
	if w := send("10.0.0.2:5000"); w.Code != http.StatusOK {
		t.Fatalf("second client first request: %d", w.Code)
	}
}
