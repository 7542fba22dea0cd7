package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-kiosk/internal/auth"
)

func serve(r *gin.Engine, path, header string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestTokenTypesAreEnforced(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := auth.NewVerifier("secret", time.Hour)
	examinee, _ := verifier.IssueExaminee(1, nil)
	proctor, _ := verifier.IssueProctor(2)

	r := gin.New()
	ok := func(c *gin.Context) {
		if GetClaims(c) == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	}
	r.GET("/ws", RequireExamineeWSAuth(verifier), ok)
	r.GET("/proctor", RequireProctorJWT(verifier), ok)

	cases := []struct {
		path, header string
		want         int
	}{
		{"/ws?token=" + examinee, "", http.StatusOK},
		{"/ws", "", http.StatusUnauthorized},
		{"/ws?token=" + proctor, "", http.StatusForbidden},
		{"/ws?token=garbage", "", http.StatusUnauthorized},
		{"/proctor", "Bearer " + proctor, http.StatusOK},
		{"/proctor?token=" + proctor, "", http.StatusOK},
		{"/proctor", "Bearer " + examinee, http.StatusForbidden},
		{"/proctor", "Basic abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if got := serve(r, tc.path, tc.header); got != tc.want {
			t.Errorf("GET %s (%q) = %d, want %d", tc.path, tc.header, got, tc.want)
		}
	}
}

func TestRateLimiterRefills(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(2, time.Minute, ByClientIP, clock)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("buckets are per key")
	}

	clock.Advance(time.Minute)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill after the interval")
	}

	clock.Advance(10 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("buckets = %d, want idle ones dropped", n)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Hour, ByClaims, clockwork.NewFakeClock())
	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if got := serve(r, "/", ""); got != http.StatusOK {
		t.Fatalf("first = %d", got)
	}
	if got := serve(r, "/", ""); got != http.StatusTooManyRequests {
		t.Fatalf("second = %d", got)
	}
}
