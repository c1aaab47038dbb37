package services

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxEntries:      100,
		CleanupInterval: 100 * time.Millisecond,
		EntryTTL:        1 * time.Second,
		TrustedProxies:  []string{"127.0.0.1", "::1"},
		EnableDebug:     true,
	}
}

func TestRateLimiterBasics(t *testing.T) {
	limiter := NewRateLimiter(testRateLimitConfig())
	assert.NotNil(t, limiter)

	allowed, remaining, _ := limiter.allowRequest("192.168.1.1", 2, time.Minute)
	assert.True(t, allowed, "First request should be allowed")
	assert.Equal(t, 1, remaining)

	allowed, remaining, _ = limiter.allowRequest("192.168.1.1", 2, time.Minute)
	assert.True(t, allowed, "Second request should be allowed")
	assert.Equal(t, 0, remaining)

	allowed, _, _ = limiter.allowRequest("192.168.1.1", 2, time.Minute)
	assert.False(t, allowed, "Third request should be blocked")

	// Different IPs are independent
	allowed, _, _ = limiter.allowRequest("192.168.1.2", 2, time.Minute)
	assert.True(t, allowed, "Different IP should be allowed")
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(testRateLimitConfig())

	app := fiber.New()
	app.Use(limiter.Middleware(2, time.Minute))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("test")
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("GET", "/test", nil)
		resp, err := app.Test(req)
		assert.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	}

	req, _ := http.NewRequest("GET", "/test", nil)
	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, int64(1), limiter.GetStats().DeniedCount)
}

func TestRateLimiterTokenRefill(t *testing.T) {
	limiter := NewRateLimiter(testRateLimitConfig())
	ip := "192.168.1.3"

	for i := 0; i < 2; i++ {
		allowed, _, _ := limiter.allowRequest(ip, 2, 50*time.Millisecond)
		assert.True(t, allowed, "Request %d should be allowed", i+1)
	}

	allowed, _, _ := limiter.allowRequest(ip, 2, 50*time.Millisecond)
	assert.False(t, allowed, "Request should be blocked when tokens are exhausted")

	time.Sleep(60 * time.Millisecond)

	allowed, _, _ = limiter.allowRequest(ip, 2, 50*time.Millisecond)
	assert.True(t, allowed, "Request should be allowed after token refill")
}

func TestRateLimiterStats(t *testing.T) {
	limiter := NewRateLimiter(testRateLimitConfig())

	limiter.allowRequest("192.168.1.4", 2, time.Minute)
	limiter.allowRequest("192.168.1.4", 2, time.Minute)
	limiter.allowRequest("192.168.1.4", 2, time.Minute) // denied

	stats := limiter.GetStats()
	assert.Equal(t, int64(1), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.DeniedCount)
	assert.GreaterOrEqual(t, stats.Uptime, time.Duration(0))
}

func TestRateLimiterEvictsLeastRecentlyUsed(t *testing.T) {
	config := testRateLimitConfig()
	config.MaxEntries = 3
	limiter := NewRateLimiter(config)

	for i := 1; i <= 3; i++ {
		limiter.allowRequest(fmt.Sprintf("10.0.0.%d", i), 5, time.Minute)
		time.Sleep(2 * time.Millisecond)
	}
	// touch .1 so .2 becomes the oldest
	limiter.allowRequest("10.0.0.1", 5, time.Minute)
	limiter.allowRequest("10.0.0.4", 5, time.Minute)

	stats := limiter.GetStats()
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.EvictedCount)
	_, found := limiter.entries.Get("10.0.0.2")
	assert.False(t, found)
}

func TestRateLimiterCleanup(t *testing.T) {
	config := RateLimitConfig{
		MaxEntries:      100,
		CleanupInterval: 50 * time.Millisecond,
		EntryTTL:        100 * time.Millisecond,
	}
	limiter := NewRateLimiter(config)

	limiter.allowRequest("10.1.0.1", 1, time.Minute)
	limiter.allowRequest("10.1.0.2", 1, time.Minute)
	limiter.allowRequest("10.1.0.3", 1, time.Minute)

	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, int64(0), limiter.GetStats().TotalEntries)
}

func TestNormalizeIP(t *testing.T) {
	assert.Equal(t, "192.168.1.1", normalizeIP("192.168.1.1"))
	assert.Equal(t, "::1", normalizeIP("0:0:0:0:0:0:0:1"))
	assert.Equal(t, "2001:db8::1", normalizeIP("2001:db8::1"))

	assert.Equal(t, "", normalizeIP(""))
	assert.Equal(t, "", normalizeIP("invalid"))
	assert.Equal(t, "", normalizeIP("999.999.999.999"))
}

// clientIPFor runs getClientIP on a request from the in-process test client,
// whose peer address is 0.0.0.0.
func clientIPFor(t *testing.T, limiter *RateLimiter, headers map[string]string) string {
	t.Helper()
	app := fiber.New()
	app.Get("/ip", func(c *fiber.Ctx) error {
		return c.SendString(limiter.getClientIP(c))
	})

	req, _ := http.NewRequest("GET", "/ip", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRateLimiterClientIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		headers map[string]string
		want    string
	}{
		{
			name:    "untrusted peer cannot forward",
			trusted: []string{"127.0.0.1", "::1"},
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "203.0.113.10"},
			want:    "0.0.0.0",
		},
		{
			name:    "empty trusted list trusts nobody",
			trusted: nil,
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:    "0.0.0.0",
		},
		{
			name:    "rightmost untrusted hop wins over spoofed entries",
			trusted: []string{"0.0.0.0", "10.0.0.1"},
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9, 10.0.0.1"},
			want:    "203.0.113.9",
		},
		{
			name:    "garbage hop stops the walk",
			trusted: []string{"0.0.0.0"},
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, nonsense", "X-Real-IP": "198.51.100.7"},
			want:    "198.51.100.7",
		},
		{
			name:    "trusted peer without headers",
			trusted: []string{"0.0.0.0"},
			want:    "0.0.0.0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testRateLimitConfig()
			config.TrustedProxies = tt.trusted
			assert.Equal(t, tt.want, clientIPFor(t, NewRateLimiter(config), tt.headers))
		})
	}
}

func TestRateLimiterEvictsInBatches(t *testing.T) {
	config := testRateLimitConfig()
	config.MaxEntries = 20
	limiter := NewRateLimiter(config)

	for i := 1; i <= 20; i++ {
		limiter.allowRequest(fmt.Sprintf("10.2.0.%d", i), 5, time.Minute)
		time.Sleep(time.Millisecond)
	}
	limiter.allowRequest("10.2.1.1", 5, time.Minute)

	stats := limiter.GetStats()
	assert.Equal(t, int64(2), stats.EvictedCount)
	assert.Equal(t, int64(19), stats.TotalEntries)
	for _, ip := range []string{"10.2.0.1", "10.2.0.2"} {
		_, found := limiter.entries.Get(ip)
		assert.False(t, found, ip)
	}
	_, found := limiter.entries.Get("10.2.0.3")
	assert.True(t, found)

	// the freed room absorbs the next new client without another scan
	limiter.allowRequest("10.2.1.2", 5, time.Minute)
	assert.Equal(t, int64(2), limiter.GetStats().EvictedCount)
}
