package services

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// RateLimitConfig defines configuration for the rate limiter
type RateLimitConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	EntryTTL        time.Duration `yaml:"entry_ttl"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	EnableDebug     bool          `yaml:"enable_debug"`

	// Budget for the nickname availability endpoint, per client IP.
	NicknameCheckCapacity int           `yaml:"nickname_check_capacity"`
	NicknameCheckWindow   time.Duration `yaml:"nickname_check_window"`
	// Budget for signup/signin, per client IP.
	AuthCapacity int           `yaml:"auth_capacity"`
	AuthWindow   time.Duration `yaml:"auth_window"`
}

// RateLimitStats provides statistics about rate limiter usage
type RateLimitStats struct {
	TotalEntries int64         `json:"total_entries"`
	EvictedCount int64         `json:"evicted_count"`
	DeniedCount  int64         `json:"denied_count"`
	Uptime       time.Duration `json:"uptime"`
}

// rlEntry is a token bucket for one client; refilled in full at refillAt.
type rlEntry struct {
	tokens   int
	refillAt time.Time
	lastUsed time.Time
}

// RateLimiter is a per-IP token bucket limiter. Buckets live in a go-cache
// instance, which expires idle ones after EntryTTL.
type RateLimiter struct {
	mu              sync.Mutex
	entries         *cache.Cache
	config          RateLimitConfig
	stats           RateLimitStats
	startTime       time.Time
	trustedProxyMap map[string]bool
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 1 * time.Minute
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = 30 * time.Minute
	}

	trustedProxyMap := make(map[string]bool)
	for _, proxy := range config.TrustedProxies {
		if ip := normalizeIP(proxy); ip != "" {
			trustedProxyMap[ip] = true
		}
	}

	rl := &RateLimiter{
		entries:         cache.New(config.EntryTTL, config.CleanupInterval),
		config:          config,
		startTime:       time.Now(),
		trustedProxyMap: trustedProxyMap,
	}
	rl.entries.OnEvicted(func(ip string, _ interface{}) {
		if rl.config.EnableDebug {
			Log.WithField("ip", ip).Debug("rate limit bucket expired")
		}
	})
	return rl
}

// Middleware returns a Fiber middleware allowing capacity requests per refill
// window for each client IP.
func (rl *RateLimiter) Middleware(capacity int, refill time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := rl.getClientIP(c)
		if ip == "" {
			if rl.config.EnableDebug {
				Log.Debug("unable to determine client IP, allowing request")
			}
			return c.Next()
		}

		allowed, remaining, reset := rl.allowRequest(ip, capacity, refill)
		c.Set("X-RateLimit-Limit", strconv.Itoa(capacity))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			retry := int(time.Until(reset).Seconds()) + 1
			c.Set("Retry-After", strconv.Itoa(retry))
			Log.WithFields(logrus.Fields{
				"ip":     ip,
				"path":   c.Path(),
				"method": c.Method(),
			}).Warn("rate limit exceeded")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests",
				"retry_after": retry,
			})
		}

		return c.Next()
	}
}

// allowRequest takes one token from ip's bucket. It returns whether the
// request may proceed, the tokens left and when the bucket refills.
func (rl *RateLimiter) allowRequest(ip string, capacity int, refill time.Duration) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	var entry *rlEntry
	if v, ok := rl.entries.Get(ip); ok {
		entry = v.(*rlEntry)
	}

	if entry == nil || now.After(entry.refillAt) {
		if entry == nil && rl.entries.ItemCount() >= rl.config.MaxEntries {
			rl.evictLRU()
		}
		entry = &rlEntry{
			tokens:   capacity,
			refillAt: now.Add(refill),
		}
	}
	entry.lastUsed = now
	rl.entries.SetDefault(ip, entry)

	if entry.tokens <= 0 {
		rl.stats.DeniedCount++
		return false, 0, entry.refillAt
	}
	entry.tokens--
	return true, entry.tokens, entry.refillAt
}

// evictLRU removes the least recently used tenth of the buckets, at least
// one. Caller holds rl.mu.
func (rl *RateLimiter) evictLRU() {
	items := rl.entries.Items()
	if len(items) == 0 {
		return
	}
	type aged struct {
		key      string
		lastUsed time.Time
	}
	all := make([]aged, 0, len(items))
	for key, item := range items {
		all = append(all, aged{key, item.Object.(*rlEntry).lastUsed})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastUsed.Before(all[j].lastUsed) })

	batch := rl.config.MaxEntries / 10
	if batch < 1 {
		batch = 1
	}
	if batch > len(all) {
		batch = len(all)
	}
	for _, e := range all[:batch] {
		rl.entries.Delete(e.key)
	}
	rl.stats.EvictedCount += int64(batch)
}

// getClientIP extracts the client IP address. Forwarding headers are only
// honoured when the direct peer is a trusted proxy; an empty trusted list
// trusts nobody. The client is the rightmost X-Forwarded-For hop that is not
// a trusted proxy.
func (rl *RateLimiter) getClientIP(c *fiber.Ctx) string {
	remote := normalizeIP(c.IP())
	if !rl.trustedProxyMap[remote] {
		return remote
	}
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := normalizeIP(strings.TrimSpace(hops[i]))
			if ip == "" {
				break
			}
			if !rl.trustedProxyMap[ip] {
				return ip
			}
		}
	}
	if realIP := normalizeIP(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return remote
}

// normalizeIP returns the canonical text form of ip, or "" if it does not parse.
func normalizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	return parsed.String()
}

// GetStats returns current rate limiter statistics
func (rl *RateLimiter) GetStats() RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := rl.stats
	stats.TotalEntries = int64(rl.entries.ItemCount())
	stats.Uptime = time.Since(rl.startTime)
	return stats
}
