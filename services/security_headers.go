package services

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// SecurityConfig sets the response headers added to every API response.
// Empty values leave a header out.
type SecurityConfig struct {
	ContentSecurityPolicy string `yaml:"content_security_policy"`
	HSTSMaxAge            int64  `yaml:"hsts_max_age" env:"HSTS_MAX_AGE"`
	FrameOptions          string `yaml:"frame_options"`
	ReferrerPolicy        string `yaml:"referrer_policy"`
}

// DefaultSecurityConfig suits a JSON API that serves no documents; images
// under /uploads stay embeddable by the app.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		ContentSecurityPolicy: "default-src 'none'; img-src 'self' data: https:; frame-ancestors 'none'",
		HSTSMaxAge:            31536000,
		FrameOptions:          "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}
}

// SecurityHeaders returns middleware that sets the headers of cfg.
// HSTS is sent only when HSTSMaxAge is positive.
func SecurityHeaders(cfg SecurityConfig) fiber.Handler {
	headers := map[string]string{
		"X-Content-Type-Options":            "nosniff",
		"X-Permitted-Cross-Domain-Policies": "none",
	}
	if cfg.ContentSecurityPolicy != "" {
		headers["Content-Security-Policy"] = cfg.ContentSecurityPolicy
	}
	if cfg.HSTSMaxAge > 0 {
		headers["Strict-Transport-Security"] = "max-age=" + strconv.FormatInt(cfg.HSTSMaxAge, 10) + "; includeSubDomains"
	}
	if cfg.FrameOptions != "" {
		headers["X-Frame-Options"] = cfg.FrameOptions
	}
	if cfg.ReferrerPolicy != "" {
		headers["Referrer-Policy"] = cfg.ReferrerPolicy
	}
	return func(c *fiber.Ctx) error {
		for k, v := range headers {
			c.Set(k, v)
		}
		return c.Next()
	}
}
