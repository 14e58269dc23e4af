package app

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"

	"github.com/mx-space/portal/internal/config"
)

func corsConfig(cfg *config.AppConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "x-idempotence"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.IsDev() || len(cfg.AllowedOrigins) == 0 {
		c.AllowOriginFunc = func(string) bool { return true }
		return c
	}
	c.AllowOriginFunc = allowOrigin(cfg.AllowedOrigins)
	return c
}

// allowOrigin matches the origin host against each pattern. Patterns may
// carry a scheme, which is ignored.
func allowOrigin(patterns []string) func(string) bool {
	hosts := make([]string, 0, len(patterns))
	for _, p := range patterns {
		hosts = append(hosts, extractOriginHost(p))
	}
	return func(origin string) bool {
		host := extractOriginHost(origin)
		for _, pattern := range hosts {
			if matchOriginPattern(pattern, host) {
				return true
			}
		}
		return false
	}
}

// extractOriginHost returns the "host[:port]" portion of an origin URL.
func extractOriginHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}

// matchOriginPattern reports whether host matches the given wildcard pattern.
func matchOriginPattern(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(host, pattern[:len(pattern)-1])
	}
	return false
}
