package api

import (
	"time"

	"github.com/jnterry/awoken-bible-usfm/internal/config"
)

// Config holds server configuration.
type Config struct {
	Port           int
	Workers        int           // Chapters parsed in parallel (0 = one per CPU)
	CacheTTL       time.Duration // Lifetime of cached parse results (0 = no expiry)
	CacheEntries   int           // Maximum cached results (0 = unbounded)
	MaxBodyBytes   int64         // Largest accepted upload
	AllowedOrigins []string      // CORS and WebSocket allowed origins (empty = allow all)
	RateLimit      int           // Requests per minute per client (0 = disabled)
	RateBurst      int           // Burst size
}

// ConfigFrom builds the server configuration from the file configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Port:           cfg.Server.Port,
		Workers:        cfg.Parser.Workers,
		CacheTTL:       cfg.Server.CacheTTL,
		CacheEntries:   256,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	}
}
