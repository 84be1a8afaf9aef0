// Package middleware provides HTTP middleware components for the SIPSA ingestion service.
package middleware

import (
	"time"

	"github.com/sipsa-ingest/ingestor/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-operator: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without operator ID
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	OperatorRPS int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 200)
	OperatorBurst int // Default: 0 (computed as 2 × OperatorRPS = 100)
	UnAuthBurst int // Default: 0 (computed as 2 × UnAuthRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxOperators      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes operators idle >1 hour
// Default max operators: 10,000 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("SIPSA_GLOBAL_RPS", defaultGlobalRPS),
		OperatorRPS: config.GetEnvInt("SIPSA_OPERATOR_RPS", defaultOperatorRPS),
		UnAuthRPS: config.GetEnvInt("SIPSA_UNAUTH_RPS", defaultUnAuthRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("SIPSA_GLOBAL_BURST", 0),
		OperatorBurst: config.GetEnvInt("SIPSA_OPERATOR_BURST", 0),
		UnAuthBurst: config.GetEnvInt("SIPSA_UNAUTH_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"SIPSA_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("SIPSA_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxOperators:  config.GetEnvInt("SIPSA_RATE_LIMIT_MAX_OPERATORS", maxOperators),
	}
}
