// Package middleware provides HTTP middleware components for the SIPSA ingestion service.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxOperators                 int     = 10000
	defaultGlobalRPS           int     = 100
	defaultOperatorRPS           int     = 50
	defaultUnAuthRPS           int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (MVP single-node deployment)
	// or distributed stores like Redis (enterprise multi-node deployment).
	//
	// The interface enables zero-downtime migration from in-memory to Redis-backed
	// rate limiting when scaling beyond single-node deployments.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For authenticated requests, operatorID identifies the operator.
		// For unauthenticated requests, operatorID is empty string.
		Allow(operatorID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-operator limit (applied to authenticated requests)
	// 3. Unauthenticated limit (applied to requests without operator ID)
	//
	// Uses token bucket algorithm with configurable burst capacity.
	// Burst capacity allows temporary bursts above the sustained rate.
	//
	// Memory cleanup runs periodically to prevent unbounded growth.
	// Operators idle longer than IdleTimeout are removed.
	//
	// Suitable for single-node MVP deployments: limiter state lives in this
	// process and is not shared with other instances.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perOperator       map[string]*operatorLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		// Configuration (stored for creating new operator limiters and cleanup)
		operatorRPS       int
		operatorBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxOperators      int
	}

	// operatorLimiter tracks rate limit state for a single operator.
	// Includes last access time for memory cleanup.
	operatorLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with three-tier limits.
//
// Burst capacity is computed automatically as 2 × rate unless overridden in config.
// Cleanup runs periodically to prevent unbounded memory growth.
//
// Parameters:
//   - config: Rate limiter configuration with RPS limits, optional burst overrides,
//     and cleanup settings
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS: 100,
//	    OperatorRPS: 50,
//	    UnAuthRPS: 10,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	// Compute burst capacities (use override if provided, otherwise 2 × rate)
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	operatorBurst := computeBurstCapacity(config.OperatorRPS, config.OperatorBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	// Create rate limiter with three-tier limits
	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perOperator:       make(map[string]*operatorLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		operatorRPS:       config.OperatorRPS,
		operatorBurst:     operatorBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxOperators:      config.MaxOperators,
	}

	// Start background cleanup goroutine
	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
//
// If burstOverride is 0, computes burst automatically as 2 × rate.
// If burstOverride > 0, uses the override value.
//
// Parameters:
//   - rate: Rate limit in requests per second
//   - burstOverride: Optional burst override (0 = auto-compute)
//
// Returns:
//   - Burst capacity (allows temporary bursts above sustained rate)
//
// Example:
//
//	computeBurstCapacity(100, 0)   // Returns 200 (auto-computed)
//	computeBurstCapacity(100, 500) // Returns 500 (use override)
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Returns true if the request is allowed, false if rate limited.
//
// Rate limiting is enforced in three tiers:
// 1. Global limit (all requests)
// 2. Per-operator limit (authenticated) OR unauthenticated limit
//
// Parameters:
//   - operatorID: empty string for unauthenticated requests, operator ID otherwise
func (rl *InMemoryRateLimiter) Allow(operatorID string) bool {
	// Tier 1: Check global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	// Tier 2: Check operator-specific or unauthenticated limit
	if operatorID == "" {
		// Unauthenticated request
		return rl.unauthenticated.Allow()
	}

	// Authenticated request - get or create operator limiter
	rl.mu.RLock()
	pl, ok := rl.perOperator[operatorID]
	rl.mu.RUnlock()

	if !ok {
		// Lazy initialization: create limiter for this operator
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if pl, ok = rl.perOperator[operatorID]; !ok {
			pl = &operatorLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.operatorRPS), rl.operatorBurst),
				lastAccess: time.Now(),
			}

			rl.perOperator[operatorID] = pl

			// Operational monitoring: warn when approaching max operators limit
			// This helps operators detect operator ID proliferation before hitting hard limits
			// In later phases, lets add open telemetry metrics to track this
			currentCount := len(rl.perOperator)
			threshold := int(float64(rl.maxOperators) * thresholdMultiplier) // 80% threshold

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max operators limit",
					"current_operators", currentCount,
					"max_operators", rl.maxOperators,
					"threshold_percent", thresholdPercentage,
					"recommendation", "investigate potential operator ID proliferation or increase max_operators limit")
			}
		}

		rl.mu.Unlock()
	}

	// Update last access time (for cleanup)
	pl.mu.Lock()
	pl.lastAccess = time.Now()
	pl.mu.Unlock()

	// Check operator-specific limit
	return pl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
// Must be called when the InMemoryRateLimiter is no longer needed.
//
// Note: Close() is not part of the RateLimiter interface. It returns no
// error, so *InMemoryRateLimiter does not satisfy io.Closer.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

// startCleanup starts a background goroutine that periodically removes
// stale operator limiters to prevent memory leaks.
//
// Cleanup runs every 5 minutes and removes limiters that haven't been
// accessed in the last hour.
func (rl *InMemoryRateLimiter) startCleanup() {
	// Use config values if set, otherwise use defaults
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes operator limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	// Use config value if set, otherwise use default
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for operatorID, pl := range rl.perOperator {
		pl.mu.Lock()
		lastAccess := pl.lastAccess
		pl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perOperator, operatorID)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Rate limiting is applied in three tiers:
//  1. Global limit (all requests)
//  2. Per-operator limit (authenticated requests with OperatorContext)
//  3. Unauthenticated limit (requests without OperatorContext)
//
// When a request exceeds the rate limit, the middleware returns a 429 (Too Many Requests)
// response with RFC 7807 error format.
//
// The middleware must be placed after authentication middleware in the chain to access
// OperatorContext for per-operator rate limiting.
//
// Parameters:
//   - limiter: RateLimiter implementation (e.g. InMemoryRateLimiter)
//
// Example:
//
//	rateLimiter := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS: 100,
//	    OperatorRPS: 50,
//	    UnAuthRPS: 10,
//	})
//	defer rateLimiter.Close()
//
//	handler = RateLimit(rateLimiter, logger)(handler)
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract operator ID from context (set by authentication middleware)
			// If OperatorContext exists, use operator ID for per-operator rate limiting
			// If OperatorContext is nil, use empty string for unauthenticated rate limiting
			operatorID := ""
			if operatorCtx, ok := GetOperatorContext(r.Context()); ok {
				operatorID = operatorCtx.OperatorID
			}

			// Check rate limit
			if !limiter.Allow(operatorID) {
				// Get correlation ID for error response
				correlationID := GetCorrelationID(r.Context())

				// Write RFC 7807 compliant error response
				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					// Fallback to plain text if writeRFC7807Error fails
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			// Rate limit not exceeded, continue to next handler
			next.ServeHTTP(w, r)
		})
	}
}
