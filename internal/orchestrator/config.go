package orchestrator

import (
	"os"
	"strconv"
)

const (
	defaultBatchSize     = 2000
	defaultMaxRejectRate = 0.01
	defaultMaxRejectCount = 5000
)

// Config holds the quality-gate and batching thresholds applied across
// every run, independent of method (§6.4).
type Config struct {
	BatchSize     int
	MaxRejectRate float64
	MaxRejectCount int
}

// LoadConfig reads thresholds from the environment, falling back to the
// §6.4 defaults.
func LoadConfig() Config {
	return Config{
		BatchSize:      getEnvInt("SIPSA_BATCH_SIZE", defaultBatchSize),
		MaxRejectRate:  getEnvFloat("SIPSA_MAX_REJECT_RATE", defaultMaxRejectRate),
		MaxRejectCount: getEnvInt("SIPSA_MAX_REJECT_COUNT", defaultMaxRejectCount),
	}
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	return fallback
}
