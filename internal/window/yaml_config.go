package window

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sipsa-ingest/ingestor/internal/config"
)

// FileConfig is the optional on-disk override for the scheduling window
// bounds, loaded from YAML (.sipsa.yaml by default). All fields are
// optional; a zero value leaves the corresponding Config field at whatever
// the caller already set from environment defaults.
//
// Example:
//
//	daily_start: "06:00"
//	daily_end: "20:00"
//	monthly_start: "06:00"
//	monthly_run_days: [1, 2, 3, 4, 5]
//	time_zone: "America/Bogota"
type FileConfig struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	DailyStart string `yaml:"daily_start"`
	//nolint:tagliatelle
	DailyEnd string `yaml:"daily_end"`
	//nolint:tagliatelle
	MonthlyStart string `yaml:"monthly_start"`
	//nolint:tagliatelle
	MonthlyRunDays []int `yaml:"monthly_run_days"`
	//nolint:tagliatelle
	TimeZone string `yaml:"time_zone"`
}

const (
	// DefaultConfigPath is the default location for the window override file.
	DefaultConfigPath = ".sipsa.yaml"

	// ConfigPathEnvVar names the environment variable pointing at a
	// non-default override file location.
	ConfigPathEnvVar = "SIPSA_WINDOW_CONFIG_PATH"
)

// ApplyFile overlays a YAML override file at path onto base, returning the
// merged Config. A missing file is not an error - the window bounds are
// fully optional to override, so base is returned unchanged. Invalid YAML
// is logged and ignored for the same reason: a malformed override file
// must never prevent the service from starting.
func ApplyFile(base Config, path string) Config {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("window: failed to read config override, using defaults",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return base
	}

	var fc FileConfig

	if err := yaml.Unmarshal(data, &fc); err != nil {
		slog.Warn("window: failed to parse config override, using defaults",
			slog.String("path", path), slog.String("error", err.Error()))

		return base
	}

	return mergeFileConfig(base, fc)
}

// ApplyFileFromEnv applies the override file named by SIPSA_WINDOW_CONFIG_PATH,
// falling back to DefaultConfigPath in the working directory.
func ApplyFileFromEnv(base Config) Config {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return ApplyFile(base, path)
}

func mergeFileConfig(base Config, fc FileConfig) Config {
	if fc.DailyStart != "" {
		base.DailyStart = fc.DailyStart
	}

	if fc.DailyEnd != "" {
		base.DailyEnd = fc.DailyEnd
	}

	if fc.MonthlyStart != "" {
		base.MonthlyStart = fc.MonthlyStart
	}

	if len(fc.MonthlyRunDays) > 0 {
		base.MonthlyRunDays = fc.MonthlyRunDays
	}

	if fc.TimeZone != "" {
		base.TimeZone = fc.TimeZone
	}

	return base
}
