// Package common provides shared configuration and telemetry for the
// gotecgg command line tools.
package common

import (
	"os"
	"path/filepath"
)

// Config holds the environment-driven settings shared by all tools.
type Config struct {
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	DataDir            string
	LogLevel           string
}

// DefaultConfig returns configuration with sensible defaults, overridable
// through the environment.
func DefaultConfig() *Config {
	return &Config{
		ClickHouseHost:     getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort:     9000,
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "gnss"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		DataDir:            getEnv("GOTECGG_DATA_DIR", "/var/lib/gotecgg"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

// RINEXDataDir returns the directory for downloaded RINEX observation files.
func (c *Config) RINEXDataDir() string {
	return filepath.Join(c.DataDir, "rinex")
}

// TECDataDir returns the directory for calibrated TEC output files.
func (c *Config) TECDataDir() string {
	return filepath.Join(c.DataDir, "tec")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
