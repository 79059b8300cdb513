// Package config provides configuration management for the irrigation
// planning and execution service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Farm       FarmConfig
	WaterLevel WaterLevelConfig
	Scheduler  SchedulerConfig
	Logging    LoggingConfig
}

// FarmConfig holds farm-document location configuration.
type FarmConfig struct {
	ConfigPath string
}

// WaterLevelConfig holds water-level ingestion and caching configuration.
type WaterLevelConfig struct {
	CachePath           string
	SensorAPITimeout    time.Duration
	SensorAPIThrottle   time.Duration
	MaxCacheAgeHours    float64
	CleanupHorizonHours float64
}

// SchedulerConfig holds batch-scheduler runtime configuration.
type SchedulerConfig struct {
	TickInterval              time.Duration
	PreExecutionBufferMinutes float64
	MonitorPollInterval       time.Duration
	CompletionToleranceMM     float64
	MaxDurationAdjustRatio    float64
	MinIrrigationDurationMin  float64
	MaxIrrigationDurationMin  float64
	MaxTimeAdjustHours        float64
	MaxWaterAdjustM3          float64
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load reads configuration from environment variables (optionally loaded
// from a .env file via godotenv), applying documented defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Farm: FarmConfig{
			ConfigPath: getEnv("IRRIGATE_FARM_CONFIG_PATH", "farm.json"),
		},
		WaterLevel: WaterLevelConfig{
			CachePath:           getEnv("IRRIGATE_WATERLEVEL_CACHE_PATH", "waterlevel_cache.json"),
			SensorAPITimeout:    getEnvAsDuration("IRRIGATE_SENSOR_API_TIMEOUT", 30*time.Second),
			SensorAPIThrottle:   getEnvAsDuration("IRRIGATE_SENSOR_API_THROTTLE", 5*time.Minute),
			MaxCacheAgeHours:    getEnvAsFloat("IRRIGATE_MAX_CACHE_AGE_HOURS", 24.0),
			CleanupHorizonHours: getEnvAsFloat("IRRIGATE_CLEANUP_HORIZON_HOURS", 720.0),
		},
		Scheduler: SchedulerConfig{
			TickInterval:              getEnvAsDuration("IRRIGATE_SCHEDULER_TICK_INTERVAL", 30*time.Second),
			PreExecutionBufferMinutes: getEnvAsFloat("IRRIGATE_PRE_EXECUTION_BUFFER_MINUTES", 5.0),
			MonitorPollInterval:       getEnvAsDuration("IRRIGATE_MONITOR_POLL_INTERVAL", 1*time.Minute),
			CompletionToleranceMM:     getEnvAsFloat("IRRIGATE_COMPLETION_TOLERANCE_MM", 2.0),
			MaxDurationAdjustRatio:    getEnvAsFloat("IRRIGATE_MAX_DURATION_ADJUST_RATIO", 0.5),
			MinIrrigationDurationMin:  getEnvAsFloat("IRRIGATE_MIN_IRRIGATION_DURATION_MIN", 5.0),
			MaxIrrigationDurationMin:  getEnvAsFloat("IRRIGATE_MAX_IRRIGATION_DURATION_MIN", 1440.0),
			MaxTimeAdjustHours:        getEnvAsFloat("IRRIGATE_MAX_TIME_ADJUST_HOURS", 1.0),
			MaxWaterAdjustM3:          getEnvAsFloat("IRRIGATE_MAX_WATER_ADJUST_M3", 100.0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("IRRIGATE_LOG_LEVEL", "info"),
			Format: getEnv("IRRIGATE_LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that loaded configuration values are well-formed.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Farm.ConfigPath) == "" {
		return fmt.Errorf("IRRIGATE_FARM_CONFIG_PATH must not be empty")
	}
	if c.WaterLevel.MaxCacheAgeHours <= 0 {
		return fmt.Errorf("IRRIGATE_MAX_CACHE_AGE_HOURS must be positive")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("IRRIGATE_SCHEDULER_TICK_INTERVAL must be positive")
	}
	if c.Scheduler.MaxDurationAdjustRatio <= 0 || c.Scheduler.MaxDurationAdjustRatio > 1 {
		return fmt.Errorf("IRRIGATE_MAX_DURATION_ADJUST_RATIO must be in (0,1]")
	}
	if c.Scheduler.MinIrrigationDurationMin > c.Scheduler.MaxIrrigationDurationMin {
		return fmt.Errorf("IRRIGATE_MIN_IRRIGATION_DURATION_MIN must not exceed IRRIGATE_MAX_IRRIGATION_DURATION_MIN")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("IRRIGATE_LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
