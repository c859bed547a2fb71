package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Schedule      string `yaml:"schedule"` // cron expression
		StoragePath   string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		EnforceConflicts    bool   `yaml:"enforce_conflicts"`
		DayStart            string `yaml:"day_start"`
		DayEnd              string `yaml:"day_end"`
		SlotDurationMinutes int    `yaml:"slot_duration_minutes"`
	} `yaml:"booking"`

	Reminders struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"` // cron expression
		DaysOut  int    `yaml:"days_out"`
	} `yaml:"reminders"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/gas_engineer_crm.db"
	}
	if c.Booking.DayStart == "" {
		c.Booking.DayStart = "08:00"
	}
	if c.Booking.DayEnd == "" {
		c.Booking.DayEnd = "18:00"
	}
	if c.Booking.SlotDurationMinutes <= 0 {
		c.Booking.SlotDurationMinutes = 30
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Reminders.Schedule == "" {
		c.Reminders.Schedule = "0 7 * * *"
	}
	if c.Reminders.DaysOut <= 0 {
		c.Reminders.DaysOut = 1
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 100
	}
}

// CustomerCacheTTL returns the configured customer cache TTL.
func (c *Config) CustomerCacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}
