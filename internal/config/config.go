package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken   string        `yaml:"telegram_token"`
	DatabaseURL     string        `yaml:"database_url"`
	ScanInterval    time.Duration `yaml:"scan_interval"`
	RestoreInterval time.Duration `yaml:"restore_interval"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HTTPAddr        string        `yaml:"http_addr"`
	Redis           RedisConfig   `yaml:"redis"`
	Log             LogConfig     `yaml:"log"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from an optional YAML file (CONFIG_FILE), then
// environment variables (and .env), then fills defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := overrideFromEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	return nil
}

func overrideFromEnv(cfg *Config) error {
	setString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	if raw := env("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return fmt.Errorf("invalid REDIS_DB %q", raw)
		}
		cfg.Redis.DB = db
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCAN_INTERVAL", &cfg.ScanInterval},
		{"RESTORE_INTERVAL", &cfg.RestoreInterval},
		{"JOB_TIMEOUT", &cfg.JobTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		raw := env(d.key)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid %s %q", d.key, raw)
		}
		*d.dst = parsed
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "reminder_bot.db"
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	if cfg.RestoreInterval <= 0 {
		cfg.RestoreInterval = time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 50 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if _, ok := os.LookupEnv("HTTP_ADDR"); !ok && cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
