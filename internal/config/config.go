package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env           string
	Port          string
	DatabaseURL   string
	AutoMigrate   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BaseCurrency       string
	RatesURL           string
	RatesTTL           time.Duration
	RatesFetchTimeout  time.Duration
	RatesRetryInterval time.Duration
	// RatesRefreshAt is the UTC wall-clock time (HH:MM) of the daily refresh.
	RatesRefreshAt string

	LogLevel  string
	LogFormat string
}

// Load reads configuration with this priority: process environment, then an
// optional .env file, then an optional config.toml, then built-in defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Env:                v.GetString("app_env"),
		Port:               v.GetString("port"),
		DatabaseURL:        strings.TrimSpace(v.GetString("database_url")),
		AutoMigrate:        v.GetBool("db_auto_migrate"),
		RedisAddr:          strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:      v.GetString("redis_password"),
		RedisDB:            v.GetInt("redis_db"),
		BaseCurrency:       strings.ToUpper(strings.TrimSpace(v.GetString("base_currency"))),
		RatesURL:           v.GetString("rates_url"),
		RatesTTL:           v.GetDuration("rates_ttl"),
		RatesFetchTimeout:  v.GetDuration("rates_fetch_timeout"),
		RatesRetryInterval: v.GetDuration("rates_retry_interval"),
		RatesRefreshAt:     v.GetString("rates_refresh_at"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("db_auto_migrate", true)
	v.SetDefault("redis_db", 0)
	v.SetDefault("base_currency", "GEL")
	v.SetDefault("rates_url", "https://api.exchangerate-api.com/v4/latest/")
	v.SetDefault("rates_ttl", "24h")
	v.SetDefault("rates_fetch_timeout", "10s")
	v.SetDefault("rates_retry_interval", "1m")
	v.SetDefault("rates_refresh_at", "00:05")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("BASE_CURRENCY must be a 3-letter code, got %q", c.BaseCurrency)
	}
	if c.RatesTTL <= 0 || c.RatesFetchTimeout <= 0 || c.RatesRetryInterval <= 0 {
		return errors.New("RATES_TTL, RATES_FETCH_TIMEOUT and RATES_RETRY_INTERVAL must be positive")
	}
	if _, err := time.Parse("15:04", c.RatesRefreshAt); err != nil {
		return fmt.Errorf("RATES_REFRESH_AT must be HH:MM, got %q", c.RatesRefreshAt)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.RedisDB < 0 {
		return errors.New("REDIS_DB cannot be negative")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
