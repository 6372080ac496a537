package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for both services
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	AccountService AccountServiceConfig `mapstructure:"account_service"`
	Limits         LimitsConfig         `mapstructure:"limits"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Sweeper        SweeperConfig        `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	RequestTimeout  int      `mapstructure:"request_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// AccountServiceConfig tunes the resilient client the transaction service
// uses to reach the account service.
type AccountServiceConfig struct {
	BaseURL               string  `mapstructure:"base_url"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	MaxRetries            int     `mapstructure:"max_retries"`
	RetryInitialDelayMs   int     `mapstructure:"retry_initial_delay_ms"`
	BreakerWindowSize     int     `mapstructure:"breaker_window_size"`
	BreakerFailureRate    float64 `mapstructure:"breaker_failure_rate"`
	BreakerMinCalls       int     `mapstructure:"breaker_min_calls"`
	BreakerOpenSeconds    int     `mapstructure:"breaker_open_seconds"`
	BreakerHalfOpenProbes int     `mapstructure:"breaker_half_open_probes"`
	ServiceToken          string  `mapstructure:"service_token"`
}

type LimitsConfig struct {
	ProfilePath string `mapstructure:"profile_path"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

type SweeperConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Schedule       string `mapstructure:"schedule"`
	StuckAfterMins int    `mapstructure:"stuck_after_mins"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.request_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 300)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "ledger_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.migrations_path", "migrations")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	// JWT defaults
	viper.SetDefault("jwt.issuer", "ledger_service")

	// Account service client defaults
	viper.SetDefault("account_service.base_url", "http://localhost:8081")
	viper.SetDefault("account_service.timeout_seconds", 8)
	viper.SetDefault("account_service.max_retries", 4)
	viper.SetDefault("account_service.retry_initial_delay_ms", 2000)
	viper.SetDefault("account_service.breaker_window_size", 15)
	viper.SetDefault("account_service.breaker_failure_rate", 0.6)
	viper.SetDefault("account_service.breaker_min_calls", 8)
	viper.SetDefault("account_service.breaker_open_seconds", 45)
	viper.SetDefault("account_service.breaker_half_open_probes", 3)

	// Limits defaults
	viper.SetDefault("limits.profile_path", "")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)

	// Sweeper defaults
	viper.SetDefault("sweeper.enabled", true)
	viper.SetDefault("sweeper.schedule", "@every 1m")
	viper.SetDefault("sweeper.stuck_after_mins", 5)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	if baseURL := os.Getenv("ACCOUNT_SERVICE_URL"); baseURL != "" {
		viper.Set("account_service.base_url", baseURL)
	}
	if token := os.Getenv("ACCOUNT_SERVICE_TOKEN"); token != "" {
		viper.Set("account_service.service_token", token)
	}

	if profilePath := os.Getenv("LIMITS_PROFILE_PATH"); profilePath != "" {
		viper.Set("limits.profile_path", profilePath)
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			viper.Set("redis.port", p)
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.AccountService.BaseURL == "" {
		return fmt.Errorf("account service base URL is required")
	}

	return nil
}
