package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the global application configuration loaded from YAML.
// Credentials and the database DSN come from the environment (see LoadEnv),
// never from the config file.
type AppConfig struct {
	// Results site (public racing authority pages)
	ResultsBaseURL string        `yaml:"results_base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	RespectRobots  bool          `yaml:"respect_robots,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty"`

	// Odds site (authenticated)
	OddsBaseURL        string        `yaml:"odds_base_url"`
	OddsLoginURL       string        `yaml:"odds_login_url"`
	OddsRequestTimeout time.Duration `yaml:"odds_request_timeout,omitempty"`
	CredentialFile     string        `yaml:"credential_file,omitempty"`
	MaxRelogins        int           `yaml:"max_relogins,omitempty"`

	// Retry policies
	MaxRetries        int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`
	RateLimitRetries  int           `yaml:"rate_limit_retries,omitempty"`
	RateLimitBackoff  time.Duration `yaml:"rate_limit_backoff,omitempty"`

	// Adaptive rate limiter
	SamePathDelay   time.Duration `yaml:"same_path_delay,omitempty"`
	PathChangeDelay time.Duration `yaml:"path_change_delay,omitempty"`

	// Concurrency ceilings
	MaxRaceWorkers    int `yaml:"max_race_workers,omitempty"`
	MaxProfileWorkers int `yaml:"max_profile_workers,omitempty"`
	MaxOddsWorkers    int `yaml:"max_odds_workers,omitempty"`

	// HTTP client plumbing
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client.
type HTTPClientConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	DialerTimeout       time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// EnvConfig holds secrets and connection settings read from the environment
// (with an optional .env file overlay; real environment variables win).
type EnvConfig struct {
	DatabaseURL string
	DBUser      string
	DBPass      string
	DBHost      string
	DBPort      string
	DBName      string
	DBSSLMode   string

	OddsEmail    string
	OddsPassword string

	Debug bool
}

// Defaults returns an AppConfig populated with the tuning the scraper ships
// with. Values mirror what the origin sites tolerate in practice: cheap
// same-path repeats, expensive path switches, small fixed 429 backoff window.
func Defaults() AppConfig {
	return AppConfig{
		ResultsBaseURL:     "https://racing.hkjc.com/zh-hk/local/information",
		RequestTimeout:     15 * time.Second,
		RespectRobots:      true,
		UserAgent:          "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		OddsBaseURL:        "https://horse.hk33.com/analysis",
		OddsLoginURL:       "https://www.hk33.com/zh-yue/user-ajaj/user.login.ajaj",
		OddsRequestTimeout: 30 * time.Second,
		CredentialFile:     ".odds_cookies",
		MaxRelogins:        3,
		MaxRetries:         3,
		InitialRetryDelay:  1 * time.Second,
		MaxRetryDelay:      30 * time.Second,
		RateLimitRetries:   3,
		RateLimitBackoff:   15 * time.Second,
		SamePathDelay:      300 * time.Millisecond,
		PathChangeDelay:    15 * time.Second,
		MaxRaceWorkers:     4,
		MaxProfileWorkers:  8,
		MaxOddsWorkers:     2,
		HTTPClientSettings: HTTPClientConfig{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DialerTimeout:       5 * time.Second,
			DialerKeepAlive:     30 * time.Second,
		},
	}
}

// LoadConfig reads the YAML config file at path over the defaults. An empty
// path returns the defaults unchanged.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := Defaults()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEnv reads secrets from a .env file (if present) and the environment.
// Environment variables always take precedence over .env values.
func LoadEnv() *EnvConfig {
	// Ignore a missing .env file; env vars alone are a valid setup.
	_ = godotenv.Load()

	return &EnvConfig{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBUser:       getenv("DB_USER", "postgres"),
		DBPass:       os.Getenv("DB_PASSWORD"),
		DBHost:       getenv("DB_HOST", "localhost"),
		DBPort:       getenv("DB_PORT", "5432"),
		DBName:       getenv("DB_NAME", "hkracing"),
		DBSSLMode:    getenv("DB_SSLMODE", "disable"),
		OddsEmail:    os.Getenv("ODDS_EMAIL"),
		OddsPassword: os.Getenv("ODDS_PASSWORD"),
		Debug:        os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1",
	}
}

// PostgresDSN builds the connection string, preferring an explicit
// DATABASE_URL over the individual fields.
func (e *EnvConfig) PostgresDSN() string {
	if e.DatabaseURL != "" {
		return e.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		e.DBUser, e.DBPass, e.DBHost, e.DBPort, e.DBName, e.DBSSLMode)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
