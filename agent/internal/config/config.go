package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval           = 10 * time.Minute
	DefaultSLOConfigPath      = "/config/SLO_config.json"
	DefaultDeployConfigPath   = "/config/deployment_config.json"
	DefaultMetricsPort        = 8000
	DefaultConcurrency        = 1
	DefaultQueryTimeout       = 30 * time.Second
	DefaultStoreRetryInterval = 60 * time.Second
	DefaultPendingLimit       = 1000
	DefaultWindow             = 30 * 24 * time.Hour
	DefaultDeployEnvironment  = "insights-production"
)

// Sentinel policies decide what the worst-performer gauge shows when no pair
// in a cycle is worse than its target.
const (
	SentinelReset = "reset"
	SentinelKeep  = "keep"
	SentinelZero  = "zero"
)

// Config is the top-level agent configuration, parsed from config.yaml.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Backend     BackendConfig     `yaml:"backend"`
	Store       StoreConfig       `yaml:"store"`
	Deployments DeploymentsConfig `yaml:"deployments"`
	Incidents   IncidentsConfig   `yaml:"incidents"`
}

// AgentConfig holds the evaluation loop settings.
type AgentConfig struct {
	// Interval is the sleep between the end of one cycle and the start of the next.
	Interval time.Duration `yaml:"interval"`

	// SLOConfig is the path of the JSON file holding the SLO queries.
	SLOConfig string `yaml:"slo_config"`

	// MetricsPort serves /metrics and the status API.
	MetricsPort int `yaml:"metrics_port"`

	// Concurrency bounds how many backend queries run at once. 1 is sequential.
	Concurrency int `yaml:"concurrency"`

	// SentinelPolicy is one of: reset | keep | zero.
	SentinelPolicy string `yaml:"sentinel_policy"`

	// WatchConfig logs a warning when the config files change on disk.
	WatchConfig bool `yaml:"watch_config"`
}

// BackendConfig describes the Prometheus-compatible query API.
type BackendConfig struct {
	// Endpoint is the base URL; /api/v1/query is appended.
	Endpoint string `yaml:"endpoint"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`

	// QueryTimeout bounds a single query, including reading the body.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// MaxQPS limits outgoing queries per second. 0 disables the limit.
	MaxQPS float64 `yaml:"max_qps"`
}

// AuthConfig specifies how requests to the backend are authenticated.
type AuthConfig struct {
	// Mode is one of: cookie | bearer | basic | apikey | none.
	Mode string `yaml:"mode"`

	// TokenEnv holds the cookie value (cookie mode) or bearer token.
	TokenEnv string `yaml:"token_env"`

	// Header and KeyEnv are used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Token returns the cookie or bearer token resolved from the environment.
func (a AuthConfig) Token() string {
	return lookupEnv(a.TokenEnv)
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	return lookupEnv(a.KeyEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	return lookupEnv(a.PasswordEnv)
}

// TLSConfig holds backend TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// DatabaseConfig names the environment variables holding Postgres
// connection settings. DSNEnv, when set and non-empty in the environment,
// wins over the individual fields.
type DatabaseConfig struct {
	DSNEnv      string `yaml:"dsn_env"`
	UserEnv     string `yaml:"user_env"`
	PasswordEnv string `yaml:"password_env"`
	HostEnv     string `yaml:"host_env"`
	PortEnv     string `yaml:"port_env"`
	NameEnv     string `yaml:"database_env"`
}

// DSN builds a postgres:// connection URL from the environment.
func (d DatabaseConfig) DSN() string {
	if dsn := lookupEnv(d.DSNEnv); dsn != "" {
		return dsn
	}
	host := lookupEnv(d.HostEnv)
	if port := lookupEnv(d.PortEnv); port != "" {
		host += ":" + port
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + lookupEnv(d.NameEnv),
	}
	if user := lookupEnv(d.UserEnv); user != "" {
		if pw := lookupEnv(d.PasswordEnv); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// StoreConfig configures the observation store.
type StoreConfig struct {
	Database DatabaseConfig `yaml:",inline"`

	// RetryInterval is the fixed wait between startup connection attempts.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// PendingLimit caps the number of failed appends kept for the next flush.
	PendingLimit int `yaml:"pending_limit"`
}

// DeploymentsConfig configures the deployment outcome collector.
type DeploymentsConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Config      string         `yaml:"config"`
	Environment string         `yaml:"environment"`
	Window      time.Duration  `yaml:"window"`
	Database    DatabaseConfig `yaml:"database"`
}

// IncidentsConfig configures the PagerDuty time-to-resolution collector.
type IncidentsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKeyEnv string        `yaml:"api_key_env"`
	TeamIDs   []string      `yaml:"team_ids"`
	Window    time.Duration `yaml:"window"`
}

// APIKey returns the PagerDuty API key resolved from the environment.
func (i IncidentsConfig) APIKey() string {
	return lookupEnv(i.APIKeyEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values. The
// environment variable names match the ones the collector has always read.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval:       DefaultInterval,
			SLOConfig:      DefaultSLOConfigPath,
			MetricsPort:    DefaultMetricsPort,
			Concurrency:    DefaultConcurrency,
			SentinelPolicy: SentinelReset,
			WatchConfig:    true,
		},
		Backend: BackendConfig{
			Auth: AuthConfig{
				Mode:     "cookie",
				TokenEnv: "PROMETHEUS_AUTH_TOKEN",
			},
			QueryTimeout: DefaultQueryTimeout,
		},
		Store: StoreConfig{
			Database: DatabaseConfig{
				UserEnv:     "DATABASE_USER",
				PasswordEnv: "DATABASE_PASSWORD",
				HostEnv:     "POSTGRES_SQL_SERVICE_HOST",
				PortEnv:     "POSTGRES_SQL_SERVICE_PORT",
				NameEnv:     "DATABASE_NAME",
			},
			RetryInterval: DefaultStoreRetryInterval,
			PendingLimit:  DefaultPendingLimit,
		},
		Deployments: DeploymentsConfig{
			Config:      DefaultDeployConfigPath,
			Environment: DefaultDeployEnvironment,
			Window:      DefaultWindow,
			Database: DatabaseConfig{
				UserEnv:     "DEPLOYMENT_DB_USER",
				PasswordEnv: "DEPLOYMENT_DB_PASSWORD",
				HostEnv:     "DEPLOYMENT_DB_HOST",
				NameEnv:     "DEPLOYMENT_DB_NAME",
			},
		},
		Incidents: IncidentsConfig{
			APIKeyEnv: "PD_API_KEY",
			Window:    DefaultWindow,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Agent.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive")
	}
	if cfg.Agent.SLOConfig == "" {
		return fmt.Errorf("agent.slo_config is required")
	}
	if cfg.Agent.MetricsPort <= 0 || cfg.Agent.MetricsPort > 65535 {
		return fmt.Errorf("agent.metrics_port %d out of range", cfg.Agent.MetricsPort)
	}
	if cfg.Agent.Concurrency <= 0 {
		return fmt.Errorf("agent.concurrency must be positive")
	}
	switch cfg.Agent.SentinelPolicy {
	case SentinelReset, SentinelKeep, SentinelZero:
	default:
		return fmt.Errorf("agent.sentinel_policy: unknown policy %q", cfg.Agent.SentinelPolicy)
	}

	if cfg.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint is required")
	}
	u, err := url.Parse(cfg.Backend.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.endpoint %q must be an http(s) URL", cfg.Backend.Endpoint)
	}
	switch cfg.Backend.Auth.Mode {
	case "cookie", "bearer", "basic", "apikey", "none", "":
	default:
		return fmt.Errorf("backend.auth: unknown mode %q", cfg.Backend.Auth.Mode)
	}
	if cfg.Backend.Auth.Mode == "apikey" && cfg.Backend.Auth.Header == "" {
		return fmt.Errorf("backend.auth.header is required for apikey mode")
	}
	if cfg.Backend.QueryTimeout <= 0 {
		return fmt.Errorf("backend.query_timeout must be positive")
	}
	if cfg.Backend.MaxQPS < 0 {
		return fmt.Errorf("backend.max_qps must not be negative")
	}

	if cfg.Store.RetryInterval <= 0 {
		return fmt.Errorf("store.retry_interval must be positive")
	}
	if cfg.Store.PendingLimit < 0 {
		return fmt.Errorf("store.pending_limit must not be negative")
	}

	if cfg.Deployments.Enabled {
		if cfg.Deployments.Config == "" {
			return fmt.Errorf("deployments.config is required when enabled")
		}
		if cfg.Deployments.Window <= 0 {
			return fmt.Errorf("deployments.window must be positive")
		}
	}
	if cfg.Incidents.Enabled {
		if cfg.Incidents.APIKeyEnv == "" {
			return fmt.Errorf("incidents.api_key_env is required when enabled")
		}
		if cfg.Incidents.Window <= 0 {
			return fmt.Errorf("incidents.window must be positive")
		}
	}
	return nil
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
