// Package config loads the logdrain TOML configuration with LOGDRAIN_
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/loykin/logdrain/internal/cron"
	"github.com/loykin/logdrain/internal/logger"
	"github.com/loykin/logdrain/internal/logtypes"
	"github.com/loykin/logdrain/internal/store"
)

// EnvPrefix prefixes environment overrides, e.g. LOGDRAIN_SOURCE_CLIENT_SECRET.
const EnvPrefix = "LOGDRAIN"

// Config is the top-level TOML structure.
type Config struct {
	EnvFiles  []string        `mapstructure:"env_files"`
	Source    SourceConfig    `mapstructure:"source"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sinks     []SinkConfig    `mapstructure:"sinks"`
	Report    ReportConfig    `mapstructure:"report"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       logger.Config   `mapstructure:"log"`
}

// SourceConfig addresses the Management API.
type SourceConfig struct {
	Domain            string        `mapstructure:"domain"`
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Jitter            time.Duration `mapstructure:"jitter"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type ProcessorConfig struct {
	StartFrom           string        `mapstructure:"start_from"`
	LogTypes            []string      `mapstructure:"log_types"`
	LogLevel            string        `mapstructure:"log_level"`
	ServerSideFiltering bool          `mapstructure:"server_side_filtering"`
	BatchSize           int           `mapstructure:"batch_size"`
	MaxBatchSize        int           `mapstructure:"max_batch_size"`
	MaxRetries          int           `mapstructure:"max_retries"`
	MaxRunTime          time.Duration `mapstructure:"max_run_time"`
	FetchRetryBackoff   time.Duration `mapstructure:"fetch_retry_backoff"`
}

// StorageConfig selects the checkpoint document backend.
type StorageConfig struct {
	DSN               string `mapstructure:"dsn"`
	Key               string `mapstructure:"key"`
	HistoryLimitBytes int    `mapstructure:"history_limit_bytes"`
}

// SinkConfig is one destination for processed batches.
type SinkConfig struct {
	Name string `mapstructure:"name"`
	DSN  string `mapstructure:"dsn"`
}

type ReportConfig struct {
	SlackWebhook string `mapstructure:"slack_webhook"`
	Username     string `mapstructure:"username"`
	Icon         string `mapstructure:"icon"`
	Title        string `mapstructure:"title"`
	URL          string `mapstructure:"url"`
	SendSuccess  bool   `mapstructure:"send_success"`
	Daily        bool   `mapstructure:"daily"`
	DailyHour    int    `mapstructure:"daily_hour"`
	TimeZone     string `mapstructure:"time_zone"`
}

type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"`
	TimeZone   string `mapstructure:"time_zone"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

type ServerConfig struct {
	Enabled       bool       `mapstructure:"enabled"`
	Listen        string     `mapstructure:"listen"`
	BasePath      string     `mapstructure:"base_path"`
	Auth          AuthConfig `mapstructure:"auth"`
	TLS           *TLSConfig `mapstructure:"tls"`
	TLSMinVersion string     `mapstructure:"tls_min_version"`
	TLSMaxVersion string     `mapstructure:"tls_max_version"`
}

// AuthConfig protects the HTTP API with a bearer token. TokenHash is a
// bcrypt hash and takes precedence over Token.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	TokenHash string `mapstructure:"token_hash"`
}

type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`
	AutoGenerate bool        `mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env_files", []string{})

	v.SetDefault("source.domain", "")
	v.SetDefault("source.client_id", "")
	v.SetDefault("source.client_secret", "")
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.jitter", 250*time.Millisecond)
	v.SetDefault("source.requests_per_second", 10.0)
	v.SetDefault("source.burst", 5)

	v.SetDefault("processor.start_from", "")
	v.SetDefault("processor.log_types", []string{})
	v.SetDefault("processor.log_level", "")
	v.SetDefault("processor.server_side_filtering", true)
	v.SetDefault("processor.batch_size", 100)
	v.SetDefault("processor.max_batch_size", 100)
	v.SetDefault("processor.max_retries", 5)
	v.SetDefault("processor.max_run_time", 20*time.Second)
	v.SetDefault("processor.fetch_retry_backoff", 500*time.Millisecond)

	v.SetDefault("storage.dsn", "logdrain.db")
	v.SetDefault("storage.key", store.DefaultKey)
	v.SetDefault("storage.history_limit_bytes", 400*1024)

	v.SetDefault("report.slack_webhook", "")
	v.SetDefault("report.username", "auth0-logger")
	v.SetDefault("report.icon", ":rocket:")
	v.SetDefault("report.title", "Auth0 Logger")
	v.SetDefault("report.url", "")
	v.SetDefault("report.send_success", false)
	v.SetDefault("report.daily", true)
	v.SetDefault("report.daily_hour", 16)
	v.SetDefault("report.time_zone", "")

	v.SetDefault("schedule.cron", "@every 5m")
	v.SetDefault("schedule.time_zone", "")
	v.SetDefault("schedule.run_on_start", true)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.token", "")
	v.SetDefault("server.auth.token_hash", "")
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 0)
	v.SetDefault("log.file.max_backups", 0)
	v.SetDefault("log.file.max_age_days", 0)
	v.SetDefault("log.file.compress", false)
}

// Default returns the configuration with only defaults and environment
// overrides applied.
func Default() (*Config, error) { return Load("") }

// Load reads path (TOML) when non-empty, applies env files and LOGDRAIN_
// environment overrides, then normalises and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	files := v.GetStringSlice("env_files")
	for _, f := range files {
		if path != "" && !filepath.IsAbs(f) {
			f = filepath.Join(filepath.Dir(path), f)
		}
		pairs, err := loadEnvFile(f)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		applyEnvPairs(v, pairs)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyEnvPairs sets keys named by LOGDRAIN_ entries from an env file unless
// the process environment already overrides them.
func applyEnvPairs(v *viper.Viper, pairs map[string]string) {
	for _, key := range v.AllKeys() {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		val, ok := pairs[name]
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(name); set {
			continue
		}
		v.Set(key, val)
	}
}

func (c *Config) normalize() {
	c.Processor.LogTypes = logtypes.ParseList(strings.Join(c.Processor.LogTypes, ","))
	c.Server.BasePath = "/" + strings.Trim(c.Server.BasePath, "/")
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Name == "" {
			c.Sinks[i].Name = fmt.Sprintf("sink-%d", i+1)
		}
	}
}

// Level is the parsed processor.log_level, zero when unset.
func (c *Config) Level() logtypes.Level {
	l, _ := logtypes.ParseLevel(c.Processor.LogLevel)
	return l
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Processor.BatchSize < 0 {
		add("processor.batch_size must not be negative")
	}
	if c.Processor.MaxBatchSize < 0 {
		add("processor.max_batch_size must not be negative")
	}
	if c.Processor.MaxRunTime < 0 {
		add("processor.max_run_time must not be negative")
	}
	if c.Processor.LogLevel != "" {
		if _, err := logtypes.ParseLevel(c.Processor.LogLevel); err != nil {
			add("processor.log_level: %v", err)
		}
	}
	if c.Source.RequestsPerSecond < 0 {
		add("source.requests_per_second must not be negative")
	}
	if c.Storage.DSN == "" {
		add("storage.dsn is required")
	}
	if c.Storage.Key != "" && !store.ValidKey(c.Storage.Key) {
		add("storage.key %q is invalid", c.Storage.Key)
	}
	seen := map[string]bool{}
	for _, s := range c.Sinks {
		if s.DSN == "" {
			add("sink %s requires a dsn", s.Name)
		}
		if seen[s.Name] {
			add("duplicate sink name %s", s.Name)
		}
		seen[s.Name] = true
	}
	if c.Report.DailyHour < 0 || c.Report.DailyHour > 23 {
		add("report.daily_hour must be between 0 and 23")
	}
	if c.Schedule.Cron != "" {
		if err := cron.Validate(c.Schedule.Cron); err != nil {
			add("schedule.cron: %v", err)
		}
	}
	if c.Server.Auth.Enabled && c.Server.Auth.Token == "" && c.Server.Auth.TokenHash == "" {
		add("server.auth requires token or token_hash")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	return result.ErrorOrNil()
}

// ValidateSource checks the settings a run needs to reach the API.
func (c *Config) ValidateSource() error {
	var missing []string
	if c.Source.Domain == "" && c.Source.BaseURL == "" {
		missing = append(missing, "source.domain")
	}
	if c.Source.ClientID == "" {
		missing = append(missing, "source.client_id")
	}
	if c.Source.ClientSecret == "" {
		missing = append(missing, "source.client_secret")
	}
	if len(missing) > 0 {
		return errors.New("missing required settings: " + strings.Join(missing, ", "))
	}
	return nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
