package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPollIntervalMinutes = 15
	MinPollIntervalMinutes     = 5
	MaxPollIntervalMinutes     = 120
	DefaultRegion              = "eu"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" yaml:"log_format" env:"LOG_FORMAT" validate:"oneof=text json"`

	Server struct {
		ListenAddr string `json:"listen_addr" yaml:"listen_addr" env:"SERVER_LISTEN_ADDR"`
		APIKey     string `json:"api_key" yaml:"api_key" env:"SERVER_API_KEY"`
	} `json:"server" yaml:"server"`

	Metrics struct {
		ListenAddr string `json:"listen_addr" yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"`
	} `json:"metrics" yaml:"metrics"`

	// Storage enables a durable token request ledger when Path is set.
	Storage struct {
		Path        string   `json:"path" yaml:"path" env:"STORAGE_PATH"`
		BusyTimeout Duration `json:"busy_timeout" yaml:"busy_timeout" env:"STORAGE_BUSY_TIMEOUT" validate:"min=100ms"`
	} `json:"storage" yaml:"storage"`

	Auth    AuthConfig    `json:"auth" yaml:"auth" envPrefix:"AUTH_"`
	API     APIConfig     `json:"api" yaml:"api" envPrefix:"API_"`
	Polling PollingConfig `json:"polling" yaml:"polling" envPrefix:"POLLING_"`

	Credentials []Credential `json:"credentials" yaml:"credentials" env:"-" validate:"required,min=1,dive"`
	Tenants     []Tenant     `json:"tenants" yaml:"tenants" env:"-" validate:"required,min=1,dive"`
}

// AuthConfig configures the device code flow and the token cache.
type AuthConfig struct {
	DeviceCodeURL   string   `json:"device_code_url" yaml:"device_code_url" env:"DEVICE_CODE_URL" validate:"required,url"`
	TokenURL        string   `json:"token_url" yaml:"token_url" env:"TOKEN_URL" validate:"required,url"`
	Audience        string   `json:"audience" yaml:"audience" env:"AUDIENCE" validate:"required"`
	Scopes          []string `json:"scopes" yaml:"scopes" env:"SCOPES" envSeparator:" " validate:"required,min=1"`
	SafetyMargin    Duration `json:"safety_margin" yaml:"safety_margin" env:"SAFETY_MARGIN" validate:"min=0s"`
	Quota           int      `json:"quota" yaml:"quota" env:"QUOTA" validate:"min=1"`
	QuotaWindow     Duration `json:"quota_window" yaml:"quota_window" env:"QUOTA_WINDOW" validate:"min=1m"`
	MaxPollFailures int      `json:"max_poll_failures" yaml:"max_poll_failures" env:"MAX_POLL_FAILURES" validate:"min=1"`
	RequestTimeout  Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT" validate:"min=1s"`
}

// APIConfig configures the Trados Cloud public API client.
type APIConfig struct {
	// BaseURL may contain {region}, replaced with the credential set's region.
	BaseURL           string   `json:"base_url" yaml:"base_url" env:"BASE_URL" validate:"required"`
	GlobalBaseURL     string   `json:"global_base_url" yaml:"global_base_url" env:"GLOBAL_BASE_URL" validate:"required,url"`
	PortalURL         string   `json:"portal_url" yaml:"portal_url" env:"PORTAL_URL"`
	PageSize          int      `json:"page_size" yaml:"page_size" env:"PAGE_SIZE" validate:"min=1,max=100"`
	Timeout           Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT" validate:"min=1s"`
	MaxRetries        int      `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES" validate:"min=0,max=5"`
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second" env:"REQUESTS_PER_SECOND" validate:"gt=0"`
	Burst             int      `json:"burst" yaml:"burst" env:"BURST" validate:"min=1"`
	EnrichWorkers     int      `json:"enrich_workers" yaml:"enrich_workers" env:"ENRICH_WORKERS" validate:"min=1,max=32"`
}

// PollingConfig controls retry and degradation behaviour.
type PollingConfig struct {
	FailureThreshold     int      `json:"failure_threshold" yaml:"failure_threshold" env:"FAILURE_THRESHOLD" validate:"min=1"`
	RetryBase            Duration `json:"retry_base" yaml:"retry_base" env:"RETRY_BASE" validate:"min=1s"`
	MaxBackoffMultiplier int      `json:"max_backoff_multiplier" yaml:"max_backoff_multiplier" env:"MAX_BACKOFF_MULTIPLIER" validate:"min=1"`
	Jitter               float64  `json:"jitter" yaml:"jitter" env:"JITTER" validate:"min=0,max=0.5"`
}

// Credential is a named OAuth2 application registration. Its fields can be
// overridden with TRADOS_<NAME>_CLIENT_ID, TRADOS_<NAME>_CLIENT_SECRET and
// TRADOS_<NAME>_REGION.
type Credential struct {
	Name         string `json:"name" yaml:"name" validate:"required"`
	ClientID     string `json:"client_id" yaml:"client_id" env:"CLIENT_ID" validate:"required"`
	ClientSecret string `json:"client_secret" yaml:"client_secret" env:"CLIENT_SECRET" validate:"required"`
	Region       string `json:"region" yaml:"region" env:"REGION" validate:"required,lowercase,alphanum"`
}

// Tenant is one account polled independently.
type Tenant struct {
	TenantID            string `json:"tenant_id" yaml:"tenant_id" validate:"required"`
	Name                string `json:"name" yaml:"name"`
	Credentials         string `json:"credentials" yaml:"credentials" validate:"required"`
	PollIntervalMinutes int    `json:"poll_interval_minutes" yaml:"poll_interval_minutes" validate:"min=5,max=120"`
}

// PollInterval returns the tenant's interval as a duration
func (t Tenant) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMinutes) * time.Minute
}

// Duration is a wrapper around time.Duration that accepts "15m" or nanoseconds
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

// UnmarshalText lets environment variables carry durations
func (d *Duration) UnmarshalText(b []byte) error {
	return d.set(string(b))
}

func (d *Duration) set(v interface{}) error {
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case int:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// Default returns a configuration with every tunable set.
func Default() *Config {
	cfg := &Config{
		LogLevel:  "info",
		LogFormat: "text",
	}
	cfg.Server.ListenAddr = ":8080"
	cfg.Metrics.ListenAddr = ":9090"
	cfg.Storage.BusyTimeout = Duration{5 * time.Second}

	cfg.Auth = AuthConfig{
		DeviceCodeURL:   "https://sdl-prod.eu.auth0.com/oauth/device/code",
		TokenURL:        "https://sdl-prod.eu.auth0.com/oauth/token",
		Audience:        "https://api.sdl.com",
		Scopes:          []string{"openid", "profile", "email", "offline_access"},
		SafetyMargin:    Duration{5 * time.Minute},
		Quota:           16,
		QuotaWindow:     Duration{24 * time.Hour},
		MaxPollFailures: 3,
		RequestTimeout:  Duration{30 * time.Second},
	}
	cfg.API = APIConfig{
		BaseURL:           "https://api.{region}.cloud.trados.com/public-api/v1",
		GlobalBaseURL:     "https://api.cloud.trados.com/public-api/v1",
		PortalURL:         "https://{region}.cloud.trados.com/lc/t/{tenant}/dashboard",
		PageSize:          100,
		Timeout:           Duration{60 * time.Second},
		MaxRetries:        2,
		RequestsPerSecond: 5,
		Burst:             5,
		EnrichWorkers:     4,
	}
	cfg.Polling = PollingConfig{
		FailureThreshold:     3,
		RetryBase:            Duration{30 * time.Second},
		MaxBackoffMultiplier: 4,
		Jitter:               0.1,
	}
	return cfg
}

// Load reads configuration from a JSON or YAML file and overrides it with
// environment variables, after loading a .env file if one is present.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadCredentialsOnly is Load for a configuration that may not list any
// tenants yet. Credentials and endpoints are still validated.
func LoadCredentialsOnly(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if len(cfg.Tenants) > 0 {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}

	if len(cfg.Credentials) == 0 {
		return nil, fmt.Errorf("validating config: no credentials configured")
	}
	validate := newValidator()
	for _, part := range []interface{}{cfg.Auth, cfg.API} {
		if err := validate.Struct(part); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
	}
	if _, err := cfg.credentialNames(validate); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.decode(path, data); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	default:
		return json.Unmarshal(data, c)
	}
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return err
	}
	for i := range c.Credentials {
		opts := env.Options{Prefix: CredentialEnvPrefix(c.Credentials[i].Name)}
		if err := env.ParseWithOptions(&c.Credentials[i], opts); err != nil {
			return fmt.Errorf("credential %q: %w", c.Credentials[i].Name, err)
		}
	}
	return nil
}

// CredentialEnvPrefix returns the environment prefix for a named credential.
func CredentialEnvPrefix(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return "TRADOS_" + upper + "_"
}

func (c *Config) applyDefaults() {
	for i := range c.Credentials {
		if c.Credentials[i].Region == "" {
			c.Credentials[i].Region = DefaultRegion
		}
	}
	for i := range c.Tenants {
		if c.Tenants[i].Name == "" {
			c.Tenants[i].Name = c.Tenants[i].TenantID
		}
		if c.Tenants[i].PollIntervalMinutes == 0 {
			c.Tenants[i].PollIntervalMinutes = DefaultPollIntervalMinutes
		}
	}
}

func newValidator() *validator.Validate {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})
	return validate
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := newValidator()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Additional custom validations
	names, err := c.credentialNames(validate)
	if err != nil {
		return err
	}

	tenants := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if tenants[t.TenantID] {
			return fmt.Errorf("duplicate tenant %q", t.TenantID)
		}
		tenants[t.TenantID] = true
		if !names[t.Credentials] {
			return fmt.Errorf("tenant %q references unknown credentials %q", t.TenantID, t.Credentials)
		}
	}

	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api base URL must be http or https: %s", c.API.BaseURL)
	}

	return nil
}

// credentialNames validates every credential and rejects duplicate names.
func (c *Config) credentialNames(validate *validator.Validate) (map[string]bool, error) {
	names := make(map[string]bool, len(c.Credentials))
	for _, cred := range c.Credentials {
		if err := validate.Struct(cred); err != nil {
			return nil, fmt.Errorf("credential %q: %w", cred.Name, err)
		}
		if names[cred.Name] {
			return nil, fmt.Errorf("duplicate credential name %q", cred.Name)
		}
		names[cred.Name] = true
	}
	return names, nil
}

// Credential returns the credential with the given name
func (c *Config) Credential(name string) (Credential, bool) {
	for _, cred := range c.Credentials {
		if cred.Name == name {
			return cred, true
		}
	}
	return Credential{}, false
}
