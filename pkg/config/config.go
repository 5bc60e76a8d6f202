package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDataDir is the default directory for local state.
	DefaultDataDir = "./data"

	// DefaultDatabaseDriver is the default state store driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultUsersFile is the default path of the users catalog.
	DefaultUsersFile = "./config/users.json"

	// DefaultGroupsFile is the default path of the groups catalog.
	DefaultGroupsFile = "./config/groups.json"

	// DefaultEnvFile is the default credential env file.
	DefaultEnvFile = ".env"

	// DefaultPlatformTimeout bounds a single external API call.
	DefaultPlatformTimeout = 30 * time.Second

	// DefaultCredentialMode selects static bearer tokens.
	DefaultCredentialMode = CredentialModeStatic

	// DefaultBrowserLoginTimeout bounds one interactive browser login.
	DefaultBrowserLoginTimeout = 60 * time.Second

	// envPrefix is the prefix for environment variable overrides.
	envPrefix = "ONBOARDOOR"
)

// Credential provider modes.
const (
	CredentialModeStatic   = "static"
	CredentialModePassword = "password"
	CredentialModeBrowser  = "browser"
)

// Config is the root configuration for onboardoor.
type Config struct {
	Global       GlobalConfig               `yaml:"global" mapstructure:"global"`
	Database     DatabaseConfig             `yaml:"database" mapstructure:"database"`
	Catalog      CatalogConfig              `yaml:"catalog" mapstructure:"catalog"`
	Environments map[string]EndpointsConfig `yaml:"environments" mapstructure:"environments"`
	Platform     PlatformConfig             `yaml:"platform" mapstructure:"platform"`
	Credentials  CredentialsConfig          `yaml:"credentials" mapstructure:"credentials"`
	API          *APIConfig                 `yaml:"api,omitempty" mapstructure:"api"`
	Report       ReportConfig               `yaml:"report,omitempty" mapstructure:"report"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	DataDir  string `yaml:"data_dir" mapstructure:"data_dir"`
}

// DatabaseConfig contains state store connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// CatalogConfig points at the users and groups definition files.
type CatalogConfig struct {
	UsersFile   string `yaml:"users_file" mapstructure:"users_file"`
	GroupsFile  string `yaml:"groups_file" mapstructure:"groups_file"`
	EmailDomain string `yaml:"email_domain" mapstructure:"email_domain"`
}

// EndpointsConfig holds the external API base URLs for one environment.
type EndpointsConfig struct {
	DetectionsURL   string `yaml:"detections_url" mapstructure:"detections_url"`
	IntegrationsURL string `yaml:"integrations_url" mapstructure:"integrations_url"`
	AppURL          string `yaml:"app_url" mapstructure:"app_url"`
}

// PlatformConfig tunes the outbound API client.
type PlatformConfig struct {
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// CredentialsConfig selects how per-user bearer tokens are obtained.
type CredentialsConfig struct {
	Mode     string              `yaml:"mode" mapstructure:"mode"`
	EnvFile  string              `yaml:"env_file" mapstructure:"env_file"`
	Password PasswordGrantConfig `yaml:"password,omitempty" mapstructure:"password"`
	Browser  BrowserConfig       `yaml:"browser,omitempty" mapstructure:"browser"`
}

// PasswordGrantConfig configures the OAuth2 resource-owner password exchange.
type PasswordGrantConfig struct {
	TokenURL     string   `yaml:"token_url" mapstructure:"token_url"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	Scopes       []string `yaml:"scopes,omitempty" mapstructure:"scopes"`
}

// BrowserConfig configures the headless browser login.
type BrowserConfig struct {
	Headless     bool          `yaml:"headless" mapstructure:"headless"`
	BinPath      string        `yaml:"bin_path,omitempty" mapstructure:"bin_path"`
	LoginTimeout time.Duration `yaml:"login_timeout" mapstructure:"login_timeout"`
}

// Load reads one or more YAML configuration files, merges them in order and
// applies ONBOARDOOR_* environment variable overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every scalar key so env overrides apply even when
// the key is absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.data_dir", DefaultDataDir)
	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.sqlite.path", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("catalog.users_file", DefaultUsersFile)
	v.SetDefault("catalog.groups_file", DefaultGroupsFile)
	v.SetDefault("catalog.email_domain", "")
	v.SetDefault("platform.timeout", DefaultPlatformTimeout)
	v.SetDefault("platform.requests_per_second", 0)
	v.SetDefault("credentials.mode", DefaultCredentialMode)
	v.SetDefault("credentials.env_file", DefaultEnvFile)
	v.SetDefault("credentials.password.token_url", "")
	v.SetDefault("credentials.password.client_id", "")
	v.SetDefault("credentials.password.client_secret", "")
	v.SetDefault("credentials.browser.headless", true)
	v.SetDefault("credentials.browser.bin_path", "")
	v.SetDefault("credentials.browser.login_timeout", DefaultBrowserLoginTimeout)

	for _, env := range Environments() {
		prefix := "environments." + string(env) + "."
		v.SetDefault(prefix+"detections_url", "")
		v.SetDefault(prefix+"integrations_url", "")
		v.SetDefault(prefix+"app_url", "")
	}
}

// applyDefaults fills values viper leaves empty when a section is present
// but partially specified.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.DataDir == "" {
		c.Global.DataDir = DefaultDataDir
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = filepath.Join(c.Global.DataDir, "state.db")
	}

	if c.Platform.Timeout <= 0 {
		c.Platform.Timeout = DefaultPlatformTimeout
	}

	if c.Credentials.Mode == "" {
		c.Credentials.Mode = DefaultCredentialMode
	}

	if c.Credentials.Browser.LoginTimeout <= 0 {
		c.Credentials.Browser.LoginTimeout = DefaultBrowserLoginTimeout
	}

	if c.Credentials.EnvFile == "" {
		c.Credentials.EnvFile = DefaultEnvFile
	}

	if c.Environments == nil {
		c.Environments = make(map[string]EndpointsConfig, 3)
	}

	if c.API != nil {
		c.API.applyDefaults(c.Credentials.EnvFile)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return errors.New("database.postgres host and database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Credentials.Mode {
	case CredentialModeStatic, CredentialModeBrowser:
	case CredentialModePassword:
		if c.Credentials.Password.TokenURL == "" || c.Credentials.Password.ClientID == "" {
			return errors.New("credentials.password token_url and client_id are required for password mode")
		}
	default:
		return fmt.Errorf("unknown credentials mode %q", c.Credentials.Mode)
	}

	for name := range c.Environments {
		if _, err := ParseEnvironment(name); err != nil {
			return fmt.Errorf("environments: %w", err)
		}
	}

	return nil
}

// ValidateEnvironment checks that everything a workflow needs for env is set.
func (c *Config) ValidateEnvironment(env Environment) error {
	if !env.Valid() {
		return fmt.Errorf("invalid environment %q", env)
	}

	endpoints, ok := c.Environments[string(env)]
	if !ok {
		return fmt.Errorf("no endpoints configured for environment %q", env)
	}

	if endpoints.DetectionsURL == "" {
		return fmt.Errorf("environments.%s.detections_url is required", env)
	}

	if endpoints.IntegrationsURL == "" {
		return fmt.Errorf("environments.%s.integrations_url is required", env)
	}

	if c.Credentials.Mode == CredentialModeBrowser && endpoints.AppURL == "" {
		return fmt.Errorf("environments.%s.app_url is required for browser credentials", env)
	}

	if c.Catalog.UsersFile == "" {
		return errors.New("catalog.users_file is required")
	}

	return nil
}

// Endpoints returns the API base URLs for env.
func (c *Config) Endpoints(env Environment) EndpointsConfig {
	return c.Environments[string(env)]
}
