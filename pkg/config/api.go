package config

import "errors"

// DefaultAPIListen is the default listen address of the API server.
const DefaultAPIListen = ":4501"

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server    APIServerConfig `yaml:"server" mapstructure:"server"`
	Auth      APIAuthConfig   `yaml:"auth" mapstructure:"auth"`
	TokenFile string          `yaml:"token_file,omitempty" mapstructure:"token_file"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Read      RateLimitTier `yaml:"read,omitempty" mapstructure:"read"`
	Workflows RateLimitTier `yaml:"workflows,omitempty" mapstructure:"workflows"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	Basic BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication. Passwords
// are stored as bcrypt hashes (see the hash-password command).
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// ReportConfig contains status snapshot export settings.
type ReportConfig struct {
	Dir string    `yaml:"dir,omitempty" mapstructure:"dir"`
	S3  *S3Config `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3Config contains settings for uploading snapshots to S3-compatible storage.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
}

// applyDefaults fills API defaults. Tokens are written to the credentials
// env file unless a separate token file is configured.
func (c *APIConfig) applyDefaults(envFile string) {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultAPIListen
	}

	if c.TokenFile == "" {
		c.TokenFile = envFile
	}

	if c.Server.RateLimit.Read.RequestsPerMinute <= 0 {
		c.Server.RateLimit.Read.RequestsPerMinute = 120
	}

	if c.Server.RateLimit.Workflows.RequestsPerMinute <= 0 {
		c.Server.RateLimit.Workflows.RequestsPerMinute = 10
	}
}

// ValidateAPI checks the API section.
func (c *Config) ValidateAPI() error {
	if c.API == nil {
		return errors.New("api section is required in config")
	}

	if c.API.Auth.Basic.Enabled && len(c.API.Auth.Basic.Users) == 0 {
		return errors.New("api.auth.basic is enabled but no users are configured")
	}

	for _, u := range c.API.Auth.Basic.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return errors.New("api.auth.basic users need a username and password_hash")
		}
	}

	return nil
}
