package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
  data_dir: /var/lib/onboardoor
database:
  driver: sqlite
  sqlite:
    path: /tmp/original.db
catalog:
  users_file: ./config/users.json
  groups_file: ./config/groups.json
environments:
  dev:
    detections_url: https://detections.dev.example.com
    integrations_url: https://integrations.dev.example.com
platform:
  timeout: 15s
credentials:
  mode: static
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "/tmp/original.db", cfg.Database.SQLite.Path)
				assert.Equal(t, 15*time.Second, cfg.Platform.Timeout)
				assert.Equal(t, "https://detections.dev.example.com",
					cfg.Environments["dev"].DetectionsURL)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"ONBOARDOOR_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested field override - database.sqlite.path",
			envVars: map[string]string{
				"ONBOARDOOR_DATABASE_SQLITE_PATH": "/tmp/override.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/override.db", cfg.Database.SQLite.Path)
			},
		},
		{
			name: "duration override - platform.timeout",
			envVars: map[string]string{
				"ONBOARDOOR_PLATFORM_TIMEOUT": "2m",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2*time.Minute, cfg.Platform.Timeout)
			},
		},
		{
			name: "endpoint override for an environment absent from yaml",
			envVars: map[string]string{
				"ONBOARDOOR_ENVIRONMENTS_QA_DETECTIONS_URL": "https://detections.qa.example.com",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://detections.qa.example.com",
					cfg.Environments["qa"].DetectionsURL)
			},
		},
		{
			name: "boolean override - browser headless",
			envVars: map[string]string{
				"ONBOARDOOR_CREDENTIALS_BROWSER_HEADLESS": "false",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Credentials.Browser.Headless)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	configPath := writeConfig(t, `
global:
  data_dir: /srv/onboardoor
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultDatabaseDriver, cfg.Database.Driver)
	assert.Equal(t, filepath.Join("/srv/onboardoor", "state.db"), cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultUsersFile, cfg.Catalog.UsersFile)
	assert.Equal(t, DefaultGroupsFile, cfg.Catalog.GroupsFile)
	assert.Equal(t, DefaultPlatformTimeout, cfg.Platform.Timeout)
	assert.Equal(t, CredentialModeStatic, cfg.Credentials.Mode)
	assert.True(t, cfg.Credentials.Browser.Headless)
	assert.Nil(t, cfg.API)
}

func TestLoad_MergesFilesInOrder(t *testing.T) {
	base := writeConfig(t, `
global:
  log_level: info
environments:
  dev:
    detections_url: https://base.example.com
`)
	override := writeConfig(t, `
global:
  log_level: warn
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Global.LogLevel)
	assert.Equal(t, "https://base.example.com", cfg.Environments["dev"].DetectionsURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_APIDefaults(t *testing.T) {
	configPath := writeConfig(t, `
api:
  auth:
    basic:
      enabled: true
      users:
        - username: ops
          password_hash: "$2a$10$abcdefghijklmnopqrstuv"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg.API)

	assert.Equal(t, DefaultAPIListen, cfg.API.Server.Listen)
	assert.Equal(t, DefaultEnvFile, cfg.API.TokenFile)
	assert.Equal(t, 120, cfg.API.Server.RateLimit.Read.RequestsPerMinute)
	require.NoError(t, cfg.ValidateAPI())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name: "unknown driver",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "mysql"
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
			},
			wantErr: "host and database are required",
		},
		{
			name: "unknown credential mode",
			mutate: func(cfg *Config) {
				cfg.Credentials.Mode = "magic"
			},
			wantErr: "unknown credentials mode",
		},
		{
			name: "password mode without token url",
			mutate: func(cfg *Config) {
				cfg.Credentials.Mode = CredentialModePassword
			},
			wantErr: "token_url and client_id are required",
		},
		{
			name: "unknown environment key",
			mutate: func(cfg *Config) {
				cfg.Environments["staging"] = EndpointsConfig{}
			},
			wantErr: "unknown environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateEnvironment(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Error(t, cfg.ValidateEnvironment("staging"))

	err = cfg.ValidateEnvironment(EnvDev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detections_url is required")

	cfg.Environments["dev"] = EndpointsConfig{
		DetectionsURL:   "https://d.example.com",
		IntegrationsURL: "https://i.example.com",
	}
	require.NoError(t, cfg.ValidateEnvironment(EnvDev))

	cfg.Credentials.Mode = CredentialModeBrowser
	err = cfg.ValidateEnvironment(EnvDev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app_url is required")
}

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in      string
		want    Environment
		wantErr bool
	}{
		{in: "dev", want: EnvDev},
		{in: "QA", want: EnvQA},
		{in: " prod ", want: EnvProd},
		{in: "staging", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEnvironment(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
