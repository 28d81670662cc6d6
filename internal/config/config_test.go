// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML/TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "config-test-secret-that-is-32-bytes!"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  trusted_proxies:
    - "10.0.0.0/8"
    - "192.168.1.1"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  session_duration: "12h"
  refresh_margin: "10m"
  secure_cookies: false

lockout:
  backend: "sqlite"
  max_attempts: 3
  window: "30m"

ratelimit:
  requests_per_second: 2
  burst: 4

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/internal/metrics"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	require.Len(t, cfg.Server.TrustedPrefixes, 2)
	assert.Equal(t, "10.0.0.0/8", cfg.Server.TrustedPrefixes[0].String())
	assert.Equal(t, "192.168.1.1/32", cfg.Server.TrustedPrefixes[1].String())
	assert.Equal(t, "./test.db", cfg.Database.Path)

	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionDuration)
	assert.Equal(t, 10*time.Minute, cfg.Auth.RefreshMargin)
	assert.False(t, cfg.Auth.Secure())

	assert.Equal(t, LockoutBackendSQLite, cfg.Lockout.Backend)
	assert.Equal(t, 3, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Lockout.Window)

	assert.Equal(t, 2.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 4, cfg.RateLimit.Burst)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionDuration)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshMargin)
	assert.True(t, cfg.Auth.Secure(), "cookies are secure unless explicitly disabled")
	assert.Equal(t, "/admin/login", cfg.Auth.LoginPath)
	assert.Equal(t, "/admin/dashboard", cfg.Auth.LandingPath)
	assert.Equal(t, LockoutBackendMemory, cfg.Lockout.Backend)
	assert.Equal(t, 5, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Window)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_FOLIO_SECRET", testSecret)
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6379")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_FOLIO_SECRET}"
lockout:
  backend: "redis"
  redis_addr: "${TEST_REDIS_ADDR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "redis.internal:6379", cfg.Lockout.RedisAddr)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = "./toml.db"

[auth]
jwt_secret = "`+testSecret+`"
session_duration = "2h"

[lockout]
max_attempts = 7
window = "1m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "./toml.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionDuration)
	assert.Equal(t, 7, cfg.Lockout.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Lockout.Window)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http addr",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "` + testSecret + `"
`,
			wantErr: "server.http_addr is required",
		},
		{
			name: "tailscale without hostname",
			content: `
tailscale:
  enabled: true
database:
  path: "./test.db"
auth:
  jwt_secret: "` + testSecret + `"
`,
			wantErr: "tailscale.hostname is required",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "` + testSecret + `"
`,
			wantErr: "database.path is required",
		},
		{
			name: "short secret",
			content: `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "too-short"
`,
			wantErr: "jwt_secret must be at least 32 bytes",
		},
		{
			name: "bad duration",
			content: `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "` + testSecret + `"
  session_duration: "forever"
`,
			wantErr: "parsing auth.session_duration",
		},
		{
			name: "margin longer than session",
			content: `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "` + testSecret + `"
  session_duration: "5m"
  refresh_margin: "10m"
`,
			wantErr: "refresh_margin",
		},
		{
			name: "unknown lockout backend",
			content: `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "` + testSecret + `"
lockout:
  backend: "memcached"
`,
			wantErr: "lockout.backend",
		},
		{
			name: "redis without address",
			content: `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "` + testSecret + `"
lockout:
  backend: "redis"
`,
			wantErr: "lockout.redis_addr is required",
		},
		{
			name: "bad trusted proxy",
			content: `
server:
  http_addr: ":8080"
  trusted_proxies: ["not-an-ip"]
database:
  path: "./test.db"
auth:
  jwt_secret: "` + testSecret + `"
`,
			wantErr: "trusted_proxies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should contain %q", err, tt.wantErr)
		})
	}
}

func TestExpandEnvVars_Unset(t *testing.T) {
	assert.Equal(t, "secret=", expandEnvVars("secret=${FOLIO_TEST_DEFINITELY_UNSET}"))
}
