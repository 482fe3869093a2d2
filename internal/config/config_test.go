package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/helix-client/pkg/client"
	"github.com/Sternrassler/helix-client/pkg/credentials"
	"github.com/Sternrassler/helix-client/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HELIX_CLIENT_ID", "HELIX_CLIENT_SECRET", "HELIX_TOKEN", "HELIX_SCOPES",
		"HELIX_USER_AGENT", "HELIX_MAX_RETRIES", "REDIS_URL", "LOG_LEVEL", "PORT",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helix.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, client.DefaultBaseURL, cfg.BaseURL)
	assert.Zero(t, cfg.RetryBackoff, "retries are immediate unless a backoff is configured")
	assert.Equal(t, "8080", cfg.Proxy.Port)
	assert.Zero(t, cfg.MaxRetries)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, `
client_id = "abc"
client_secret = "shh"
scopes = ["user:read:email"]
max_retries = 3
retry_backoff = "250ms"
timeout = "10s"
log_level = "debug"

[proxy]
port = "9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, "shh", cfg.ClientSecret)
	assert.Equal(t, []string{"user:read:email"}, cfg.Scopes)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "9000", cfg.Proxy.Port)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
}

func TestLoad_UnknownKey(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeFile(t, `clientid = "typo"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientid")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HELIX_CLIENT_ID", "from-env")
	t.Setenv("HELIX_TOKEN", "tok")
	t.Setenv("HELIX_SCOPES", "user:read:email, channel:read:subscriptions")
	t.Setenv("HELIX_MAX_RETRIES", "5")
	t.Setenv("PORT", "7000")

	cfg, err := Load(writeFile(t, `client_id = "from-file"`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, []string{"user:read:email", "channel:read:subscriptions"}, cfg.Scopes)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "7000", cfg.Proxy.Port)
}

func TestLoad_InvalidMaxRetries(t *testing.T) {
	clearEnv(t)
	t.Setenv("HELIX_MAX_RETRIES", "many")

	_, err := Load("")
	assert.Error(t, err)
}

func TestCredentials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    credentials.Credentials
		wantErr error
	}{
		{
			name: "secret only",
			cfg:  Config{ClientSecret: "s", Scopes: []string{"a"}},
			want: credentials.FromClientSecret("s", "a"),
		},
		{
			name: "token only",
			cfg:  Config{Token: "t"},
			want: credentials.FromToken("t"),
		},
		{
			name: "secret and token",
			cfg:  Config{ClientSecret: "s", Token: "t"},
			want: credentials.FromClientSecretAndToken("s", "t"),
		},
		{
			name:    "none",
			cfg:     Config{},
			wantErr: ErrNoCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Credentials()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg := Default()
	cfg.ClientID = "abc"
	cfg.Token = "tok"
	cfg.MaxRetries = 2
	cfg.Burst = 4

	cc, err := cfg.ClientConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "abc", cc.ClientID)
	assert.Equal(t, DefaultUserAgent, cc.UserAgent)
	assert.Equal(t, credentials.FromToken("tok"), cc.Credentials)
	assert.Equal(t, 2, cc.MaxRetries)
	assert.Equal(t, 4, cc.Burst)
	assert.Nil(t, cc.Redis)

	_, err = client.New(cc)
	assert.NoError(t, err)
}

func TestRedis(t *testing.T) {
	cfg := Default()

	rdb, err := cfg.Redis()
	require.NoError(t, err)
	assert.Nil(t, rdb)

	cfg.RedisURL = "localhost:6379"
	rdb, err = cfg.Redis()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", rdb.Options().Addr)
	rdb.Close()

	cfg.RedisURL = "redis://cache:6380/2"
	rdb, err = cfg.Redis()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", rdb.Options().Addr)
	assert.Equal(t, 2, rdb.Options().DB)
	rdb.Close()

	cfg.RedisURL = "http://nope"
	_, err = cfg.Redis()
	assert.Error(t, err)
}

func TestLogging(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.LogPretty = true

	lc := cfg.Logging()
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.True(t, lc.Pretty)
}
