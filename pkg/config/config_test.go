package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into a fresh directory so Load only sees the
// config.yaml the test wrote, if any.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { os.Chdir(orig) })
	return tmp
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	tmp := chdirTemp(t)

	yamlContent := `
port: "9090"
database:
  host: "db.internal"
retrieval:
  top_k: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "config.yaml"), []byte(yamlContent), 0o644))

	// Clear env vars that might interfere with the test.
	os.Unsetenv("PGHOST")
	t.Setenv("PORT", "9191")

	cfg, err := Load("v1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Port, "env should override yaml")
	assert.Equal(t, "db.internal", cfg.Database.Host, "yaml value should be read")
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, "v1.2.3", cfg.Version)

	// Fields absent from both yaml and env keep their defaults.
	assert.Equal(t, 12000, cfg.Conversation.MaxContextTokens)
	assert.Equal(t, 64, cfg.Retrieval.CacheSize)
}

func TestLoadWithoutConfigFile(t *testing.T) {
	chdirTemp(t)
	os.Unsetenv("PORT")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 30*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, "memory", cfg.Session.Backend)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"zero agent iterations", map[string]string{"AGENT_MAX_ITERATIONS": "0"}, "max_iterations"},
		{"context budget below reserve", map[string]string{"CONV_MAX_CONTEXT_TOKENS": "1500"}, "max_context_tokens"},
		{"max timeout below default", map[string]string{"EXEC_MAX_TIMEOUT": "10s"}, "max_timeout"},
		{"unknown session backend", map[string]string{"SESSION_BACKEND": "etcd"}, "session.backend"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chdirTemp(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := Load("test")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRejectsUnknownTargetDialect(t *testing.T) {
	tmp := chdirTemp(t)

	yamlContent := `
executor:
  targets:
    - name: "reporting"
      dialect: "mongodb"
      dsn: "mongodb://localhost"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "config.yaml"), []byte(yamlContent), 0o644))

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dialect")
}

func TestDatabaseConnectionString(t *testing.T) {
	c := &DatabaseConfig{
		Host:     "pg.local",
		Port:     5433,
		User:     "svc",
		Password: "secret",
		Database: "engine",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=pg.local port=5433 user=svc password=secret dbname=engine sslmode=require",
		c.ConnectionString())
}
