package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var got *Config
	cfg := &Config{}
	cmd := NewCommand(cfg, "test", func(_ *cobra.Command, c *Config) error {
		got = c
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, err
}

func TestDefaults(t *testing.T) {
	cfg, err := execute(t)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 5, cfg.InviteCodeLength)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.UsePostgres())
}

func TestEnvAndFlags(t *testing.T) {
	t.Setenv("QUIZ_PORT", "9090")
	t.Setenv("QUIZ_DATABASE_URL", "postgres://quiz@localhost/quiz")
	t.Setenv("QUIZ_ALLOWED_ORIGINS", "quiz.example,*.quiz.example")
	t.Setenv("QUIZ_LOG_FORMAT", "console")

	cfg, err := execute(t, "--log-format", "json", "--invite-code-length", "6")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, []string{"quiz.example", "*.quiz.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "json", cfg.LogFormat, "flags win over env")
	assert.Equal(t, 6, cfg.InviteCodeLength)
}

func TestValidate(t *testing.T) {
	cases := [][]string{
		{"--port", "0"},
		{"--invite-code-length", "2"},
		{"--log-format", "xml"},
		{"--shutdown-timeout", "0s"},
	}
	for _, args := range cases {
		t.Run(args[0], func(t *testing.T) {
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}
