package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "QUIZ"

type Config struct {
	Bind             string
	Port             int
	DatabaseURL      string
	QuestionsFile    string
	InviteCodeLength int
	PublicURL        string
	LogLevel         string
	LogFormat        string
	AllowedOrigins   []string
	ShutdownTimeout  time.Duration
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.InviteCodeLength < 4 || c.InviteCodeLength > 12 {
		return fmt.Errorf("invalid invite code length (must be between 4-12 inclusive): %d", c.InviteCodeLength)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q (must be console or json)", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// UsePostgres reports whether rooms, chat and questions live in Postgres
// rather than in process memory.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// NewCommand builds the root command. Flags may also be set through
// QUIZ_-prefixed environment variables; run is called once cfg is valid.
func NewCommand(cfg *Config, version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quiz-server",
		Short:         "Realtime multiplayer quiz competition lobby.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZ_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: QUIZ_PORT)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string; empty keeps everything in memory (env: QUIZ_DATABASE_URL)")
	fs.StringVar(&cfg.QuestionsFile, "questions-file", "", "JSON question bank to import at startup (env: QUIZ_QUESTIONS_FILE)")
	fs.IntVar(&cfg.InviteCodeLength, "invite-code-length", 5, "length of generated invite codes (env: QUIZ_INVITE_CODE_LENGTH)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "base URL of the web client used in invite links (env: QUIZ_PUBLIC_URL)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: QUIZ_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "console", "console or json (env: QUIZ_LOG_FORMAT)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "origin patterns accepted on websocket upgrades (env: QUIZ_ALLOWED_ORIGINS)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown (env: QUIZ_SHUTDOWN_TIMEOUT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, v.GetString(f.Name))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quiz-server v{{.Version}}\n")

	return cmd
}
