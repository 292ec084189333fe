// Package config resolves the reporting settings from flags, the
// environment, an optional dotenv file and an optional YAML file, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	FlagBaseURL   = "report-base-url"
	FlagAuthToken = "report-auth-token"
	FlagEnabled   = "report-enabled"
	FlagConfig    = "config"
	FlagEnvFile   = "env-file"

	EnvBaseURL   = "APIREPORT_BASE_URL"
	EnvAuthToken = "APIREPORT_AUTH_TOKEN"
	EnvEnabled   = "APIREPORT_ENABLED"
)

// ErrConfiguration is returned when reporting is enabled without both a
// collector URL and an auth token.
var ErrConfiguration = errors.New("--report-enabled should be used with --report-base-url and --report-auth-token")

// Config holds the reporting settings.
type Config struct {
	BaseURL   string
	AuthToken string
	Enabled   bool
}

// Validate checks that an enabled configuration can reach a collector.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BaseURL == "" || c.AuthToken == "" {
		return ErrConfiguration
	}
	return nil
}

// File is the layout of the YAML config file.
type File struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
	Enabled   *bool  `yaml:"enabled"`
}

// LoadFile parses a YAML config file.
func LoadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return f, nil
}

// Flags returns the global reporting flags.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagBaseURL,
			Usage:   "Reporting API base URL",
			EnvVars: []string{EnvBaseURL},
		},
		&cli.StringFlag{
			Name:    FlagAuthToken,
			Usage:   "Reporting API auth token",
			EnvVars: []string{EnvAuthToken},
		},
		&cli.BoolFlag{
			Name:    FlagEnabled,
			Usage:   "Enable reporting",
			EnvVars: []string{EnvEnabled},
		},
		&cli.StringFlag{
			Name:  FlagConfig,
			Usage: "YAML file with base_url, auth_token and enabled",
		},
		&cli.StringFlag{
			Name:  FlagEnvFile,
			Usage: "Dotenv file providing APIREPORT_* variables",
		},
	}
}

// FromContext resolves the configuration and validates it.
func FromContext(ctx *cli.Context) (Config, error) {
	var cfg Config

	if path := ctx.String(FlagConfig); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg.BaseURL = f.BaseURL
		cfg.AuthToken = f.AuthToken
		if f.Enabled != nil {
			cfg.Enabled = *f.Enabled
		}
	}

	if path := ctx.String(FlagEnvFile); path != "" {
		env, err := godotenv.Read(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		if err := cfg.applyEnv(env); err != nil {
			return cfg, err
		}
	}

	if ctx.IsSet(FlagBaseURL) {
		cfg.BaseURL = ctx.String(FlagBaseURL)
	}
	if ctx.IsSet(FlagAuthToken) {
		cfg.AuthToken = ctx.String(FlagAuthToken)
	}
	if ctx.IsSet(FlagEnabled) {
		cfg.Enabled = ctx.Bool(FlagEnabled)
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(env map[string]string) error {
	if v, ok := env[EnvBaseURL]; ok {
		c.BaseURL = v
	}
	if v, ok := env[EnvAuthToken]; ok {
		c.AuthToken = v
	}
	if v, ok := env[EnvEnabled]; ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvEnabled, v, err)
		}
		c.Enabled = enabled
	}
	return nil
}

// Env renders the configuration as environment entries, for passing it on
// to a spawned worker without exposing the token on its command line.
func (c Config) Env() []string {
	return []string{
		EnvBaseURL + "=" + c.BaseURL,
		EnvAuthToken + "=" + c.AuthToken,
		EnvEnabled + "=" + strconv.FormatBool(c.Enabled),
	}
}
