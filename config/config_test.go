package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func resolve(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var (
		cfg Config
		err error
	)
	app := &cli.App{
		Name:  "test",
		Flags: Flags(),
		Action: func(ctx *cli.Context) error {
			cfg, err = FromContext(ctx)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return cfg, err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}},
		{name: "disabled with partial settings", cfg: Config{BaseURL: "http://x"}},
		{name: "enabled and complete", cfg: Config{Enabled: true, BaseURL: "http://x", AuthToken: "t"}},
		{name: "enabled without token", cfg: Config{Enabled: true, BaseURL: "http://x"}, wantErr: true},
		{name: "enabled without url", cfg: Config{Enabled: true, AuthToken: "t"}, wantErr: true},
		{name: "enabled without both", cfg: Config{Enabled: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConfiguration)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFromContext_Flags(t *testing.T) {
	cfg, err := resolve(t, "--report-enabled", "--report-base-url", "http://collector", "--report-auth-token", "ABCDEF")
	require.NoError(t, err)
	require.Equal(t, Config{Enabled: true, BaseURL: "http://collector", AuthToken: "ABCDEF"}, cfg)

	_, err = resolve(t, "--report-enabled")
	require.ErrorIs(t, err, ErrConfiguration)
	require.Contains(t, err.Error(), "--report-enabled should be used with --report-base-url and --report-auth-token")
}

func TestFromContext_Environment(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://from-env")
	t.Setenv(EnvAuthToken, "env-token")
	t.Setenv(EnvEnabled, "true")

	cfg, err := resolve(t)
	require.NoError(t, err)
	require.Equal(t, Config{Enabled: true, BaseURL: "http://from-env", AuthToken: "env-token"}, cfg)
}

func TestFromContext_Precedence(t *testing.T) {
	yamlPath := writeFile(t, "apireport.yaml", strings.Join([]string{
		"base_url: http://from-yaml",
		"auth_token: yaml-token",
		"enabled: true",
	}, "\n"))
	envPath := writeFile(t, ".env", "APIREPORT_AUTH_TOKEN=dotenv-token\n")

	cfg, err := resolve(t, "--config", yamlPath)
	require.NoError(t, err)
	require.Equal(t, Config{Enabled: true, BaseURL: "http://from-yaml", AuthToken: "yaml-token"}, cfg)

	cfg, err = resolve(t, "--config", yamlPath, "--env-file", envPath)
	require.NoError(t, err)
	require.Equal(t, "dotenv-token", cfg.AuthToken)

	cfg, err = resolve(t, "--config", yamlPath, "--env-file", envPath, "--report-base-url", "http://from-flag")
	require.NoError(t, err)
	require.Equal(t, "http://from-flag", cfg.BaseURL)
	require.Equal(t, "dotenv-token", cfg.AuthToken)
}

func TestFromContext_BadFiles(t *testing.T) {
	_, err := resolve(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	_, err = resolve(t, "--config", writeFile(t, "bad.yaml", "base_url: [unterminated"))
	require.ErrorContains(t, err, "failed to parse config file")

	_, err = resolve(t, "--env-file", writeFile(t, ".env", "APIREPORT_ENABLED=maybe\n"))
	require.ErrorContains(t, err, "invalid APIREPORT_ENABLED")
}

func TestConfig_Env(t *testing.T) {
	cfg := Config{Enabled: true, BaseURL: "http://x", AuthToken: "t"}
	require.Equal(t, []string{
		"APIREPORT_BASE_URL=http://x",
		"APIREPORT_AUTH_TOKEN=t",
		"APIREPORT_ENABLED=true",
	}, cfg.Env())
}
