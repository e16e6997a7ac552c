package config

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dickeyy/pr-flow-metrics/types"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"-org", "contoso", "-project", "web"}, env(map[string]string{"ADO_PAT": " secret "}), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, ProviderADO, cfg.Provider)
	assert.Equal(t, 30, cfg.Days)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "secret", cfg.PAT)
	assert.Empty(t, cfg.RepoNames)
	require.NotNil(t, cfg.LookbackDays())
	assert.Equal(t, 30, *cfg.LookbackDays())
	assert.False(t, cfg.Debug)
}

func TestLoad_RepeatableRepositories(t *testing.T) {
	cfg, err := Load([]string{
		"-org", "contoso", "-project", "web",
		"-repo-name", "api, web", "-repo-name", "tools",
		"-repo-id", "abc",
	}, env(map[string]string{"ADO_PAT": "x"}), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "web", "tools"}, cfg.RepoNames)
	assert.Equal(t, []string{"abc"}, cfg.RepoIDs)
}

func TestLoad_AllHistory(t *testing.T) {
	cfg, err := Load([]string{"-org", "o", "-project", "p", "-all-history", "-days", "0"}, env(map[string]string{"ADO_PAT": "x"}), io.Discard)
	require.NoError(t, err)
	assert.Nil(t, cfg.LookbackDays())
}

func TestLoad_EnvironmentDefaults(t *testing.T) {
	cfg, err := Load([]string{"-org", "o", "-project", "p"}, env(map[string]string{
		"ADO_TOKEN":    "bearer",
		"DATABASE_URL": "postgres://localhost/kpis",
		"LOG_LEVEL":    "DEBUG",
	}), io.Discard)
	require.NoError(t, err)

	assert.Empty(t, cfg.PAT)
	assert.Equal(t, "bearer", cfg.Token)
	assert.Equal(t, "postgres://localhost/kpis", cfg.DatabaseURL)
	assert.True(t, cfg.Debug)
}

func TestLoad_GitHub(t *testing.T) {
	cfg, err := Load([]string{"-provider", "GitHub", "-org", "acme", "-format", "json"}, env(map[string]string{"GITHUB_TOKEN": "ghp"}), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, ProviderGitHub, cfg.Provider)
	assert.Equal(t, "ghp", cfg.Token)
	assert.Equal(t, FormatJSON, cfg.Format)
}

func TestLoad_Invalid(t *testing.T) {
	creds := env(map[string]string{"ADO_PAT": "x", "GITHUB_TOKEN": "y"})
	tests := []struct {
		name string
		args []string
	}{
		{"missing org", []string{"-project", "p"}},
		{"missing project", []string{"-org", "o"}},
		{"unknown provider", []string{"-provider", "gitlab", "-org", "o"}},
		{"zero days", []string{"-org", "o", "-project", "p", "-days", "0"}},
		{"negative days", []string{"-org", "o", "-project", "p", "-days", "-3"}},
		{"non integer days", []string{"-org", "o", "-project", "p", "-days", "ten"}},
		{"zero concurrency", []string{"-org", "o", "-project", "p", "-concurrency", "0"}},
		{"zero thread workers", []string{"-org", "o", "-project", "p", "-thread-workers", "0"}},
		{"zero retries", []string{"-org", "o", "-project", "p", "-max-retries", "0"}},
		{"zero timeout", []string{"-org", "o", "-project", "p", "-timeout", "0s"}},
		{"unknown format", []string{"-org", "o", "-project", "p", "-format", "xml"}},
		{"stray argument", []string{"-org", "o", "-project", "p", "extra"}},
		{"unknown flag", []string{"-org", "o", "-project", "p", "-verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, creds, io.Discard)
			require.Error(t, err)
			assert.Equal(t, types.KindConfiguration, types.KindOf(err))
		})
	}
}

func TestLoad_MissingCredential(t *testing.T) {
	_, err := Load([]string{"-org", "o", "-project", "p"}, env(map[string]string{"ADO_PAT": "   "}), io.Discard)
	assert.Equal(t, types.KindAuthentication, types.KindOf(err))
	assert.Contains(t, err.Error(), "ADO_PAT")

	_, err = Load([]string{"-provider", "github", "-org", "acme"}, env(nil), io.Discard)
	assert.Equal(t, types.KindAuthentication, types.KindOf(err))
}

func TestLoad_ConfigurationCheckedBeforeCredential(t *testing.T) {
	_, err := Load([]string{"-org", "o", "-project", "p", "-days", "0"}, env(nil), io.Discard)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestLoad_Help(t *testing.T) {
	_, err := Load([]string{"-h"}, env(nil), io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestConfig_StringRedactsCredentials(t *testing.T) {
	cfg := Config{Provider: ProviderADO, Organization: "o", PAT: "very-secret", Token: "also-secret"}
	assert.NotContains(t, cfg.String(), "secret")
}
