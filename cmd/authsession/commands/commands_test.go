package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func setEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DISABLE_SSM", "true")
	t.Setenv("PUBLIC_AUTH0_DOMAIN", "tenant.eu.auth0.com")
	t.Setenv("PUBLIC_AUTH0_CLIENT_ID", "client-1")
	t.Setenv("AUTHSESSION_CACHE_PATH", filepath.Join(dir, "cache.db"))
	t.Setenv("AUTHSESSION_PRODUCTION_ORIGIN", "https://knuspermixx.github.io")
	t.Setenv("AUTHSESSION_BASE_PATH", "/docs/")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger := zerolog.Nop()
	app := NewApp(&logger)

	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.RunContext(context.Background(), append([]string{"authsession"}, args...))
	return out.String(), err
}

func TestConfigShow(t *testing.T) {
	setEnv(t)

	tests := []struct {
		env         string
		redirectURI string
		production  bool
	}{
		{env: "dev", redirectURI: "http://localhost:4321/docs/"},
		{env: "prd", redirectURI: "https://knuspermixx.github.io/docs/", production: true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			out, err := run(t, "--env", tt.env, "config", "show")
			require.NoError(t, err)

			var got resolvedConfig
			require.NoError(t, yaml.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.redirectURI, got.RedirectURI)
			assert.Equal(t, tt.redirectURI, got.LogoutURI)
			assert.Equal(t, tt.production, got.Production)
			assert.Equal(t, "repo", got.Scope)
			assert.Equal(t, "localstorage", got.CacheLocation)
		})
	}
}

func TestConfigShow_MissingExplicitFile(t *testing.T) {
	setEnv(t)
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "show")
	assert.Error(t, err)
}

func TestConfigParam(t *testing.T) {
	setEnv(t)

	out, err := run(t, "config", "param", "client-id")
	require.NoError(t, err)
	assert.Equal(t, "client-1\n", out)

	_, err = run(t, "config", "param", "audience")
	assert.Error(t, err)
}

func TestKeysRotate(t *testing.T) {
	dir := setEnv(t)

	out, err := run(t, "keys", "rotate", "--keep", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Session keys rotated.")

	_, err = os.Stat(filepath.Join(dir, "session.key"))
	assert.NoError(t, err)
}

func TestCallback_RequiresParams(t *testing.T) {
	setEnv(t)
	_, err := run(t, "callback", "--url", "http://localhost:4321/docs/")
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"screen_hint=signup", "prompt=login"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"screen_hint": "signup", "prompt": "login"}, got)

	got, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
}
