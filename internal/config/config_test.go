package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/savaki/authsession/internal/cache"
	"github.com/savaki/authsession/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(o Overrides) Source {
	return func(context.Context) (*Overrides, error) { return &o, nil }
}

func TestRedirectURI(t *testing.T) {
	tests := []struct {
		origin string
		base   string
		want   string
	}{
		{origin: "https://knuspermixx.github.io", base: "/docs/", want: "https://knuspermixx.github.io/docs/"},
		{origin: "https://knuspermixx.github.io", base: "docs", want: "https://knuspermixx.github.io/docs/"},
		{origin: "https://knuspermixx.github.io", base: "/docs", want: "https://knuspermixx.github.io/docs/"},
		{origin: "https://knuspermixx.github.io", base: "docs/", want: "https://knuspermixx.github.io/docs/"},
		{origin: "https://knuspermixx.github.io/", base: "//docs//", want: "https://knuspermixx.github.io/docs/"},
		{origin: "https://knuspermixx.github.io", base: "/a/b", want: "https://knuspermixx.github.io/a/b/"},
		{origin: "https://knuspermixx.github.io", base: "", want: "https://knuspermixx.github.io/"},
		{origin: "https://knuspermixx.github.io", base: "/", want: "https://knuspermixx.github.io/"},
		{origin: "http://localhost:4321", base: "", want: "http://localhost:4321/"},
	}

	for _, tt := range tests {
		t.Run(tt.origin+"|"+tt.base, func(t *testing.T) {
			assert.Equal(t, tt.want, RedirectURI(tt.origin, tt.base))
		})
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	base := Overrides{Domain: "tenant.eu.auth0.com", ClientID: "client-1"}

	t.Run("development defaults", func(t *testing.T) {
		cfg, err := Load(ctx, "development", static(base))
		require.NoError(t, err)

		assert.Equal(t, "auth0", cfg.Provider)
		assert.Equal(t, "http://localhost:4321/", cfg.RedirectURI)
		assert.Equal(t, cfg.RedirectURI, cfg.LogoutURI)
		assert.Equal(t, "repo", cfg.Scope)
		assert.Equal(t, cache.LocalStorage, cfg.CacheLocation)
		assert.True(t, cfg.UseRefreshTokens)
		assert.False(t, cfg.IsProduction())
	})

	t.Run("production origin with base path", func(t *testing.T) {
		o := base
		o.ProductionOrigin = "https://knuspermixx.github.io"
		o.BasePath = "docs"

		cfg, err := Load(ctx, "production", static(o))
		require.NoError(t, err)
		assert.True(t, cfg.IsProduction())
		assert.Equal(t, "/docs/", cfg.BasePath)
		assert.Equal(t, "https://knuspermixx.github.io/docs/", cfg.RedirectURI)
	})

	t.Run("production without origin", func(t *testing.T) {
		_, err := Load(ctx, "prd", static(base))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})

	t.Run("explicit URIs win", func(t *testing.T) {
		o := base
		o.RedirectURI = "https://example.com/callback"
		o.LogoutURI = "https://example.com/bye"

		cfg, err := Load(ctx, "production", static(o))
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/callback", cfg.RedirectURI)
		assert.Equal(t, "https://example.com/bye", cfg.LogoutURI)
	})

	t.Run("later layers win", func(t *testing.T) {
		off := false
		cfg, err := Load(ctx, "dev",
			static(base),
			static(Overrides{ClientID: "client-2", CacheLocation: "memory", UseRefreshTokens: &off}),
			static(Overrides{Scope: "  "}),
		)
		require.NoError(t, err)
		assert.Equal(t, "client-2", cfg.ClientID)
		assert.Equal(t, cache.Memory, cfg.CacheLocation)
		assert.False(t, cfg.UseRefreshTokens)
		assert.Equal(t, "repo", cfg.Scope)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := Load(ctx, "dev", static(Overrides{ClientID: "x"}))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)

		_, err = Load(ctx, "dev", static(Overrides{Domain: "x"}))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)

		o := base
		o.CacheLocation = "cookie"
		_, err = Load(ctx, "dev", static(o))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)

		o = base
		o.RedirectURI = "/relative"
		_, err = Load(ctx, "dev", static(o))
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
}

func TestOverrides_Set(t *testing.T) {
	var o Overrides
	require.NoError(t, o.Set("domain", "tenant.auth0.com"))
	require.NoError(t, o.Set("client-id", "abc"))
	require.NoError(t, o.Set("use-refresh-tokens", "false"))

	assert.Equal(t, "tenant.auth0.com", o.Domain)
	assert.Equal(t, "abc", o.ClientID)
	require.NotNil(t, o.UseRefreshTokens)
	assert.False(t, *o.UseRefreshTokens)

	assert.ErrorIs(t, o.Set("use-refresh-tokens", "maybe"), errors.ErrInvalidConfig)
	assert.ErrorIs(t, o.Set("unknown", "x"), errors.ErrInvalidConfig)
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "authsession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domain: tenant.eu.auth0.com
client_id: from-file
base_path: /docs/
use_refresh_tokens: false
`), 0o600))

	o, err := File(path, true)(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tenant.eu.auth0.com", o.Domain)
	assert.Equal(t, "from-file", o.ClientID)
	assert.Equal(t, "/docs/", o.BasePath)
	require.NotNil(t, o.UseRefreshTokens)
	assert.False(t, *o.UseRefreshTokens)

	missing := filepath.Join(dir, "missing.yaml")
	o, err = File(missing, false)(ctx)
	require.NoError(t, err)
	assert.Equal(t, Overrides{}, *o)

	_, err = File(missing, true)(ctx)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("domain: [unterminated"), 0o600))
	_, err = File(bad, true)(ctx)
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	got, ok := EnvName("client-id")
	assert.True(t, ok)
	assert.Equal(t, "PUBLIC_AUTH0_CLIENT_ID", got)

	got, ok = EnvName("cache-location")
	assert.True(t, ok)
	assert.Equal(t, "AUTHSESSION_CACHE_LOCATION", got)

	_, ok = EnvName("nope")
	assert.False(t, ok)
}
