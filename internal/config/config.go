// Package config resolves the session configuration once at startup.
//
// Layers are applied in order: defaults, then each Source (YAML file,
// environment or SSM Parameter Store). Resolve fills in derived values such as
// the redirect URI and validates the result.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/savaki/authsession/internal/cache"
	"github.com/savaki/authsession/internal/errors"
)

const (
	DefaultDevelopmentOrigin = "http://localhost:4321"
	DefaultScope             = "repo"
	DefaultProvider          = "auth0"
)

// Config is the resolved configuration.
type Config struct {
	Provider          string
	Domain            string
	ClientID          string
	RedirectURI       string
	LogoutURI         string
	BasePath          string
	Environment       string
	ProductionOrigin  string
	DevelopmentOrigin string
	Scope             string
	Audience          string
	CacheLocation     cache.Location
	CachePath         string
	UseRefreshTokens  bool
	AllowedEmails     string
	SessionSecretName string
}

// Overrides is one configuration layer. Empty strings and nil pointers leave
// the underlying value untouched.
type Overrides struct {
	Provider          string `yaml:"provider" env:"AUTHSESSION_PROVIDER"`
	Domain            string `yaml:"domain" env:"PUBLIC_AUTH0_DOMAIN"`
	ClientID          string `yaml:"client_id" env:"PUBLIC_AUTH0_CLIENT_ID"`
	RedirectURI       string `yaml:"redirect_uri" env:"PUBLIC_AUTH0_CALLBACK_URL"`
	LogoutURI         string `yaml:"logout_uri" env:"PUBLIC_AUTH0_LOGOUT_URL"`
	BasePath          string `yaml:"base_path" env:"AUTHSESSION_BASE_PATH"`
	ProductionOrigin  string `yaml:"production_origin" env:"AUTHSESSION_PRODUCTION_ORIGIN"`
	DevelopmentOrigin string `yaml:"development_origin" env:"AUTHSESSION_DEVELOPMENT_ORIGIN"`
	Scope             string `yaml:"scope" env:"AUTHSESSION_SCOPE"`
	Audience          string `yaml:"audience" env:"AUTHSESSION_AUDIENCE"`
	CacheLocation     string `yaml:"cache_location" env:"AUTHSESSION_CACHE_LOCATION"`
	CachePath         string `yaml:"cache_path" env:"AUTHSESSION_CACHE_PATH"`
	UseRefreshTokens  *bool  `yaml:"use_refresh_tokens" env:"AUTHSESSION_USE_REFRESH_TOKENS"`
	AllowedEmails     string `yaml:"allowed_emails" env:"AUTHSESSION_ALLOWED_EMAILS"`
	SessionSecretName string `yaml:"session_secret_name" env:"AUTHSESSION_SESSION_SECRET_NAME"`
}

// Set assigns the parameter called name, using the names of the SSM
// parameters under /<env>/authsession/.
func (o *Overrides) Set(name, value string) error {
	switch name {
	case "provider":
		o.Provider = value
	case "domain":
		o.Domain = value
	case "client-id":
		o.ClientID = value
	case "redirect-uri":
		o.RedirectURI = value
	case "logout-uri":
		o.LogoutURI = value
	case "base-path":
		o.BasePath = value
	case "production-origin":
		o.ProductionOrigin = value
	case "development-origin":
		o.DevelopmentOrigin = value
	case "scope":
		o.Scope = value
	case "audience":
		o.Audience = value
	case "cache-location":
		o.CacheLocation = value
	case "cache-path":
		o.CachePath = value
	case "use-refresh-tokens":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: use-refresh-tokens: %v", errors.ErrInvalidConfig, err)
		}
		o.UseRefreshTokens = &b
	case "allowed-emails":
		o.AllowedEmails = value
	case "session-secret-name":
		o.SessionSecretName = value
	default:
		return fmt.Errorf("%w: unknown parameter %q", errors.ErrInvalidConfig, name)
	}
	return nil
}

var envNames = map[string]string{
	"provider":            "AUTHSESSION_PROVIDER",
	"domain":              "PUBLIC_AUTH0_DOMAIN",
	"client-id":           "PUBLIC_AUTH0_CLIENT_ID",
	"redirect-uri":        "PUBLIC_AUTH0_CALLBACK_URL",
	"logout-uri":          "PUBLIC_AUTH0_LOGOUT_URL",
	"base-path":           "AUTHSESSION_BASE_PATH",
	"production-origin":   "AUTHSESSION_PRODUCTION_ORIGIN",
	"development-origin":  "AUTHSESSION_DEVELOPMENT_ORIGIN",
	"scope":               "AUTHSESSION_SCOPE",
	"audience":            "AUTHSESSION_AUDIENCE",
	"cache-location":      "AUTHSESSION_CACHE_LOCATION",
	"cache-path":          "AUTHSESSION_CACHE_PATH",
	"use-refresh-tokens":  "AUTHSESSION_USE_REFRESH_TOKENS",
	"allowed-emails":      "AUTHSESSION_ALLOWED_EMAILS",
	"session-secret-name": "AUTHSESSION_SESSION_SECRET_NAME",
}

// EnvName returns the environment variable that carries the parameter
// called name.
func EnvName(name string) (string, bool) {
	v, ok := envNames[name]
	return v, ok
}

// Apply copies every set field of o onto c.
func (o *Overrides) Apply(c *Config) {
	if o == nil {
		return
	}
	setString(&c.Provider, o.Provider)
	setString(&c.Domain, o.Domain)
	setString(&c.ClientID, o.ClientID)
	setString(&c.RedirectURI, o.RedirectURI)
	setString(&c.LogoutURI, o.LogoutURI)
	setString(&c.BasePath, o.BasePath)
	setString(&c.ProductionOrigin, o.ProductionOrigin)
	setString(&c.DevelopmentOrigin, o.DevelopmentOrigin)
	setString(&c.Scope, o.Scope)
	setString(&c.Audience, o.Audience)
	if o.CacheLocation != "" {
		c.CacheLocation = cache.Location(o.CacheLocation)
	}
	setString(&c.CachePath, o.CachePath)
	if o.UseRefreshTokens != nil {
		c.UseRefreshTokens = *o.UseRefreshTokens
	}
	setString(&c.AllowedEmails, o.AllowedEmails)
	setString(&c.SessionSecretName, o.SessionSecretName)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Source loads one configuration layer.
type Source func(ctx context.Context) (*Overrides, error)

// Defaults returns the configuration before any layer is applied.
func Defaults(env string) Config {
	cachePath := filepath.Join(".authsession", "cache.db")
	if dir, err := os.UserCacheDir(); err == nil {
		cachePath = filepath.Join(dir, "authsession", "cache.db")
	}

	return Config{
		Provider:          DefaultProvider,
		Environment:       env,
		DevelopmentOrigin: DefaultDevelopmentOrigin,
		Scope:             DefaultScope,
		CacheLocation:     cache.LocalStorage,
		CachePath:         cachePath,
		UseRefreshTokens:  true,
		BasePath:          "/",
	}
}

// Load applies sources over the defaults for env and resolves the result.
func Load(ctx context.Context, env string, sources ...Source) (*Config, error) {
	cfg := Defaults(env)
	for _, source := range sources {
		if source == nil {
			continue
		}
		overrides, err := source(ctx)
		if err != nil {
			return nil, err
		}
		overrides.Apply(&cfg)
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether the environment names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "prd", "prod", "production":
		return true
	default:
		return false
	}
}

// Origin returns the site origin for the current environment.
func (c *Config) Origin() string {
	if c.IsProduction() {
		return c.ProductionOrigin
	}
	return c.DevelopmentOrigin
}

// Resolve derives the redirect and logout URIs and validates the result.
func (c *Config) Resolve() error {
	if c.Domain == "" && c.Provider == DefaultProvider {
		return fmt.Errorf("%w: domain is required", errors.ErrInvalidConfig)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%w: client id is required", errors.ErrInvalidConfig)
	}

	location, err := cache.ParseLocation(string(c.CacheLocation))
	if err != nil {
		return err
	}
	c.CacheLocation = location

	c.BasePath = NormalizeBasePath(c.BasePath)

	if c.RedirectURI == "" {
		origin := c.Origin()
		if origin == "" {
			return fmt.Errorf("%w: no origin configured for environment %q", errors.ErrInvalidConfig, c.Environment)
		}
		c.RedirectURI = RedirectURI(origin, c.BasePath)
	}
	if c.LogoutURI == "" {
		c.LogoutURI = c.RedirectURI
	}

	for name, raw := range map[string]string{"redirect uri": c.RedirectURI, "logout uri": c.LogoutURI} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s %q is not an absolute URL", errors.ErrInvalidConfig, name, raw)
		}
	}
	return nil
}

// NormalizeBasePath returns base with exactly one leading slash and a
// trailing slash.
func NormalizeBasePath(base string) string {
	trimmed := strings.Trim(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + trimmed + "/"
}

// RedirectURI joins origin and base path without doubling or dropping
// slashes: the result always ends in "/".
func RedirectURI(origin, base string) string {
	origin = strings.TrimRight(origin, "/")
	return origin + NormalizeBasePath(base)
}
