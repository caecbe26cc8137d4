package di

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/auth"
	"github.com/savaki/authsession/internal/authz"
	"github.com/savaki/authsession/internal/cache"
	"github.com/savaki/authsession/internal/config"
	"github.com/savaki/authsession/internal/errors"
	"github.com/savaki/authsession/internal/server"
	"github.com/savaki/authsession/internal/services"
	"github.com/savaki/authsession/internal/session"
)

// ProvideKeyProvider uses Secrets Manager when a secret name is configured and
// a key file next to the cache otherwise.
func ProvideKeyProvider(ctx context.Context, cfg *config.Config) (services.KeyProvider, error) {
	logger := zerolog.Ctx(ctx)

	if cfg.SessionSecretName == "" {
		path := filepath.Join(filepath.Dir(cfg.CachePath), "session.key")
		logger.Debug().Str("path", path).Msg("Using local session key file")
		return services.NewFileKeyService(path), nil
	}

	awsConfig, err := ProvideAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsConfig)
	return services.NewSessionKeyService(client, cfg.SessionSecretName), nil
}

// ProvideSecretRotator provides the rotator for the session key secret.
func ProvideSecretRotator(ctx context.Context) (*services.SecretRotator, error) {
	awsConfig, err := ProvideAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return services.NewSecretRotator(secretsmanager.NewFromConfig(awsConfig)), nil
}

func ProvideSessionKeys(ctx context.Context, keyService services.KeyProvider) ([][]byte, error) {
	keys, err := keyService.GetSessionKeys(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to load session keys")
		return nil, fmt.Errorf("failed to load session keys: %w", err)
	}
	return keys, nil
}

// ProvideCache opens the token cache for the configured location. The
// persistent cache is sealed with the session keys.
func ProvideCache(ctx context.Context, cfg *config.Config, keys [][]byte) (cache.Cache, error) {
	logger := zerolog.Ctx(ctx)

	switch cfg.CacheLocation {
	case cache.Memory:
		logger.Debug().Msg("Using in-memory token cache")
		return cache.NewMemoryCache(), nil

	case cache.LocalStorage:
		db, err := cache.OpenSQLite(cfg.CachePath)
		if err != nil {
			return nil, err
		}
		encrypted, err := cache.NewEncryptedCache(db, keys)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Debug().Str("path", cfg.CachePath).Msg("Using persistent token cache")
		return encrypted, nil

	default:
		return nil, fmt.Errorf("%w: unknown cache location %q", errors.ErrInvalidConfig, cfg.CacheLocation)
	}
}

func ProvideProvider(cfg *config.Config) (auth.Provider, error) {
	provider, ok := auth.NewProvider(cfg.Provider, cfg.Domain)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider type: %s", errors.ErrInvalidConfig, cfg.Provider)
	}
	return provider, nil
}

func ProvideAuthorizer(logger zerolog.Logger, cfg *config.Config) *authz.Authorizer {
	if cfg.AllowedEmails == "" {
		logger.Debug().Msg("Email authorization disabled - all authenticated users allowed")
		return nil
	}

	logger.Info().
		Str("allowed_emails", cfg.AllowedEmails).
		Str("provider_type", cfg.Provider).
		Msg("Email authorization enabled")

	return authz.NewEmailAuthorizer(cfg.AllowedEmails)
}

// ProvideClientFactory returns the constructor the facade calls on first
// use. Discovery happens then, not at wiring time.
func ProvideClientFactory(cfg *config.Config, provider auth.Provider, tokens cache.Cache, authorizer *authz.Authorizer) session.Factory {
	return func(ctx context.Context) (auth.Client, error) {
		client, err := auth.NewClient(ctx, auth.ClientInput{
			Provider:         provider,
			ClientID:         cfg.ClientID,
			RedirectURI:      cfg.RedirectURI,
			Scope:            cfg.Scope,
			Audience:         cfg.Audience,
			UseRefreshTokens: cfg.UseRefreshTokens,
			Cache:            tokens,
			Authorizer:       authorizer,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create identity client: %w", err)
		}
		return client, nil
	}
}

func ProvideFacade(factory session.Factory, cfg *config.Config) *session.Facade {
	return session.New(factory, session.Options{
		RedirectURI: cfg.RedirectURI,
		LogoutURI:   cfg.LogoutURI,
		Audience:    cfg.Audience,
	})
}

// ProvideSessionStore provides the flash cookie store. Cookies are marked
// Secure unless the page is served over plain http.
func ProvideSessionStore(ctx context.Context, cfg *config.Config, keys [][]byte) *sessions.CookieStore {
	isSecure := strings.HasPrefix(cfg.RedirectURI, "https://")
	if !isSecure {
		zerolog.Ctx(ctx).Debug().Msg("Serving over http, flash cookies are not marked Secure")
	}
	return server.NewSessionStore(keys, isSecure, cfg.BasePath)
}

func ProvideHandler(facade *session.Facade, store *sessions.CookieStore, cfg *config.Config) *server.Handler {
	return server.NewHandler(facade, store, cfg.BasePath)
}
