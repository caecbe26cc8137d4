package di

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/config"
	"github.com/savaki/authsession/internal/services"
)

// ProvideSSMClient provides an SSM client for Parameter Store access
// Returns nil if SSM is disabled (for local development)
func ProvideSSMClient(ctx context.Context, disable DisableSSM) (*ssm.Client, error) {
	if disable || os.Getenv("DISABLE_SSM") == "true" {
		return nil, nil
	}

	awsConfig, err := ProvideAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return ssm.NewFromConfig(awsConfig), nil
}

// ProvideParameterStore provides a ParameterStore implementation
// Uses SSM Parameter Store in AWS, falls back to environment variables when disabled
func ProvideParameterStore(ctx context.Context, ssmClient *ssm.Client, env string) services.ParameterStore {
	logger := zerolog.Ctx(ctx)

	if ssmClient == nil {
		logger.Debug().Msg("Using environment variables for configuration (SSM disabled)")
		return services.NewEnvParameterStore(env)
	}

	logger.Debug().Msg("Using AWS Systems Manager Parameter Store for configuration")
	return services.NewSSMParameterStore(ssmClient, env)
}

// ProvideConfig resolves the configuration: defaults, then the YAML file,
// then the parameter store.
func ProvideConfig(ctx context.Context, store services.ParameterStore, file ConfigFile, env string) (*config.Config, error) {
	logger := zerolog.Ctx(ctx)

	cfg, err := config.Load(ctx, env,
		config.File(file.Path, file.Required),
		services.Source(store),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Debug().
		Str("provider", cfg.Provider).
		Str("domain", cfg.Domain).
		Str("redirect_uri", cfg.RedirectURI).
		Str("cache_location", string(cfg.CacheLocation)).
		Bool("use_refresh_tokens", cfg.UseRefreshTokens).
		Bool("has_allowed_emails", cfg.AllowedEmails != "").
		Msg("Configuration loaded successfully")

	return cfg, nil
}
