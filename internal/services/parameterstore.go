package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/config"
	"github.com/savaki/authsession/internal/errors"
)

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by its short name, e.g. client-id
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads every known parameter as a configuration layer
	GetConfig(ctx context.Context) (*config.Overrides, error)
}

// Source adapts store into a configuration layer.
func Source(store ParameterStore) config.Source {
	return store.GetConfig
}

// SSMAPI is the subset of the SSM client used by SSMParameterStore.
type SSMAPI interface {
	ssm.GetParametersByPathAPIClient
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store.
// Parameters live under /<env>/authsession/<name>.
type SSMParameterStore struct {
	client SSMAPI
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMAPI, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

func (s *SSMParameterStore) path() string {
	return fmt.Sprintf("/%s/authsession", s.env)
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	key := s.path() + "/" + name

	s.mu.RLock()
	if value, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(key),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var apiErr smithy.APIError
		if stderrors.As(err, &apiErr) && apiErr.ErrorCode() == "ParameterNotFound" {
			return "", fmt.Errorf("%w: %s", errors.ErrParameterNotFound, key)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", key, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", errors.ErrParameterNotFound, key)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all parameters under the environment path. Unknown names
// are logged and skipped.
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*config.Overrides, error) {
	logger := zerolog.Ctx(ctx)
	prefix := s.path() + "/"

	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(s.path()),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get parameters by path %s: %w", s.path(), err)
		}
		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				params[*param.Name] = *param.Value
			}
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	var overrides config.Overrides
	for key, value := range params {
		name := strings.TrimPrefix(key, prefix)
		if _, ok := config.EnvName(name); !ok {
			logger.Warn().Str("parameter", key).Msg("ignoring unknown parameter")
			continue
		}
		if err := overrides.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to apply parameter %s: %w", key, err)
		}
	}

	logger.Debug().
		Str("path", s.path()).
		Int("parameter_count", len(params)).
		Msg("loaded parameters from ssm")

	return &overrides, nil
}

// EnvParameterStore implements ParameterStore using environment variables.
// It is used for local development without an AWS connection.
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter reads the environment variable that carries name.
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	key, ok := config.EnvName(name)
	if !ok {
		return "", fmt.Errorf("%w: unknown parameter %q", errors.ErrParameterNotFound, name)
	}
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrParameterNotFound, key)
	}
	return value, nil
}

// GetConfig loads the configuration layer from environment variables.
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*config.Overrides, error) {
	var overrides config.Overrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &overrides, nil
}
