package di

import (
	"context"

	"github.com/rs/zerolog"
)

// ConfigFile locates the optional YAML configuration layer.
type ConfigFile struct {
	Path     string
	Required bool
}

// DisableSSM selects environment variables over SSM Parameter Store.
type DisableSSM bool

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithContext sets the context handed to providers. The container logger is
// attached to it.
func WithContext(ctx context.Context) Option {
	return func(opts *options) {
		opts.ctx = ctx
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithConfigFile(path string, required bool) Option {
	return func(opts *options) {
		opts.configFile = ConfigFile{Path: path, Required: required}
	}
}

func WithDisableSSM(disable bool) Option {
	return func(opts *options) {
		opts.disableSSM = disable
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() *Database { return &Database{} },
//	    func(db *Database) *Service { return &Service{DB: db} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	ctx        context.Context
	logger     zerolog.Logger
	configFile ConfigFile
	disableSSM bool
	providers  []any
}
