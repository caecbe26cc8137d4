// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// It simplifies container setup and provides type-safe dependency retrieval with generics.
package di

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
// This interface allows for easy testing and mocking of the DI container.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet returns an instance constructed via dependency injection or panics.
// This is a convenience function for retrieving a dependency from the container
// when you're certain it exists. If the dependency cannot be resolved, it will panic.
//
// Example:
//
//	facade := MustGet[*session.Facade](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// Get is like MustGet but returns the resolution error.
func Get[T any](container Container) (want T, err error) {
	err = container.Invoke(func(got T) {
		want = got
	})
	return want, err
}

// New creates a new dependency injection container for the given environment.
// The environment string is automatically registered as a string dependency
// that can be injected as a regular string parameter. The core providers for
// the auth session are always registered; they are only constructed on demand.
//
// Example:
//
//	container, err := New("production",
//	    WithConfigFile("authsession.yaml", true),
//	    WithDisableSSM(true),
//	)
func New(env string, opts ...Option) (Container, error) {
	o := options{
		ctx:    context.Background(),
		logger: ProvideLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()
	if err := container.Provide(func() string { return env }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() zerolog.Logger { return o.logger }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(logger zerolog.Logger) context.Context { return logger.WithContext(o.ctx) }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() ConfigFile { return o.configFile }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() DisableSSM { return DisableSSM(o.disableSSM) }); err != nil {
		return nil, err
	}

	for _, provider := range core {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

var core = []any{
	ProvideSSMClient,
	ProvideParameterStore,
	ProvideConfig,
	ProvideKeyProvider,
	ProvideSecretRotator,
	ProvideSessionKeys,
	ProvideCache,
	ProvideProvider,
	ProvideAuthorizer,
	ProvideClientFactory,
	ProvideFacade,
	ProvideSessionStore,
	ProvideHandler,
}
