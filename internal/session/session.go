// Package session implements the auth session facade: one lazily built
// identity client per process and a small set of operations that never
// surface provider errors to the caller.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/auth"
	"github.com/savaki/authsession/internal/location"
	"golang.org/x/sync/singleflight"
)

// Factory constructs the identity client.
type Factory func(ctx context.Context) (auth.Client, error)

// Options are the per-call values the facade passes to the client.
type Options struct {
	RedirectURI string
	LogoutURI   string
	Audience    string
	LoginParams map[string]string
}

// State is the outcome of Init.
type State struct {
	Authenticated bool       `json:"authenticated"`
	User          *auth.User `json:"user,omitempty"`
}

// Facade is safe for concurrent use.
type Facade struct {
	factory Factory
	opts    Options

	group  singleflight.Group
	mu     sync.RWMutex
	client auth.Client
}

// New returns a facade that builds its client with factory on first use.
func New(factory Factory, opts Options) *Facade {
	return &Facade{
		factory: factory,
		opts:    opts,
	}
}

func (f *Facade) current() auth.Client {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.client
}

// Client returns the identity client, constructing it on the first call.
// Concurrent first calls share one construction. A failed construction is
// returned to every waiter and retried by the next call.
func (f *Facade) Client(ctx context.Context) (auth.Client, error) {
	if c := f.current(); c != nil {
		return c, nil
	}

	v, err, _ := f.group.Do("client", func() (any, error) {
		if c := f.current(); c != nil {
			return c, nil
		}

		// shared by every waiter, so one caller's cancellation must not fail the rest
		c, err := f.factory(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.client = c
		f.mu.Unlock()

		zerolog.Ctx(ctx).Debug().Msg("identity client ready")
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(auth.Client), nil
}

// Ready reports whether the client has been constructed.
func (f *Facade) Ready() bool {
	return f.current() != nil
}

// Login navigates the page in ctx to the hosted login page. Failures are
// logged and no navigation happens.
func (f *Facade) Login(ctx context.Context) {
	done(f.login(ctx)).orDefault(ctx, "login", struct{}{})
}

func (f *Facade) login(ctx context.Context) error {
	client, err := f.Client(ctx)
	if err != nil {
		return err
	}
	return client.LoginWithRedirect(ctx, auth.LoginOptions{
		RedirectURI: f.opts.RedirectURI,
		Audience:    f.opts.Audience,
		Params:      f.opts.LoginParams,
	})
}

// Logout clears the session and sends the page to the provider's logout
// endpoint, which returns to the configured logout URI.
func (f *Facade) Logout(ctx context.Context) {
	done(f.logout(ctx)).orDefault(ctx, "logout", struct{}{})
}

func (f *Facade) logout(ctx context.Context) error {
	client, err := f.Client(ctx)
	if err != nil {
		return err
	}
	return client.Logout(ctx, auth.LogoutOptions{ReturnTo: f.opts.LogoutURI})
}

// HandleRedirectCallback completes the login when the page location carries
// both code and state. The query string is stripped afterwards whatever the
// outcome. It returns true only when the exchange succeeded.
func (f *Facade) HandleRedirectCallback(ctx context.Context) bool {
	loc, ok := location.FromContext(ctx)
	if !ok {
		zerolog.Ctx(ctx).Debug().Msg("no page location, skipping redirect callback")
		return false
	}

	query := loc.Query()
	if !location.HasCallbackParams(query) {
		return false
	}
	defer loc.ReplaceState(loc.Path())

	return attempt(func() (bool, error) {
		client, err := f.Client(ctx)
		if err != nil {
			return false, err
		}
		if _, err := client.HandleRedirectCallback(ctx, query); err != nil {
			return false, err
		}
		return true, nil
	}).orDefault(ctx, "handle_redirect_callback", false)
}

// discardCallback strips pending callback parameters without exchanging
// them, so a reload does not replay a code that can no longer be redeemed.
func (f *Facade) discardCallback(ctx context.Context) {
	loc, ok := location.FromContext(ctx)
	if !ok || !location.HasCallbackParams(loc.Query()) {
		return
	}
	loc.ReplaceState(loc.Path())
}

// IsAuthenticated returns false when the client cannot answer.
func (f *Facade) IsAuthenticated(ctx context.Context) bool {
	return attempt(func() (bool, error) {
		client, err := f.Client(ctx)
		if err != nil {
			return false, err
		}
		return client.IsAuthenticated(ctx)
	}).orDefault(ctx, "is_authenticated", false)
}

// User returns the signed in user, or nil.
func (f *Facade) User(ctx context.Context) *auth.User {
	return attempt(func() (*auth.User, error) {
		client, err := f.Client(ctx)
		if err != nil {
			return nil, err
		}
		return client.GetUser(ctx)
	}).orDefault(ctx, "get_user", nil)
}

// Token returns an access token obtained without user interaction.
func (f *Facade) Token(ctx context.Context) (string, bool) {
	token := attempt(func() (string, error) {
		client, err := f.Client(ctx)
		if err != nil {
			return "", err
		}
		return client.GetTokenSilently(ctx)
	}).orDefault(ctx, "get_token", "")
	return token, token != ""
}

// Init runs once per page load: build the client, finish a pending redirect
// callback, then report the session state.
func (f *Facade) Init(ctx context.Context) State {
	logger := zerolog.Ctx(ctx)

	if _, err := f.Client(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to initialize identity client")
		f.discardCallback(ctx)
		return State{}
	}

	handled := f.HandleRedirectCallback(ctx)
	logger.Debug().Bool("handled_callback", handled).Msg("redirect callback checked")

	state := State{Authenticated: f.IsAuthenticated(ctx)}
	if state.Authenticated {
		state.User = f.User(ctx)
		if state.User != nil {
			logger.Info().Str("user", state.User.Name).Msg("user authenticated")
		}
	}
	return state
}
