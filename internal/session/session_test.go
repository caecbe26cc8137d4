package session

import (
	"context"
	stderrors "errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/savaki/authsession/internal/auth"
	"github.com/savaki/authsession/internal/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProvider = stderrors.New("provider unavailable")

type fakeClient struct {
	mu            sync.Mutex
	authenticated bool
	user          *auth.User
	token         string
	err           error
	exchangeErr   error
	exchanged     []url.Values
	logins        []auth.LoginOptions
	logouts       []auth.LogoutOptions
}

func (c *fakeClient) LoginWithRedirect(ctx context.Context, opts auth.LoginOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.logins = append(c.logins, opts)
	if loc, ok := location.FromContext(ctx); ok {
		return loc.Assign("https://idp.example.com/authorize")
	}
	return nil
}

func (c *fakeClient) Logout(ctx context.Context, opts auth.LogoutOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.logouts = append(c.logouts, opts)
	c.authenticated = false
	return nil
}

func (c *fakeClient) HandleRedirectCallback(ctx context.Context, query url.Values) (*auth.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanged = append(c.exchanged, query)
	if c.exchangeErr != nil {
		return nil, c.exchangeErr
	}
	c.authenticated = true
	return c.user, nil
}

func (c *fakeClient) IsAuthenticated(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated, c.err
}

func (c *fakeClient) GetUser(ctx context.Context) (*auth.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if !c.authenticated {
		return nil, nil
	}
	return c.user, nil
}

func (c *fakeClient) GetTokenSilently(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.token, nil
}

func factoryFor(client auth.Client, calls *int32) Factory {
	return func(ctx context.Context) (auth.Client, error) {
		atomic.AddInt32(calls, 1)
		return client, nil
	}
}

func pageContext(t *testing.T, rawURL string) (context.Context, *location.Static) {
	t.Helper()
	loc := location.MustStatic(rawURL)
	return location.WithContext(context.Background(), loc), loc
}

func TestClient_ConstructOnce(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	client := &fakeClient{}

	f := New(func(ctx context.Context) (auth.Client, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return client, nil
	}, Options{})
	assert.False(t, f.Ready())

	const n = 16
	var wg sync.WaitGroup
	got := make([]auth.Client, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.Client(context.Background())
			assert.NoError(t, err)
			got[i] = c
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, c := range got {
		assert.Same(t, client, c)
	}
	assert.True(t, f.Ready())

	// later operations reuse the handle
	f.IsAuthenticated(context.Background())
	f.User(context.Background())
	f.Token(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_FailureNotMemoized(t *testing.T) {
	var calls int32
	client := &fakeClient{}
	f := New(func(ctx context.Context) (auth.Client, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errProvider
		}
		return client, nil
	}, Options{})

	_, err := f.Client(context.Background())
	assert.ErrorIs(t, err, errProvider)
	assert.False(t, f.Ready())

	c, err := f.Client(context.Background())
	require.NoError(t, err)
	assert.Same(t, client, c)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_CallerCancellationIsNotShared(t *testing.T) {
	client := &fakeClient{}
	started := make(chan struct{})
	release := make(chan struct{})
	f := New(func(ctx context.Context) (auth.Client, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return client, nil
	}, Options{})

	first, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := f.Client(first)
		errs <- err
	}()
	<-started
	cancel()
	close(release)

	require.NoError(t, <-errs)
	c, err := f.Client(context.Background())
	require.NoError(t, err)
	assert.Same(t, client, c)
}

func TestHandleRedirectCallback(t *testing.T) {
	t.Run("missing params leave the url alone", func(t *testing.T) {
		for _, raw := range []string{
			"https://site.example.com/docs/",
			"https://site.example.com/docs/?code=abc",
			"https://site.example.com/docs/?state=xyz",
		} {
			client := &fakeClient{}
			var calls int32
			f := New(factoryFor(client, &calls), Options{})
			ctx, loc := pageContext(t, raw)

			assert.False(t, f.HandleRedirectCallback(ctx))
			assert.Empty(t, loc.Replaced(), raw)
			assert.Empty(t, client.exchanged, raw)
			assert.Equal(t, raw, loc.URL())
		}
	})

	t.Run("success strips query", func(t *testing.T) {
		client := &fakeClient{user: &auth.User{Name: "Ada"}}
		var calls int32
		f := New(factoryFor(client, &calls), Options{})
		ctx, loc := pageContext(t, "https://site.example.com/docs/?code=abc&state=xyz")

		assert.True(t, f.HandleRedirectCallback(ctx))
		assert.Equal(t, []string{"/docs/"}, loc.Replaced())
		assert.Equal(t, "https://site.example.com/docs/", loc.URL())
		require.Len(t, client.exchanged, 1)
		assert.Equal(t, "abc", client.exchanged[0].Get("code"))
	})

	t.Run("failed exchange still strips query", func(t *testing.T) {
		client := &fakeClient{exchangeErr: errProvider}
		var calls int32
		f := New(factoryFor(client, &calls), Options{})
		ctx, loc := pageContext(t, "https://site.example.com/docs/?code=abc&state=xyz")

		assert.False(t, f.HandleRedirectCallback(ctx))
		assert.Equal(t, []string{"/docs/"}, loc.Replaced())
	})

	t.Run("construction failure still strips query", func(t *testing.T) {
		f := New(func(ctx context.Context) (auth.Client, error) { return nil, errProvider }, Options{})
		ctx, loc := pageContext(t, "https://site.example.com/?code=abc&state=xyz")

		assert.False(t, f.HandleRedirectCallback(ctx))
		assert.Equal(t, []string{"/"}, loc.Replaced())
	})

	t.Run("no location", func(t *testing.T) {
		client := &fakeClient{}
		var calls int32
		f := New(factoryFor(client, &calls), Options{})
		assert.False(t, f.HandleRedirectCallback(context.Background()))
		assert.Empty(t, client.exchanged)
	})
}

func TestSafeDefaults(t *testing.T) {
	failing := map[string]Factory{
		"provider failure": func(ctx context.Context) (auth.Client, error) {
			return &fakeClient{err: errProvider, authenticated: true, token: "tok", user: &auth.User{Name: "Ada"}}, nil
		},
		"construction failure": func(ctx context.Context) (auth.Client, error) {
			return nil, errProvider
		},
	}

	for name, factory := range failing {
		t.Run(name, func(t *testing.T) {
			f := New(factory, Options{})
			ctx, loc := pageContext(t, "https://site.example.com/")

			assert.False(t, f.IsAuthenticated(ctx))
			assert.Nil(t, f.User(ctx))
			token, ok := f.Token(ctx)
			assert.False(t, ok)
			assert.Empty(t, token)

			assert.NotPanics(t, func() { f.Login(ctx) })
			assert.NotPanics(t, func() { f.Logout(ctx) })
			assert.Empty(t, loc.Assigned())

			assert.Equal(t, State{}, f.Init(ctx))
		})
	}
}

func TestLoginLogout(t *testing.T) {
	client := &fakeClient{authenticated: true}
	var calls int32
	f := New(factoryFor(client, &calls), Options{
		RedirectURI: "https://site.example.com/docs/",
		LogoutURI:   "https://site.example.com/docs/bye",
		Audience:    "https://api.example.com",
		LoginParams: map[string]string{"screen_hint": "signup"},
	})
	ctx, loc := pageContext(t, "https://site.example.com/docs/")

	f.Login(ctx)
	require.Len(t, client.logins, 1)
	assert.Equal(t, "https://site.example.com/docs/", client.logins[0].RedirectURI)
	assert.Equal(t, "https://api.example.com", client.logins[0].Audience)
	assert.Equal(t, "signup", client.logins[0].Params["screen_hint"])
	assert.Equal(t, []string{"https://idp.example.com/authorize"}, loc.Assigned())

	f.Logout(ctx)
	require.Len(t, client.logouts, 1)
	assert.Equal(t, "https://site.example.com/docs/bye", client.logouts[0].ReturnTo)
	assert.False(t, f.IsAuthenticated(ctx))
}

func TestToken(t *testing.T) {
	client := &fakeClient{token: "access-1"}
	var calls int32
	f := New(factoryFor(client, &calls), Options{})

	token, ok := f.Token(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "access-1", token)
}

func TestInit(t *testing.T) {
	t.Run("callback present", func(t *testing.T) {
		client := &fakeClient{user: &auth.User{Name: "Ada"}}
		var calls int32
		f := New(factoryFor(client, &calls), Options{})
		ctx, loc := pageContext(t, "https://site.example.com/?code=abc&state=xyz")

		state := f.Init(ctx)
		assert.True(t, state.Authenticated)
		require.NotNil(t, state.User)
		assert.Equal(t, "Ada", state.User.Name)
		assert.Equal(t, []string{"/"}, loc.Replaced())
	})

	t.Run("no params and signed out", func(t *testing.T) {
		client := &fakeClient{user: &auth.User{Name: "Ada"}}
		var calls int32
		f := New(factoryFor(client, &calls), Options{})
		ctx, loc := pageContext(t, "https://site.example.com/")

		assert.Equal(t, State{Authenticated: false, User: nil}, f.Init(ctx))
		assert.Empty(t, loc.Replaced())
		assert.Empty(t, client.exchanged)
	})

	t.Run("already signed in", func(t *testing.T) {
		client := &fakeClient{authenticated: true, user: &auth.User{Name: "Ada"}}
		var calls int32
		f := New(factoryFor(client, &calls), Options{})
		ctx, _ := pageContext(t, "https://site.example.com/")

		state := f.Init(ctx)
		assert.True(t, state.Authenticated)
		assert.Equal(t, "Ada", state.User.Name)
		assert.Empty(t, client.exchanged)
	})

	t.Run("construction failure strips callback params", func(t *testing.T) {
		var calls int32
		f := New(func(ctx context.Context) (auth.Client, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errProvider
		}, Options{})
		ctx, loc := pageContext(t, "http://localhost:4321/docs/?code=abc&state=xyz")

		assert.Equal(t, State{}, f.Init(ctx))
		assert.Equal(t, []string{"/docs/"}, loc.Replaced())
		assert.Equal(t, "http://localhost:4321/docs/", loc.URL())
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("construction failure without callback leaves the url alone", func(t *testing.T) {
		f := New(func(ctx context.Context) (auth.Client, error) {
			return nil, errProvider
		}, Options{})
		ctx, loc := pageContext(t, "http://localhost:4321/docs/")

		assert.Equal(t, State{}, f.Init(ctx))
		assert.Empty(t, loc.Replaced())
	})

	t.Run("runs repeatedly on one handle", func(t *testing.T) {
		client := &fakeClient{}
		var calls int32
		f := New(factoryFor(client, &calls), Options{})
		for range 3 {
			ctx, _ := pageContext(t, "https://site.example.com/")
			f.Init(ctx)
		}
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})
}
