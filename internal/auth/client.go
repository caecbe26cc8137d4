package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/authz"
	"github.com/savaki/authsession/internal/cache"
	"github.com/savaki/authsession/internal/errors"
	"github.com/savaki/authsession/internal/location"
	"golang.org/x/oauth2"
)

const (
	cachePrefix     = "@@authsession@@"
	defaultAudience = "default"
	scopeOffline    = "offline_access"

	// expiryLeeway treats access tokens this close to expiry as expired.
	expiryLeeway = 60 * time.Second
)

// Client is the identity client surface the session facade drives.
type Client interface {
	// LoginWithRedirect navigates the page in ctx to the hosted login page.
	LoginWithRedirect(ctx context.Context, opts LoginOptions) error
	// Logout clears the local session and navigates to the provider logout page.
	Logout(ctx context.Context, opts LogoutOptions) error
	// HandleRedirectCallback completes the code exchange for the callback query.
	HandleRedirectCallback(ctx context.Context, query url.Values) (*User, error)
	// IsAuthenticated reports whether a usable session is cached.
	IsAuthenticated(ctx context.Context) (bool, error)
	// GetUser returns the cached user, or nil when there is no usable session.
	GetUser(ctx context.Context) (*User, error)
	// GetTokenSilently returns an access token without user interaction.
	GetTokenSilently(ctx context.Context) (string, error)
}

// LoginOptions customize a single login redirect.
type LoginOptions struct {
	RedirectURI string            // overrides the client redirect URI
	Audience    string            // API audience to request
	Params      map[string]string // extra authorize parameters (e.g. screen_hint, prompt)
}

// LogoutOptions customize logout.
type LogoutOptions struct {
	ReturnTo  string // where the provider sends the browser afterwards
	LocalOnly bool   // clear the cache without navigating to the provider
}

// ClientInput configures NewClient.
type ClientInput struct {
	Provider         Provider
	ClientID         string
	RedirectURI      string
	Scope            string // space separated, merged with openid profile email
	Audience         string
	UseRefreshTokens bool
	Cache            cache.Cache
	Authorizer       *authz.Authorizer // optional post-login policy enforcement
	HTTPClient       *http.Client      // optional, used for discovery and token requests
	Now              func() time.Time
}

// OIDCClient implements Client on top of OIDC discovery and the OAuth2
// authorization code flow with PKCE.
type OIDCClient struct {
	provider         Provider
	verifier         *oidc.IDTokenVerifier
	oauth2Config     oauth2.Config
	cache            cache.Cache
	authorizer       *authz.Authorizer
	audience         string
	useRefreshTokens bool
	httpClient       *http.Client
	now              func() time.Time

	refreshMu sync.Mutex
}

// NewClient discovers the provider's endpoints and returns a ready client.
func NewClient(ctx context.Context, input ClientInput) (*OIDCClient, error) {
	if input.Provider == nil {
		return nil, fmt.Errorf("%w: provider is required", errors.ErrInvalidConfig)
	}
	if input.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", errors.ErrInvalidConfig)
	}
	if input.RedirectURI == "" {
		return nil, fmt.Errorf("%w: redirect uri is required", errors.ErrInvalidConfig)
	}

	c := &OIDCClient{
		provider:         input.Provider,
		cache:            input.Cache,
		authorizer:       input.Authorizer,
		audience:         input.Audience,
		useRefreshTokens: input.UseRefreshTokens,
		httpClient:       input.HTTPClient,
		now:              input.Now,
	}
	if c.cache == nil {
		c.cache = cache.NewMemoryCache()
	}
	if c.now == nil {
		c.now = time.Now
	}

	issuerURL := input.Provider.GetIssuerURL()
	logger := zerolog.Ctx(ctx)

	logger.Info().
		Str("provider_type", input.Provider.GetProviderType()).
		Str("issuer_url", issuerURL).
		Msg("Initializing OIDC provider")

	oidcProvider, err := oidc.NewProvider(c.httpContext(ctx), issuerURL)
	if err != nil {
		logger.Error().
			Err(err).
			Str("issuer_url", issuerURL).
			Str("provider_type", input.Provider.GetProviderType()).
			Msg("Failed to create OIDC provider")
		return nil, fmt.Errorf("failed to create OIDC provider for %s: %w", issuerURL, err)
	}

	// public client: no secret, client_id travels in the form body
	endpoint := oidcProvider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	c.oauth2Config = oauth2.Config{
		ClientID:    input.ClientID,
		RedirectURL: input.RedirectURI,
		Endpoint:    endpoint,
		Scopes:      MergeScopes(input.Scope, input.UseRefreshTokens),
	}
	c.verifier = oidcProvider.Verifier(&oidc.Config{
		ClientID: input.ClientID,
		Now:      c.now,
	})

	logger.Info().
		Str("auth_url", endpoint.AuthURL).
		Str("token_url", endpoint.TokenURL).
		Str("redirect_uri", input.RedirectURI).
		Strs("scopes", c.oauth2Config.Scopes).
		Bool("refresh_tokens", input.UseRefreshTokens).
		Msg("Identity client initialized")

	return c, nil
}

// MergeScopes returns openid profile email followed by the scopes in scope,
// with offline_access appended when refresh tokens are requested. Duplicates
// are dropped, first occurrence wins.
func MergeScopes(scope string, offline bool) []string {
	all := append([]string{oidc.ScopeOpenID, "profile", "email"}, strings.Fields(scope)...)
	if offline {
		all = append(all, scopeOffline)
	}

	seen := make(map[string]struct{}, len(all))
	merged := make([]string, 0, len(all))
	for _, s := range all {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	return merged
}

func (c *OIDCClient) httpContext(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, c.httpClient)
}

func (c *OIDCClient) entryKey(audience string) string {
	if audience == "" {
		audience = defaultAudience
	}
	return fmt.Sprintf("%s::%s::%s::%s", cachePrefix, c.oauth2Config.ClientID, audience, strings.Join(c.oauth2Config.Scopes, " "))
}

func (c *OIDCClient) transactionKey() string {
	return fmt.Sprintf("%s::tx::%s", cachePrefix, c.oauth2Config.ClientID)
}

// generateState creates a random value for state and nonce parameters
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *OIDCClient) LoginWithRedirect(ctx context.Context, opts LoginOptions) error {
	logger := zerolog.Ctx(ctx)

	loc, ok := location.FromContext(ctx)
	if !ok {
		return errors.ErrNoLocation
	}

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := generateState()
	if err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	redirectURI := opts.RedirectURI
	if redirectURI == "" {
		redirectURI = c.oauth2Config.RedirectURL
	}
	audience := opts.Audience
	if audience == "" {
		audience = c.audience
	}

	tx := Transaction{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: oauth2.GenerateVerifier(),
		RedirectURI:  redirectURI,
		Scope:        strings.Join(c.oauth2Config.Scopes, " "),
		Audience:     audience,
		CreatedAt:    c.now(),
	}
	if err := c.saveJSON(ctx, c.transactionKey(), tx); err != nil {
		return fmt.Errorf("failed to save login transaction: %w", err)
	}

	authOpts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(tx.CodeVerifier),
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	}
	if audience != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("audience", audience))
	}
	for k, v := range opts.Params {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}

	authURL := c.oauth2Config.AuthCodeURL(state, authOpts...)
	logger.Info().
		Str("provider", c.provider.GetProviderType()).
		Str("redirect_uri", redirectURI).
		Msg("Redirecting to identity provider for login")

	return loc.Assign(authURL)
}

func (c *OIDCClient) HandleRedirectCallback(ctx context.Context, query url.Values) (*User, error) {
	logger := zerolog.Ctx(ctx)

	var tx Transaction
	if err := c.loadJSON(ctx, c.transactionKey(), &tx); err != nil {
		if stderrors.Is(err, errors.ErrCacheMiss) {
			return nil, errors.ErrMissingTransaction
		}
		return nil, err
	}

	// a transaction is single use, whatever the outcome
	if err := c.cache.Delete(ctx, c.transactionKey()); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete login transaction")
	}

	if code := query.Get("error"); code != "" {
		return nil, fmt.Errorf("%w: %s: %s", errors.ErrAuthorization, code, query.Get("error_description"))
	}

	if query.Get("state") != tx.State {
		return nil, errors.ErrStateMismatch
	}

	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: code not found in callback", errors.ErrAuthorization)
	}

	token, err := c.oauth2Config.Exchange(c.httpContext(ctx), code,
		oauth2.VerifierOption(tx.CodeVerifier),
		oauth2.SetAuthURLParam("redirect_uri", tx.RedirectURI),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	entry, err := c.entryFromToken(ctx, token, tx.Nonce, nil)
	if err != nil {
		return nil, err
	}

	if c.authorizer != nil {
		profile := authz.Profile{
			Sub:           entry.User.Sub,
			Name:          entry.User.Name,
			Email:         entry.User.Email,
			EmailVerified: entry.User.EmailVerified,
		}
		if err := c.authorizer.Authorize(profile); err != nil {
			logger.Warn().
				Err(err).
				Str("sub", profile.Sub).
				Str("email", profile.Email).
				Msg("User authorization failed")
			return nil, fmt.Errorf("%w: %v", errors.ErrAuthorization, err)
		}
	}

	if err := c.saveJSON(ctx, c.entryKey(tx.Audience), entry); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	logger.Info().Str("sub", entry.User.Sub).Msg("User authenticated successfully")
	return entry.User, nil
}

// entryFromToken verifies the ID token carried by token and builds a cache
// entry. When previous is set (refresh), a response without an ID token
// keeps the previous identity.
func (c *OIDCClient) entryFromToken(ctx context.Context, token *oauth2.Token, nonce string, previous *Entry) (*Entry, error) {
	entry := &Entry{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		entry.Scope = scope
	}
	if ttl, ok := expiresIn(token); ok {
		entry.Expiry = c.now().Add(ttl)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		if previous == nil {
			return nil, errors.ErrMissingIDToken
		}
		entry.IDToken = previous.IDToken
		entry.User = previous.User
		return entry, nil
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, errors.ErrNonceMismatch
	}

	var user User
	if err := idToken.Claims(&user); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}
	if err := idToken.Claims(&user.Claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	entry.IDToken = rawIDToken
	entry.User = &user
	return entry, nil
}

// expiresIn reads the raw expires_in of a token response so expiry is
// computed against the client clock.
func expiresIn(token *oauth2.Token) (time.Duration, bool) {
	var secs int64
	switch v := token.Extra("expires_in").(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		secs = n
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// usable reports whether entry can still yield an access token silently.
func (c *OIDCClient) usable(entry *Entry) bool {
	if entry.fresh(c.now()) {
		return true
	}
	return c.useRefreshTokens && entry.RefreshToken != ""
}

func (c *OIDCClient) IsAuthenticated(ctx context.Context) (bool, error) {
	user, err := c.GetUser(ctx)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

func (c *OIDCClient) GetUser(ctx context.Context) (*User, error) {
	entry, err := c.loadEntry(ctx, c.entryKey(c.audience))
	if stderrors.Is(err, errors.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !c.usable(entry) {
		return nil, nil
	}
	return entry.User, nil
}

func (c *OIDCClient) GetTokenSilently(ctx context.Context) (string, error) {
	key := c.entryKey(c.audience)

	entry, err := c.loadEntry(ctx, key)
	if stderrors.Is(err, errors.ErrCacheMiss) {
		return "", errors.ErrLoginRequired
	}
	if err != nil {
		return "", err
	}
	if entry.fresh(c.now()) {
		return entry.AccessToken, nil
	}
	if !c.useRefreshTokens || entry.RefreshToken == "" {
		return "", errors.ErrLoginRequired
	}

	entry, err = c.refresh(ctx, key)
	if err != nil {
		return "", err
	}
	return entry.AccessToken, nil
}

// refresh exchanges the cached refresh token for a new access token. Only one
// refresh runs at a time so a rotated refresh token is never replayed.
func (c *OIDCClient) refresh(ctx context.Context, key string) (*Entry, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	logger := zerolog.Ctx(ctx)

	entry, err := c.loadEntry(ctx, key)
	if stderrors.Is(err, errors.ErrCacheMiss) {
		return nil, errors.ErrLoginRequired
	}
	if err != nil {
		return nil, err
	}
	if entry.fresh(c.now()) {
		return entry, nil
	}
	if entry.RefreshToken == "" {
		return nil, errors.ErrLoginRequired
	}

	src := c.oauth2Config.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: entry.RefreshToken})
	token, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if stderrors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			logger.Info().Msg("Refresh token rejected, clearing session")
			if err := c.cache.Delete(ctx, key); err != nil {
				logger.Warn().Err(err).Msg("Failed to clear rejected session")
			}
			return nil, fmt.Errorf("%w: %v", errors.ErrLoginRequired, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	updated, err := c.entryFromToken(ctx, token, "", entry)
	if err != nil {
		return nil, err
	}
	if err := c.saveJSON(ctx, key, updated); err != nil {
		return nil, fmt.Errorf("failed to save refreshed session: %w", err)
	}

	logger.Debug().Time("expiry", updated.Expiry).Msg("Access token refreshed")
	return updated, nil
}

func (c *OIDCClient) Logout(ctx context.Context, opts LogoutOptions) error {
	logger := zerolog.Ctx(ctx)

	if err := c.cache.Delete(ctx, c.entryKey(c.audience)); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if opts.LocalOnly {
		logger.Info().Msg("Local session cleared")
		return nil
	}

	loc, ok := location.FromContext(ctx)
	if !ok {
		return errors.ErrNoLocation
	}

	returnTo := opts.ReturnTo
	if returnTo == "" {
		returnTo = c.oauth2Config.RedirectURL
	}
	logoutURL := c.provider.GetLogoutURL(c.oauth2Config.ClientID, returnTo)

	logger.Info().
		Str("logout_url", logoutURL).
		Str("provider", c.provider.GetProviderType()).
		Msg("Logging out user")

	return loc.Assign(logoutURL)
}

func (c *OIDCClient) loadEntry(ctx context.Context, key string) (*Entry, error) {
	var entry Entry
	if err := c.loadJSON(ctx, key, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *OIDCClient) loadJSON(ctx context.Context, key string, v any) error {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return nil
}

func (c *OIDCClient) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, key, data)
}
