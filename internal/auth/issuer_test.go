package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clock is a settable time source shared by the fake issuer and the client.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type grant struct {
	challenge string
	nonce     string
	clientID  string
}

// fakeIssuer is a minimal OIDC provider: discovery, JWKS and a token
// endpoint supporting authorization_code (with PKCE) and refresh_token.
type fakeIssuer struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey
	clock  *clock

	mu              sync.Mutex
	codes           map[string]grant
	refreshTokens   map[string]bool
	issued          int
	tokenRequests   int
	refreshCount    int
	accessTTL       time.Duration
	omitIDOnRefresh bool
	name            string
	email           string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{
		t:             t,
		key:           key,
		clock:         &clock{now: time.Now()},
		codes:         map[string]grant{},
		refreshTokens: map[string]bool{},
		accessTTL:     time.Hour,
		name:          "Ada",
		email:         "ada@example.com",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", f.handleDiscovery)
	mux.HandleFunc("GET /jwks", f.handleJWKS)
	mux.HandleFunc("POST /oauth/token", f.handleToken)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

// Provider returns a Provider pointing at the fake issuer.
func (f *fakeIssuer) Provider() Provider {
	return &testProvider{issuer: f.server.URL}
}

type testProvider struct {
	issuer string
}

func (p *testProvider) GetIssuerURL() string { return p.issuer }
func (p *testProvider) GetLogoutURL(clientID, returnTo string) string {
	return p.issuer + "/v2/logout?" + url.Values{"client_id": {clientID}, "returnTo": {returnTo}}.Encode()
}
func (p *testProvider) GetProviderType() string { return "test" }

// Authorize plays the hosted login page: it accepts the authorize URL the
// client navigated to and returns the callback query.
func (f *fakeIssuer) Authorize(authURL string) url.Values {
	f.t.Helper()

	u, err := url.Parse(authURL)
	require.NoError(f.t, err)
	q := u.Query()
	require.Equal(f.t, "S256", q.Get("code_challenge_method"))

	f.mu.Lock()
	f.issued++
	code := fmt.Sprintf("code-%d", f.issued)
	f.codes[code] = grant{
		challenge: q.Get("code_challenge"),
		nonce:     q.Get("nonce"),
		clientID:  q.Get("client_id"),
	}
	f.mu.Unlock()

	return url.Values{"code": {code}, "state": {q.Get("state")}}
}

func (f *fakeIssuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                f.server.URL,
		"authorization_endpoint":                f.server.URL + "/authorize",
		"token_endpoint":                        f.server.URL + "/oauth/token",
		"jwks_uri":                              f.server.URL + "/jwks",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenRequests++

	clientID := r.PostForm.Get("client_id")

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		g, ok := f.codes[r.PostForm.Get("code")]
		delete(f.codes, r.PostForm.Get("code"))
		if !ok || g.clientID != clientID {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "pkce"})
			return
		}
		writeJSON(w, http.StatusOK, f.tokenResponse(clientID, g.nonce, true))

	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !f.refreshTokens[rt] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(f.refreshTokens, rt)
		f.refreshCount++
		writeJSON(w, http.StatusOK, f.tokenResponse(clientID, "", !f.omitIDOnRefresh))

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (f *fakeIssuer) tokenResponse(clientID, nonce string, withIDToken bool) map[string]any {
	n := f.tokenRequests
	refresh := fmt.Sprintf("refresh-%d", n)
	f.refreshTokens[refresh] = true

	resp := map[string]any{
		"access_token":  fmt.Sprintf("access-%d", n),
		"token_type":    "Bearer",
		"expires_in":    int(f.accessTTL.Seconds()),
		"refresh_token": refresh,
		"scope":         "openid profile email offline_access repo",
	}
	if withIDToken {
		resp["id_token"] = f.sign(clientID, nonce)
	}
	return resp
}

func (f *fakeIssuer) sign(clientID, nonce string) string {
	now := f.clock.Now()
	claims := map[string]any{
		"iss":            f.server.URL,
		"sub":            "auth0|ada",
		"aud":            clientID,
		"iat":            now.Unix(),
		"exp":            now.Add(10 * time.Hour).Unix(),
		"name":           f.name,
		"email":          f.email,
		"email_verified": true,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	header, _ := json.Marshal(map[string]string{"alg": "RS256", "kid": "test", "typ": "JWT"})
	payload, _ := json.Marshal(claims)
	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)

	hash := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, hash[:])
	require.NoError(f.t, err)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
