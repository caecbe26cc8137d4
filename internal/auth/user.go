package auth

import (
	"time"
)

// User is the profile decoded from the ID token.
type User struct {
	Sub           string         `json:"sub"`
	Name          string         `json:"name,omitempty"`
	Nickname      string         `json:"nickname,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
	Claims        map[string]any `json:"claims,omitempty"`
}

// Entry is the cached result of a successful login.
type Entry struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry"`
	User         *User     `json:"user"`
}

// fresh reports whether the access token is still usable at now.
func (e *Entry) fresh(now time.Time) bool {
	if e.AccessToken == "" {
		return false
	}
	if e.Expiry.IsZero() {
		return true
	}
	return now.Add(expiryLeeway).Before(e.Expiry)
}

// Transaction is the state kept between LoginWithRedirect and the callback.
type Transaction struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	Scope        string    `json:"scope"`
	Audience     string    `json:"audience,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
