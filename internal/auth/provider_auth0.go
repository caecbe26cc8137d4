package auth

import (
	"fmt"
	"net/url"
	"strings"
)

// Auth0Provider implements the Provider interface for Auth0.
type Auth0Provider struct {
	Domain string // Auth0 domain, with or without scheme (e.g., "your-tenant.us.auth0.com")
}

// host strips any scheme and trailing slash from the configured domain.
func (p *Auth0Provider) host() string {
	host := strings.TrimSpace(p.Domain)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}

// GetIssuerURL returns the Auth0 OIDC issuer URL.
func (p *Auth0Provider) GetIssuerURL() string {
	return fmt.Sprintf("https://%s/", p.host())
}

// GetLogoutURL returns the Auth0-specific logout URL.
// Auth0 requires calling their /v2/logout endpoint to end the Auth0 session,
// not just the local one.
func (p *Auth0Provider) GetLogoutURL(clientID, returnTo string) string {
	logoutURL := fmt.Sprintf("https://%s/v2/logout", p.host())
	params := url.Values{}
	params.Add("client_id", clientID)
	if returnTo != "" {
		params.Add("returnTo", returnTo)
	}
	return fmt.Sprintf("%s?%s", logoutURL, params.Encode())
}

// GetProviderType returns "auth0".
func (p *Auth0Provider) GetProviderType() string {
	return "auth0"
}
