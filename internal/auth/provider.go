package auth

// Provider defines the interface for OAuth/OIDC providers.
// Different providers (Auth0, Google CIAM, etc.) implement this interface
// to provide provider-specific configuration and behavior.
type Provider interface {
	// GetIssuerURL returns the OIDC issuer URL for this provider.
	// This is used to discover the provider's OAuth2 endpoints.
	GetIssuerURL() string

	// GetLogoutURL returns the provider-specific logout URL.
	// clientID: OAuth client identifier
	// returnTo: URL to redirect to after logout
	GetLogoutURL(clientID, returnTo string) string

	// GetProviderType returns the provider type identifier (e.g., "auth0", "google-ciam").
	GetProviderType() string
}

// NewProvider returns the Provider registered under providerType.
func NewProvider(providerType, domain string) (Provider, bool) {
	switch providerType {
	case "", "auth0":
		return &Auth0Provider{Domain: domain}, true
	case "google-ciam":
		return &GoogleCIAMProvider{}, true
	default:
		return nil, false
	}
}
