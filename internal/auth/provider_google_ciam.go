package auth

// GoogleCIAMProvider implements the Provider interface for Google Cloud
// Identity Platform. Browser logins are issued by accounts.google.com, so
// discovery and token verification go there rather than securetoken.google.com.
type GoogleCIAMProvider struct{}

// GetIssuerURL returns the Google accounts issuer.
func (p *GoogleCIAMProvider) GetIssuerURL() string {
	return "https://accounts.google.com"
}

// GetLogoutURL returns returnTo: Google has no centralized logout endpoint,
// the session ends when the local cache is cleared.
func (p *GoogleCIAMProvider) GetLogoutURL(clientID, returnTo string) string {
	return returnTo
}

// GetProviderType returns "google-ciam".
func (p *GoogleCIAMProvider) GetProviderType() string {
	return "google-ciam"
}
