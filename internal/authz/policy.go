package authz

import (
	"fmt"
	"strings"
)

// Profile represents user information needed for authorization.
// This mirrors the auth.User fields but keeps packages decoupled.
type Profile struct {
	Sub           string
	Name          string
	Email         string
	EmailVerified bool
}

// Policy defines an authorization rule that can allow or deny access.
type Policy interface {
	// Authorize returns nil if the user is authorized, or an error if denied.
	Authorize(profile Profile) error
	// Name returns a human-readable name for this policy.
	Name() string
}

// EmailPolicy restricts access to an allow-list of email addresses or
// domains. Entries starting with "@" match a whole domain.
type EmailPolicy struct {
	Allowed []string
	// RequireVerified rejects profiles whose email the provider has not verified.
	RequireVerified bool
}

// Name returns the policy name.
func (p *EmailPolicy) Name() string {
	return "EmailAllowList"
}

// Authorize checks the profile email against the allow-list.
func (p *EmailPolicy) Authorize(profile Profile) error {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		return fmt.Errorf("access denied: profile %s has no email", profile.Sub)
	}
	if p.RequireVerified && !profile.EmailVerified {
		return fmt.Errorf("access denied: email %s is not verified", email)
	}

	for _, allowed := range p.Allowed {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if strings.HasPrefix(allowed, "@") && strings.HasSuffix(email, allowed) {
			return nil
		}
		if email == allowed {
			return nil
		}
	}
	return fmt.Errorf("access denied: email %s is not authorized", email)
}

// Authorizer manages a collection of authorization policies.
type Authorizer struct {
	policies []Policy
	enabled  bool
}

// NewAuthorizer creates a new authorizer with the given policies.
func NewAuthorizer(enabled bool, policies ...Policy) *Authorizer {
	return &Authorizer{
		policies: policies,
		enabled:  enabled,
	}
}

// Authorize runs all policies and returns an error if any policy denies access.
func (a *Authorizer) Authorize(profile Profile) error {
	if !a.enabled {
		return nil
	}

	for _, policy := range a.policies {
		if err := policy.Authorize(profile); err != nil {
			return fmt.Errorf("authorization policy %s failed: %w", policy.Name(), err)
		}
	}
	return nil
}

// NewEmailAuthorizer creates an authorizer for a comma separated allow-list.
// It returns nil when the list is empty, meaning every authenticated user is
// allowed.
func NewEmailAuthorizer(allowList string) *Authorizer {
	var allowed []string
	for _, s := range strings.Split(allowList, ",") {
		if s = strings.TrimSpace(s); s != "" {
			allowed = append(allowed, s)
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return NewAuthorizer(true, &EmailPolicy{Allowed: allowed, RequireVerified: true})
}
