// Package location models the page location a session runs against: the
// query string the identity provider redirects back with, the visible path,
// and navigation away from the page.
package location

import (
	"context"
	"net/url"
)

// Location is the contract between the session facade and the page hosting it.
type Location interface {
	// Query returns the parsed query string of the current location.
	Query() url.Values
	// Path returns the path of the current location without the query string.
	Path() string
	// ReplaceState rewrites the visible location to path, dropping the query
	// string, without navigating.
	ReplaceState(path string)
	// Assign navigates away from the page to target.
	Assign(target string) error
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying loc.
func WithContext(ctx context.Context, loc Location) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

// FromContext returns the Location stored in ctx, if any.
func FromContext(ctx context.Context) (Location, bool) {
	loc, ok := ctx.Value(ctxKey{}).(Location)
	return loc, ok && loc != nil
}

// HasCallbackParams reports whether the query carries both an authorization
// code and a state parameter.
func HasCallbackParams(query url.Values) bool {
	return query.Has("code") && query.Has("state")
}
