package location

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// Request is a Location bound to an inbound HTTP request. Navigation and
// replace-state are buffered until Flush turns them into a redirect.
type Request struct {
	r *http.Request

	mu       sync.Mutex
	target   string
	replaced string
	dirty    bool
}

// FromRequest wraps r.
func FromRequest(r *http.Request) *Request {
	return &Request{r: r}
}

func (l *Request) Query() url.Values {
	return l.r.URL.Query()
}

func (l *Request) Path() string {
	return l.r.URL.Path
}

func (l *Request) ReplaceState(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaced = path
	l.dirty = true
}

func (l *Request) Assign(target string) error {
	if _, err := url.Parse(target); err != nil {
		return fmt.Errorf("failed to navigate to %q: %w", target, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target = target
	return nil
}

// Navigation returns the pending navigation target, if any.
func (l *Request) Navigation() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target, l.target != ""
}

// Replaced reports whether ReplaceState was called and with which path.
func (l *Request) Replaced() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replaced, l.dirty
}

// Flush writes a redirect for any pending navigation or replace-state and
// reports whether it wrote a response. Navigation wins over replace-state.
func (l *Request) Flush(w http.ResponseWriter) bool {
	if target, ok := l.Navigation(); ok {
		http.Redirect(w, l.r, target, http.StatusFound)
		return true
	}
	if path, ok := l.Replaced(); ok {
		http.Redirect(w, l.r, path, http.StatusSeeOther)
		return true
	}
	return false
}
