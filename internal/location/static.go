package location

import (
	"fmt"
	"net/url"
	"sync"
)

// Static is an in-memory Location backed by a URL. It records every
// replace-state and navigation so callers can act on them afterwards.
type Static struct {
	mu       sync.Mutex
	u        *url.URL
	replaced []string
	assigned []string
}

// NewStatic parses rawURL into a Static location.
func NewStatic(rawURL string) (*Static, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse location %q: %w", rawURL, err)
	}
	return &Static{u: u}, nil
}

// MustStatic is like NewStatic but panics on a malformed URL.
func MustStatic(rawURL string) *Static {
	s, err := NewStatic(rawURL)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Static) Query() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u.Query()
}

func (s *Static) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u.Path
}

func (s *Static) ReplaceState(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.u.Path = path
	s.u.RawQuery = ""
	s.replaced = append(s.replaced, path)
}

func (s *Static) Assign(target string) error {
	if _, err := url.Parse(target); err != nil {
		return fmt.Errorf("failed to navigate to %q: %w", target, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigned = append(s.assigned, target)
	return nil
}

// URL returns the current visible URL.
func (s *Static) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u.String()
}

// Replaced returns every path passed to ReplaceState, oldest first.
func (s *Static) Replaced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replaced...)
}

// Assigned returns every navigation target, oldest first.
func (s *Static) Assigned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.assigned...)
}
