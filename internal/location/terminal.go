package location

import (
	"fmt"
	"io"
)

// Terminal is the Location used by the command line: navigation is printed
// for the user to open in a browser.
type Terminal struct {
	*Static
	out io.Writer
}

// NewTerminal returns a Terminal positioned at rawURL, writing navigation
// targets to out.
func NewTerminal(rawURL string, out io.Writer) (*Terminal, error) {
	s, err := NewStatic(rawURL)
	if err != nil {
		return nil, err
	}
	return &Terminal{Static: s, out: out}, nil
}

func (t *Terminal) Assign(target string) error {
	if err := t.Static.Assign(target); err != nil {
		return err
	}
	_, err := fmt.Fprintf(t.out, "Open the following URL in your browser:\n\n  %s\n\n", target)
	return err
}
