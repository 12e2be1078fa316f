// Package passphrase resolves keystore passphrases for the command-line
// binaries.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves the router keystore passphrase once and caches the result.
// Resolution order: the configured environment variable, then an interactive
// prompt when stdin is a terminal.
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource builds a Source that consults envVar before prompting.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// Get returns the passphrase, resolving it on first use. Whitespace-only
// passphrases are rejected so keystores are never silently unprotected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	return s.prompt()
}

func (s *Source) prompt() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("router keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("router keystore passphrase required and no terminal available")
	}
	fmt.Fprint(os.Stderr, "Enter router keystore passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errors.New("router keystore passphrase cannot be empty")
	}
	return string(raw), nil
}
