package library

import (
	"fmt"
	"net/url"
)

// Normalizer rewrites stored playable addresses for the current runtime's
// network identity. A recording stored against the service's own hostname
// may need a different host when the client runs elsewhere (for example an
// emulator reaching its host machine).
type Normalizer struct {
	// FromHost is the host (host or host:port) as it appears in stored
	// addresses. Empty disables rewriting.
	FromHost string
	// ToHost is the host reachable from this runtime.
	ToHost string
}

// Rewrite returns an equivalent address reachable from this runtime.
func (n Normalizer) Rewrite(address string) (string, error) {
	if n.FromHost == "" || n.FromHost == n.ToHost {
		return address, nil
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("unparseable playable address %q: %w", address, err)
	}

	if u.Host != n.FromHost {
		return address, nil
	}

	u.Host = n.ToHost
	return u.String(), nil
}
