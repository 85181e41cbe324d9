package transcode

import (
	"fmt"
	"os"
	"sync"
)

// Artifact is one encoded audio result: the bytes, their declared type, and
// a revocable playable address (a file under the artifact directory).
type Artifact struct {
	Bytes    []byte
	MimeType string
	Size     int64

	mu       sync.Mutex
	address  string
	released bool
}

// Address returns the artifact's playable address, or "" once released.
func (a *Artifact) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return ""
	}
	return a.address
}

// Released reports whether the playable address has been revoked.
func (a *Artifact) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Release revokes the playable address, removing the backing file. Calling
// Release again is a no-op; the address is never reused.
func (a *Artifact) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released {
		return nil
	}
	a.released = true

	if a.address == "" {
		return nil
	}
	if err := os.Remove(a.address); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release artifact address: %w", err)
	}
	return nil
}
