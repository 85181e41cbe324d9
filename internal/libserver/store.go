package libserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tagForMime maps a declared mime type to the variant's format tag.
var tagForMime = map[string]string{
	"audio/mp4":  "aac",
	"audio/ogg":  "opus",
	"audio/mpeg": "mp3",
	"audio/wav":  "wav",
}

// storedVariant is one encoded representation held in memory.
type storedVariant struct {
	MimeType string
	Data     []byte
}

// storedEntry is one logical recording with its variants.
type storedEntry struct {
	ID          string
	DisplayName string
	UploadedAt  time.Time
	Variants    map[string]storedVariant
}

// Store holds uploaded recordings in memory, ordered by upload time.
type Store struct {
	mu      sync.RWMutex
	entries []*storedEntry
	byName  map[string]*storedEntry
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byName: make(map[string]*storedEntry),
		now:    time.Now,
	}
}

// Put stores one uploaded variant. Uploading a display name again appends a
// variant to the existing entry; a repeated tag replaces that variant's
// bytes.
func (s *Store) Put(displayName, mimeType string, data []byte) *storedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byName[displayName]
	if !ok {
		entry = &storedEntry{
			ID:          uuid.NewString(),
			DisplayName: displayName,
			UploadedAt:  s.now(),
			Variants:    make(map[string]storedVariant),
		}
		s.entries = append(s.entries, entry)
		s.byName[displayName] = entry
	}

	tag, ok := tagForMime[mimeType]
	if !ok {
		tag = mimeType
	}

	entry.Variants[tag] = storedVariant{
		MimeType: mimeType,
		Data:     append([]byte(nil), data...),
	}

	return entry
}

// List returns the stored entries in upload order.
func (s *Store) List() []*storedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*storedEntry(nil), s.entries...)
}

// Variant returns one stored variant's bytes and mime type.
func (s *Store) Variant(id, tag string) (storedVariant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.ID == id {
			v, ok := entry.Variants[tag]
			return v, ok
		}
	}
	return storedVariant{}, false
}

// tags returns an entry's variant tags sorted for stable JSON output.
func (e *storedEntry) tags() []string {
	tags := make([]string, 0, len(e.Variants))
	for tag := range e.Variants {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
