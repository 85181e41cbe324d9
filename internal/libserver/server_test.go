package libserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/memovox/memovox/internal/library"
	"github.com/memovox/memovox/internal/logger"
)

func testServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()

	log, err := logger.New(logger.Config{LogDir: t.TempDir(), Level: logger.ERROR, RetentionDays: 1})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	store := NewStore()
	srv := httptest.NewServer(New(DefaultConfig(), store, log).Handler())
	t.Cleanup(srv.Close)

	return srv, store
}

func TestUploadListRoundTrip(t *testing.T) {
	srv, _ := testServer(t)
	client := library.New(srv.URL, library.Normalizer{})

	payload := []byte("encoded-aac-bytes")
	if err := client.Upload(context.Background(), "standup notes", "audio/mp4", payload); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	entries, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.DisplayName != "standup notes" {
		t.Errorf("Expected display name to round-trip, got %q", entry.DisplayName)
	}

	variant, ok := entry.Variants["aac"]
	if !ok {
		t.Fatalf("Expected aac variant, got %v", entry.Variants)
	}
	if variant.Size != int64(len(payload)) {
		t.Errorf("Expected size %d, got %d", len(payload), variant.Size)
	}
	if variant.MimeType != "audio/mp4" {
		t.Errorf("Expected mime audio/mp4, got %q", variant.MimeType)
	}

	// The advertised address must serve the exact bytes back
	data, err := client.Fetch(context.Background(), variant.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("Fetched bytes differ from upload")
	}
}

func TestUpload_AppendsVariant(t *testing.T) {
	srv, _ := testServer(t)
	client := library.New(srv.URL, library.Normalizer{})

	if err := client.Upload(context.Background(), "memo", "audio/mp4", []byte("aac")); err != nil {
		t.Fatalf("Upload aac failed: %v", err)
	}
	if err := client.Upload(context.Background(), "memo", "audio/ogg", []byte("opus!")); err != nil {
		t.Fatalf("Upload opus failed: %v", err)
	}

	entries, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("Expected one logical entry, got %d", len(entries))
	}
	if len(entries[0].Variants) != 2 {
		t.Fatalf("Expected two variants, got %v", entries[0].Variants)
	}
	if entries[0].Variants["opus"].Size != 5 {
		t.Errorf("Expected opus variant size 5, got %d", entries[0].Variants["opus"].Size)
	}
}

func TestListOrder(t *testing.T) {
	srv, _ := testServer(t)
	client := library.New(srv.URL, library.Normalizer{})

	for _, name := range []string{"first", "second", "third"} {
		if err := client.Upload(context.Background(), name, "audio/mp4", []byte(name)); err != nil {
			t.Fatalf("Upload %s failed: %v", name, err)
		}
	}

	entries, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].DisplayName != want {
			t.Errorf("Entry %d: expected %q, got %q", i, want, entries[i].DisplayName)
		}
	}
}

func TestVariant_NotFound(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/recordings/nope/aac")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestVariant_ContentType(t *testing.T) {
	srv, store := testServer(t)
	entry := store.Put("memo", "audio/ogg", []byte("opus-bytes"))

	resp, err := http.Get(srv.URL + "/api/recordings/" + entry.ID + "/opus")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/ogg" {
		t.Errorf("Expected Content-Type audio/ogg, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "opus-bytes" {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestUpload_MissingFields(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/api/recordings", "multipart/form-data; boundary=x", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
