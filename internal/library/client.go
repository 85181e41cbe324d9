// Package library is the client for the remote recording library: listing
// stored recordings, uploading new ones and fetching variant bytes for
// playback.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"
)

// TransportError wraps any failure talking to the library service. The core
// does not interpret transport status beyond success/failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("library %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Variant is one encoded representation of a stored recording.
type Variant struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Entry is one stored recording with its available variants, keyed by
// format tag. Entries are read-only to the client; variant selection state
// lives with the caller.
type Entry struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"display_name"`
	UploadedAt  time.Time          `json:"uploaded_at"`
	Variants    map[string]Variant `json:"variants"`
}

// PreferredVariant picks the entry's variant tag: the first tag of the
// preference order the entry actually has, falling back to the smallest
// available tag. ok is false when the entry has no variants at all.
func PreferredVariant(e Entry, order []string) (string, bool) {
	for _, tag := range order {
		if _, ok := e.Variants[tag]; ok {
			return tag, true
		}
	}

	if len(e.Variants) == 0 {
		return "", false
	}

	tags := make([]string, 0, len(e.Variants))
	for tag := range e.Variants {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags[0], true
}

// listResponse is the wire shape of the list endpoint.
type listResponse struct {
	Recordings []Entry `json:"recordings"`
}

// Client talks to the library service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	normalizer Normalizer
}

// New creates a library client. The normalizer is applied when resolving a
// stored playable address for fetching; pass the zero value when addresses
// are reachable as stored.
func New(baseURL string, normalizer Normalizer) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		normalizer: normalizer,
	}
}

// List returns the stored recordings in server order.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/recordings", nil)
	if err != nil {
		return nil, &TransportError{Op: "list", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "list", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "list", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &TransportError{Op: "list", Err: err}
	}

	return body.Recordings, nil
}

// Upload submits one encoded recording. The server derives the variant tag
// from the declared mime type.
func (c *Client) Upload(ctx context.Context, displayName, mimeType string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("name", displayName); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	if err := writer.WriteField("mime_type", mimeType); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}

	part, err := writer.CreateFormFile("file", displayName)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	if err := writer.Close(); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/recordings", &buf)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &TransportError{Op: "upload", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	return nil
}

// Fetch resolves a stored playable address and returns the variant bytes.
// The address is normalized for the current runtime before the request.
func (c *Client) Fetch(ctx context.Context, address string) ([]byte, error) {
	resolved, err := c.normalizer.Rewrite(address)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "fetch", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	return data, nil
}
