// Package libserver is the recording library service: it accepts uploaded
// recordings and serves the list of stored recordings and their encoded
// variants.
package libserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/memovox/memovox/internal/library"
	"github.com/memovox/memovox/internal/logger"
)

// maxUploadBytes bounds a single uploaded variant.
const maxUploadBytes = 64 << 20

// Config holds server configuration
type Config struct {
	Host            string        // Interface to bind
	Port            int           // Port to listen on (0 = random)
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	ShutdownTimeout time.Duration // Graceful shutdown timeout
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            18600,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server manages the HTTP library service
type Server struct {
	config     Config
	store      *Store
	log        *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	port       int
	mu         sync.Mutex
	running    bool
}

// New creates a new library server
func New(config Config, store *Store, log *logger.Logger) *Server {
	return &Server{
		config: config,
		store:  store,
		log:    log,
		port:   config.Port,
	}
}

// Handler returns the service's HTTP handler. Exposed so tests can mount it
// on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/", s.handleVariant)
	return corsMiddleware(mux)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		s.log.Info("Library service listening on http://%s:%d", s.config.Host, s.port)
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Library service error: %v", err)
		}
	}()

	s.running = true
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.running = false
	return nil
}

// Port returns the port the server is listening on
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// URL returns the full URL to the server
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.Port())
}

// handleRecordings handles GET (list) and POST (upload) /api/recordings
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRecordings(w, r)
	case http.MethodPost:
		s.uploadRecording(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// listRecordings returns the stored recordings with per-variant playable
// addresses built against the request host.
func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	entries := s.store.List()

	out := make([]library.Entry, 0, len(entries))
	for _, e := range entries {
		variants := make(map[string]library.Variant, len(e.Variants))
		for _, tag := range e.tags() {
			v := e.Variants[tag]
			variants[tag] = library.Variant{
				URL:      fmt.Sprintf("http://%s/api/recordings/%s/%s", r.Host, e.ID, tag),
				MimeType: v.MimeType,
				Size:     int64(len(v.Data)),
			}
		}
		out = append(out, library.Entry{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			UploadedAt:  e.UploadedAt,
			Variants:    variants,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recordings": out,
	})
}

// uploadRecording accepts one multipart-encoded variant upload.
func (s *Server) uploadRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		http.Error(w, "Missing recording name", http.StatusBadRequest)
		return
	}

	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		http.Error(w, "Missing mime type", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read upload: %v", err), http.StatusBadRequest)
		return
	}

	entry := s.store.Put(name, mimeType, data)
	s.log.Info("Stored recording %q (%s, %d bytes) as entry %s", name, mimeType, len(data), entry.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "success",
		"id":     entry.ID,
	})
}

// handleVariant handles GET /api/recordings/{id}/{tag}
func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}

	variant, ok := s.store.Variant(parts[0], parts[1])
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", variant.MimeType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(variant.Data)))
	w.Write(variant.Data)
}

// corsMiddleware allows browser clients served from other local origins to
// reach the service.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
