// Package docstore serves single JSON documents over HTTP in the shape of a
// jsonbin-style API, so a self-hosted instance can stand in for the hosted
// remote store.
//
// Routes:
//
//	GET  /b/{id}          stored document (404 if none)
//	GET  /b/{id}/latest   same as GET /b/{id}
//	PUT  /b/{id}          replace the document
//	POST /b/{id}          replace the document
//	GET  /health          liveness
//
// Responses are wrapped as {"record": ..., "metadata": ...} unless the
// request carries X-Bin-Meta: false. When a token is configured every
// request under /b/ must send it as X-Master-Key.
package docstore

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mschirtzinger/todosync/internal/localstore"
	"github.com/mschirtzinger/todosync/internal/model"
)

// maxDocumentSize bounds request bodies.
const maxDocumentSize = 5 * 1024 * 1024

// keyPrefix namespaces documents in the backing store.
const keyPrefix = "bin:"

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default 127.0.0.1:8787)
	Addr string

	// Token required in X-Master-Key; empty disables auth.
	Token string

	// Logger for request activity (default: stderr, "[docstore] " prefix)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8787",
		Logger: log.New(os.Stderr, "[docstore] ", log.LstdFlags),
	}
}

// Server stores documents in a localstore.Store.
type Server struct {
	store  localstore.Store
	token  string
	addr   string
	logger *log.Logger

	// mu orders writes so a replace is atomic with respect to reads.
	mu sync.RWMutex

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New creates a server over store.
func New(store localstore.Store, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}
	return &Server{
		store:  store,
		token:  config.Token,
		addr:   addr,
		logger: logger,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /b/{id}", s.getDocument)
	mux.HandleFunc("GET /b/{id}/latest", s.getDocument)
	mux.HandleFunc("PUT /b/{id}", s.putDocument)
	mux.HandleFunc("POST /b/{id}", s.putDocument)
	mux.HandleFunc("GET /health", s.health)
	return withCORS(s.withAuth(mux))
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Document server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	s.logger.Println("Document server stopped")
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// withCORS lets browser clients talk to the server directly.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Master-Key, X-Bin-Meta")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && strings.HasPrefix(r.URL.Path, "/b/") {
			got := r.Header.Get("X-Master-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing X-Master-Key")
				return
			}
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.RLock()
	raw, ok, err := s.store.Get(keyPrefix + id)
	s.mu.RUnlock()
	if err != nil {
		s.logger.Printf("Error reading %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to read document")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	s.writeRecord(w, r, http.StatusOK, id, json.RawMessage(raw))
}

func (s *Server) putDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxDocumentSize {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}

	doc, err := decodeDocument(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode document")
		return
	}

	s.mu.Lock()
	err = s.store.Set(keyPrefix+id, string(data))
	s.mu.Unlock()
	if err != nil {
		s.logger.Printf("Error writing %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	s.logger.Printf("Stored %s (lastUpdate=%s, %d categories)", id, doc.LastUpdate, len(doc.Categories))
	s.writeRecord(w, r, http.StatusOK, id, json.RawMessage(data))
}

// decodeDocument checks that body is a todo document with a usable
// timestamp. Categories are not validated.
func decodeDocument(body []byte) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if doc.LastUpdate == "" {
		return nil, errors.New("lastUpdate is required")
	}
	if _, err := doc.Time(); err != nil {
		return nil, err
	}
	if doc.Categories == nil {
		doc.Categories = []model.Category{}
	}
	return &doc, nil
}

type recordMetadata struct {
	ID      string `json:"id"`
	Private bool   `json:"private"`
}

func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, status int, id string, record json.RawMessage) {
	if strings.EqualFold(r.Header.Get("X-Bin-Meta"), "false") {
		writeJSON(w, status, record)
		return
	}
	writeJSON(w, status, map[string]interface{}{
		"record":   record,
		"metadata": recordMetadata{ID: id, Private: s.token != ""},
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
