// Package gateway exposes the merge queue over HTTP: the GitHub webhook
// receiver, the queue snapshot API, and the websocket stream dashboards
// subscribe to.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shunt-ci/shunt/internal/adapters/github"
	"github.com/shunt-ci/shunt/internal/logging"
	"github.com/shunt-ci/shunt/internal/pipeline"
)

// maxWebhookBody caps webhook payloads; GitHub's own limit is 25 MB but
// queue events are far smaller.
const maxWebhookBody = 1 << 20

// WebhookDispatcher consumes verified GitHub webhook deliveries. The
// GitHub worker implements it.
type WebhookDispatcher interface {
	HandleWebhook(ctx context.Context, event string, payload []byte) error
}

// SnapshotFunc produces the queue view served by /api/queue and pushed
// over /ws.
type SnapshotFunc func() ([]pipeline.PipelineSnapshot, error)

// Server is the gateway HTTP server. It receives GitHub webhooks, serves
// queue snapshots, and streams them to websocket subscribers. Server is
// safe for concurrent use.
type Server struct {
	config        *Config
	dispatcher    WebhookDispatcher
	snapshots     SnapshotFunc
	webhookSecret string
	upgrader      websocket.Upgrader
	server        *http.Server
	log           *slog.Logger

	mu          sync.RWMutex
	running     bool
	subscribers map[chan []pipeline.PipelineSnapshot]struct{}
}

// Config holds gateway server configuration including network binding options.
type Config struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1" or "0.0.0.0").
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// NewServer creates a new gateway server with the given configuration.
// The server is not started until Start is called.
func NewServer(config *Config, opts ...ServerOption) *Server {
	s := &Server{
		config:      config,
		subscribers: make(map[chan []pipeline.PipelineSnapshot]struct{}),
		log:         logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Allow requests with no origin (same-origin, CLI tools, etc.)
				if origin == "" {
					return true
				}
				// Allow localhost origins for development
				if strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1") {
					return true
				}
				// Reject all other origins - external sites cannot connect
				return false
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption is a functional option for configuring Server.
type ServerOption func(*Server)

// WithDispatcher sets the consumer of verified webhook deliveries.
func WithDispatcher(d WebhookDispatcher) ServerOption {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// WithSnapshots sets the source of queue snapshots.
func WithSnapshots(fn SnapshotFunc) ServerOption {
	return func(s *Server) {
		s.snapshots = fn
	}
}

// WithWebhookSecret sets the shared secret webhook signatures are
// verified against. An empty secret disables verification.
func WithWebhookSecret(secret string) ServerOption {
	return func(s *Server) {
		s.webhookSecret = secret
	}
}

// Start starts the gateway server and blocks until the context is
// cancelled or an error occurs. Returns an error if the server fails to
// start or is already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("gateway starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// routes builds the endpoint mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/queue", s.handleQueue)
	mux.HandleFunc("/webhooks/github", s.handleGithubWebhook)
	mux.HandleFunc("/ws", s.handleStream)
	return mux
}

// Shutdown gracefully shuts down the server with a 30-second timeout.
// It waits for active connections to complete before returning.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.running = false
	return s.server.Shutdown(ctx)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// handleQueue returns the current snapshot of every pipeline
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.snapshots == nil {
		http.Error(w, "Queue not available", http.StatusServiceUnavailable)
		return
	}

	snaps, err := s.snapshots()
	if err != nil {
		s.log.Error("failed to snapshot queue", slog.Any("error", err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snaps)
}

// handleGithubWebhook receives webhooks from GitHub, verifies their
// signature, and hands the raw payload to the dispatcher.
func (s *Server) handleGithubWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !github.VerifyWebhookSignature(body, r.Header.Get("X-Hub-Signature-256"), s.webhookSecret) {
		s.log.Warn("webhook signature mismatch")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		http.Error(w, "Missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}
	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		delivery = uuid.NewString()
	}

	s.log.Info("received webhook",
		slog.String("event", event), slog.String("delivery", delivery))

	if s.dispatcher == nil {
		http.Error(w, "Webhook handling not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.dispatcher.HandleWebhook(r.Context(), event, body); err != nil {
		s.log.Warn("webhook rejected",
			slog.String("delivery", delivery), slog.Any("error", err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
