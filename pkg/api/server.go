// Package api serves the HTTP surface of the bridge.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/dispatch"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/session"
)

// Readiness confirms the session is usable right before a request is served.
type Readiness interface {
	ConfirmReady(ctx context.Context) bool
}

type Sender interface {
	Send(ctx context.Context, req dispatch.Request) error
}

type Options struct {
	Host      string
	Port      int
	Token     string
	Readiness Readiness
	Sender    Sender
	State     *session.State
	Events    *bus.EventBus
	Metrics   *metrics.Metrics
	// Restart tears the client down and brings it back; nil disables POST /restart.
	Restart func(ctx context.Context)
}

type Server struct {
	opts       Options
	hub        *Hub
	httpServer *http.Server
	startTime  time.Time
}

func NewServer(opts Options) *Server {
	return &Server{
		opts:      opts,
		hub:       NewHub(opts.Events),
		startTime: time.Now(),
	}
}

// Handler builds the routed handler with CORS and request ids applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /test", s.handleTest)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /qr", s.authMiddleware(s.handleQR))
	mux.HandleFunc("POST /restart", s.authMiddleware(s.handleRestart))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.hub.handleWebSocket))
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
	return c.Handler(requestID(mux))
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Sends wait for uploads and the per-send timeout.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		logger.InfoCF("api", "HTTP server started", map[string]interface{}{
			"address": addr,
		})
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "HTTP server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
		logger.InfoC("api", "HTTP server stopped")
	}
}

type authResult int

const (
	authOK authResult = iota
	authMissing
	authInvalid
)

// checkToken accepts a bearer header. Websocket upgrades may pass the token as a query
// parameter instead since browsers cannot set headers on them; no other request does,
// so tokens stay out of URLs and access logs.
func (s *Server) checkToken(r *http.Request) authResult {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if websocket.IsWebSocketUpgrade(r) {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return authMissing
	}
	if s.opts.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
		return authInvalid
	}
	return authOK
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	switch s.checkToken(r) {
	case authMissing:
		logger.WarnCF("api", "No token provided", requestFields(r))
		writeError(w, http.StatusUnauthorized, "No token provided")
		return false
	case authInvalid:
		logger.WarnCF("api", "Invalid token", requestFields(r))
		writeError(w, http.StatusForbidden, "Invalid token")
		return false
	}
	return true
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(w, r) {
			return
		}
		next(w, r)
	}
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestFields(r *http.Request) map[string]interface{} {
	fields := map[string]interface{}{
		"path": r.URL.Path,
	}
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		fields["request_id"] = id
	}
	return fields
}
