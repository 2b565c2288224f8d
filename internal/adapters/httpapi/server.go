// Package httpapi exposes the coordination service over HTTP with JSON
// bodies, and streams live snapshots over websockets.
package httpapi

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/bnema/hiddenprofile/internal/feed"
	"github.com/gorilla/websocket"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	service  *application.Service
	notifier *feed.Notifier
	token    string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	ping     time.Duration
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPingInterval sets how often idle feed connections are pinged.
func WithPingInterval(interval time.Duration) Option {
	return func(s *Server) {
		s.ping = interval
	}
}

// NewServer builds the API. token guards the instructor routes; an empty
// token disables them.
func NewServer(service *application.Service, notifier *feed.Notifier, token string, opts ...Option) *Server {
	s := &Server{
		service:  service,
		notifier: notifier,
		token:    token,
		logger:   slog.New(slog.DiscardHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		ping: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "httpapi")

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/catalog", s.handleCatalog)

	mux.Handle("POST /v1/sessions", s.instructor(s.handleCreateSession))
	mux.HandleFunc("GET /v1/sessions/active", s.handleActiveSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.Handle("GET /v1/sessions/{id}/board", s.instructor(s.handleBoard))
	mux.Handle("GET /v1/sessions/{id}/report", s.instructor(s.handleReport))
	mux.Handle("POST /v1/sessions/{id}/start", s.instructor(s.handleStartTask))
	mux.HandleFunc("POST /v1/sessions/{id}/participants", s.handleJoin)
	mux.HandleFunc("GET /v1/sessions/{id}/participants", s.handleListParticipants)
	mux.HandleFunc("GET /v1/sessions/{id}/participants/{pid}/view", s.handleParticipantView)
	mux.HandleFunc("GET /v1/sessions/{id}/groups", s.handleListGroups)
	mux.HandleFunc("GET /v1/sessions/{id}/decisions", s.handleListDecisions)

	mux.HandleFunc("GET /v1/groups/{id}", s.handleGetGroup)
	mux.HandleFunc("POST /v1/groups/{id}/ready", s.handleMarkReady)
	mux.HandleFunc("POST /v1/groups/{id}/decision", s.handleSubmitDecision)
	mux.HandleFunc("POST /v1/groups/{id}/approval", s.handleApprove)
	mux.HandleFunc("POST /v1/groups/{id}/ratings", s.handleSubmitRatings)

	mux.Handle("DELETE /v1/data", s.instructor(s.handleReset))

	mux.HandleFunc("GET /v1/feed/{collection}", s.handleFeed)

	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("serving", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}

	return nil
}

func (s *Server) instructor(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			writeJSONError(w, http.StatusForbidden, "forbidden", "instructor routes are disabled")
			return
		}

		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="hiddenprofile"`)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "instructor token required")
			return
		}

		next(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		level := slog.LevelInfo
		if recorder.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(started),
		)
	})
}

// NewToken returns a random URL-safe instructor token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
