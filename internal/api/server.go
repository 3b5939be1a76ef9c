// Package api exposes the score service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/arcade-scoregate/internal/protocol"
)

// maxBodyBytes bounds request bodies. A long run sends a few thousand
// input timestamps.
const maxBodyBytes = 1 << 20

// ReadyFunc reports whether the backing stores are reachable.
type ReadyFunc func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Service *protocol.Service
	// LeaderboardLimit is the number of standings GET /api/leaderboard returns.
	LeaderboardLimit int
	// AdminTokenHash is a bcrypt hash; empty disables /admin.
	AdminTokenHash string
	AllowedOrigins []string
	RequestTimeout time.Duration
	Ready          ReadyFunc
	Logger         *log.Logger
	SecurityOutput io.Writer
}

// Server holds the HTTP handlers.
type Server struct {
	svc              *protocol.Service
	leaderboardLimit int
	adminTokenHash   []byte
	allowedOrigins   []string
	requestTimeout   time.Duration
	ready            ReadyFunc
	errorHandler     *ErrorHandler
	logger           *log.Logger
	securityLogger   *SecurityLogger
	startTime        time.Time
}

// NewServer builds a Server from opts.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)
	}
	secOut := opts.SecurityOutput
	if secOut == nil {
		secOut = os.Stdout
	}
	securityLogger := NewSecurityLogger(secOut)

	limit := opts.LeaderboardLimit
	if limit <= 0 || limit > protocol.MaxLeaderboardSize {
		limit = protocol.MaxLeaderboardSize
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ready := opts.Ready
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}

	var adminHash []byte
	if h := strings.TrimSpace(opts.AdminTokenHash); h != "" {
		adminHash = []byte(h)
	}

	return &Server{
		svc:              opts.Service,
		leaderboardLimit: limit,
		adminTokenHash:   adminHash,
		allowedOrigins:   opts.AllowedOrigins,
		requestTimeout:   timeout,
		ready:            ready,
		errorHandler:     NewErrorHandler(logger, securityLogger),
		logger:           logger,
		securityLogger:   securityLogger,
		startTime:        time.Now(),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.LoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(s.CORSMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/version", s.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Post("/game/start", s.handleStart)
		r.Post("/game/submit", s.handleSubmit)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/user/score", s.handleUserScore)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/sessions/cleanup", s.handleSessionCleanup)
	})

	return r
}

// decodeJSON reads a single JSON object from the body into dst.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewError(ErrTypeInput, "Invalid request body").WithReason(describeDecodeError(err)).Build()
	}
	if dec.More() {
		return NewError(ErrTypeInput, "Invalid request body").WithReason("body must contain a single JSON object").Build()
	}
	return nil
}

func describeDecodeError(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %s must be %s", typeErr.Field, typeErr.Type)
	case errors.As(err, &maxErr):
		return fmt.Sprintf("body exceeds %d bytes", maxErr.Limit)
	case errors.Is(err, io.EOF):
		return "body is empty"
	default:
		return err.Error()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Service-Version", Version)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("response_encode_failed err=%v", err)
	}
}
