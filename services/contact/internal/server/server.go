package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"leadmachine/internal/ratelimit"
	"leadmachine/internal/util"
	"leadmachine/services/contact/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter throttles submissions per client IP. Nil disables the limit.
	Limiter        ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the contact form endpoint.
type Server struct {
	app            *app.App
	limiter        ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/contact", s.handleContact)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("contact", 10*time.Second, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type contactResponse struct {
	Success    bool   `json:"success"`
	AIResponse string `json:"ai_response"`
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.limiter != nil && !s.limiter.Allow(util.RateLimitKey("contact", r, s.trustedProxies)) {
		slog.Warn("security_event", "event", "contact.submit", "outcome", "rate_limited", "ip", util.ClientIP(r, s.trustedProxies), "request_id", util.RequestIDFromRequest(r))
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many messages, please try again later")
		return
	}
	var sub app.Submission
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.Submit(r.Context(), sub)
	if err != nil {
		if errors.Is(err, app.ErrMissingFields) {
			writeError(w, http.StatusBadRequest, "All fields are required")
			return
		}
		util.LoggerFromContext(r.Context()).Error("contact_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, contactResponse{Success: true, AIResponse: msg.AIResponse})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
