package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadmachine/internal/ratelimit"
	"leadmachine/internal/servicetoken"
	"leadmachine/internal/util"
	"leadmachine/pkg/domain"
	"leadmachine/pkg/export"
	"leadmachine/services/leads/internal/app"
)

// TokenVerifier resolves the caller behind a bearer access token.
type TokenVerifier interface {
	VerifyUser(token string) (domain.User, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier TokenVerifier
	// GenerateLimiter throttles generations per user. Nil disables the limit.
	GenerateLimiter ratelimit.Limiter
	// InternalVerifier authorizes /internal calls. Nil rejects them.
	InternalVerifier *servicetoken.Verifier
	TrustedProxies   *util.TrustedProxies
}

// Server exposes HTTP endpoints for the leads service.
type Server struct {
	app             *app.App
	tokenVerifier   TokenVerifier
	generateLimiter ratelimit.Limiter
	internalVerify  *servicetoken.Verifier
	trustedProxies  *util.TrustedProxies
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier is required")
	}
	s := &Server{
		app:             cfg.App,
		tokenVerifier:   cfg.TokenVerifier,
		generateLimiter: cfg.GenerateLimiter,
		internalVerify:  cfg.InternalVerifier,
		trustedProxies:  cfg.TrustedProxies,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("leads", 2*time.Minute, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/internal/credits/grant", s.withInternal(servicetoken.ScopeGrantCredits, s.handleGrantCredits))

	s.mux.Handle("/api/generate-leads", s.withUser(s.handleGenerate))
	s.mux.Handle("/api/credits", s.withUser(s.handleCredits))
	s.mux.Handle("/api/profile", s.withUser(s.handleProfile))
	s.mux.Handle("/api/analytics", s.withUser(s.handleAnalytics))

	// exports
	s.mux.Handle("/api/exports", s.withUser(s.handleExports))
	s.mux.Handle("/api/exports/", s.withUser(s.handleExportByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			s.audit(r, "leads.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.tokenVerifier.VerifyUser(token)
		if err != nil {
			s.audit(r, "leads.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

func (s *Server) withInternal(scope string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalVerify == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			s.audit(r, "leads.internal.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.internalVerify.Verify(token)
		if err != nil {
			s.audit(r, "leads.internal.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !claims.HasScope(scope) {
			s.audit(r, "leads.internal.authorize", "fail", "issuer", claims.Issuer, "reason", "missing_scope")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "leads.internal.authorize", "success", "issuer", claims.Issuer, "subject", claims.Subject)
		next(w, r)
	})
}

type generateResponse struct {
	Leads    []domain.Lead `json:"leads"`
	Count    int           `json:"count"`
	Outcome  app.Outcome   `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	ExportID string        `json:"exportId,omitempty"`
	Charged  bool          `json:"charged"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.generateLimiter != nil && !s.generateLimiter.Allow("generate|"+user.ID) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, app.ErrRateLimited.Error())
		return
	}
	var req domain.GenerationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// Runs to completion even if the client disconnects.
	ctx := context.WithoutCancel(r.Context())
	res, err := s.app.Generate(ctx, user, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	leads := res.Leads
	if leads == nil {
		leads = []domain.Lead{}
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Leads:    leads,
		Count:    len(leads),
		Outcome:  res.Outcome,
		Reason:   res.Reason,
		ExportID: res.ExportID,
		Charged:  res.Charged,
	})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	balance, err := s.app.Credits(user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		profile, err := s.app.Profile(user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPut:
		var req domain.ProfilePatch
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.SaveProfile(user, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 365 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = n
	}
	summary, err := s.app.Analytics(user, days)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExports(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListExports(user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// /api/exports/{id} or /api/exports/{id}/download
func (s *Server) handleExportByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/exports/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 && parts[1] == "download" {
		s.handleDownloadExport(w, r, user, id)
		return
	}
	if len(parts) == 2 {
		notFound(w, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := s.app.GetExport(user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := s.app.DeleteExport(r.Context(), user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// handleDownloadExport streams an export as a CSV or JSON attachment.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := s.app.GetExport(user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	includeScore, _ := strconv.ParseBool(r.URL.Query().Get("includeScore"))
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(item.Name, format)))
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, format, item.Leads, export.Options{IncludeScore: includeScore}); err != nil {
		util.LoggerFromContext(r.Context()).Error("export_write_response_failed", "export_id", id, "err", err)
	}
}

type grantRequest struct {
	UserID string      `json:"userId"`
	Amount int         `json:"amount"`
	Plan   domain.Plan `json:"plan"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req grantRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	balance, err := s.app.GrantCredits(req.UserID, req.Amount, req.Plan)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "leads.credits.grant", "success", "user_id", balance.UserID, "amount", req.Amount, "plan", balance.Plan)
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, app.ErrValidation.Error())
	case errors.Is(err, app.ErrInvalidGrant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, app.ErrInsufficientCredits.Error())
	case errors.Is(err, app.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, app.ErrRateLimited.Error())
	case errors.Is(err, app.ErrExportNotFound):
		notFound(w, app.ErrExportNotFound.Error())
	case errors.Is(err, app.ErrGenerationFailed):
		writeError(w, http.StatusInternalServerError, app.ErrGenerationFailed.Error())
	case errors.Is(err, app.ErrProviderNotConfigured):
		util.LoggerFromContext(r.Context()).Error("research_provider_missing")
		writeError(w, http.StatusInternalServerError, app.ErrProviderNotConfigured.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForLeads(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForLeads(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "internal auth not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "AUTH_FORBIDDEN"
	case message == strings.ToLower(app.ErrValidation.Error()):
		return "LEADS_VALIDATION_FAILED"
	case message == strings.ToLower(app.ErrInsufficientCredits.Error()):
		return "LEADS_NO_CREDITS"
	case message == strings.ToLower(app.ErrRateLimited.Error()):
		return "LEADS_RATE_LIMITED"
	case message == strings.ToLower(app.ErrGenerationFailed.Error()):
		return "LEADS_GENERATION_FAILED"
	case message == strings.ToLower(app.ErrProviderNotConfigured.Error()):
		return "LEADS_PROVIDER_NOT_CONFIGURED"
	case message == strings.ToLower(app.ErrExportNotFound.Error()):
		return "LEADS_EXPORT_NOT_FOUND"
	case strings.HasPrefix(message, strings.ToLower(app.ErrInvalidGrant.Error())):
		return "LEADS_INVALID_GRANT"
	case strings.Contains(message, "unsupported export format"):
		return "LEADS_INVALID_FORMAT"
	case message == "invalid json body":
		return "LEADS_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "LEADS_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
