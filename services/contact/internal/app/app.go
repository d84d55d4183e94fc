package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"leadmachine/internal/util"
	"leadmachine/pkg/ai"
	"leadmachine/pkg/domain"
	"leadmachine/pkg/store"
)

// ErrMissingFields indicates one of name, email, subject or message is blank.
var ErrMissingFields = errors.New("all fields are required")

// FallbackAcknowledgment is returned whenever the model cannot produce one.
const FallbackAcknowledgment = "Thank you for reaching out! Our team will review your message and get back to you within 24 hours."

const acknowledgmentSystemPrompt = "You are a friendly customer support AI for LeadMachine AI, a B2B lead generation platform. " +
	"Generate a brief, personalized acknowledgment response (2-3 sentences) to the customer's message. " +
	"Be warm, professional, and mention their specific topic. Do NOT use markdown."

// MessageStore persists contact submissions.
type MessageStore interface {
	SaveContactMessage(msg domain.ContactMessage) error
}

// Config holds runtime configuration for the contact application.
type Config struct {
	DatabaseURL string
	Store       MessageStore
	// Generator writes the acknowledgment. Nil always uses the fallback.
	Generator ai.TextGenerator
	// Timeout bounds the acknowledgment call. Zero means 15s.
	Timeout time.Duration
	Now     func() time.Time
}

// App answers contact-form submissions.
type App struct {
	store     MessageStore
	generator ai.TextGenerator
	timeout   time.Duration
	now       func() time.Time
}

// Submission is the contact form payload.
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// New constructs the application, opening a Postgres store when none is given.
func New(cfg Config) (*App, error) {
	messages := cfg.Store
	if messages == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		messages = gormStore
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{store: messages, generator: cfg.Generator, timeout: timeout, now: now}, nil
}

// Submit validates the form, writes an acknowledgment and saves both.
// Only validation fails the call; model and storage problems are logged.
func (a *App) Submit(ctx context.Context, sub Submission) (domain.ContactMessage, error) {
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Subject = strings.TrimSpace(sub.Subject)
	sub.Message = strings.TrimSpace(sub.Message)
	if sub.Name == "" || sub.Email == "" || sub.Subject == "" || sub.Message == "" {
		return domain.ContactMessage{}, ErrMissingFields
	}

	msg := domain.ContactMessage{
		ID:         util.NewID(),
		Name:       sub.Name,
		Email:      sub.Email,
		Subject:    sub.Subject,
		Message:    sub.Message,
		AIResponse: a.acknowledge(ctx, sub),
		CreatedAt:  a.now(),
	}
	if err := a.store.SaveContactMessage(msg); err != nil {
		util.LoggerFromContext(ctx).Error("contact_save_failed", "contact_id", msg.ID, "err", err)
	}
	return msg, nil
}

func (a *App) acknowledge(ctx context.Context, sub Submission) string {
	if a.generator == nil {
		return FallbackAcknowledgment
	}
	logger := util.LoggerFromContext(ctx)
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	prompt := fmt.Sprintf("Name: %s\nSubject: %s\nMessage: %s", sub.Name, sub.Subject, sub.Message)
	text, err := a.generator.GenerateText(callCtx, acknowledgmentSystemPrompt, prompt)
	if err != nil {
		switch ai.UpstreamStatus(err) {
		case http.StatusTooManyRequests:
			logger.Warn("contact_ai_rate_limited")
		case http.StatusPaymentRequired:
			logger.Warn("contact_ai_payment_required")
		default:
			logger.Error("contact_ai_failed", "err", err)
		}
		return FallbackAcknowledgment
	}
	if text = strings.TrimSpace(text); text == "" {
		return FallbackAcknowledgment
	}
	return text
}
