package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"leadmachine/internal/util"
	"leadmachine/pkg/ai"
	"leadmachine/pkg/domain"
	"leadmachine/pkg/queue"
	"leadmachine/pkg/storage"
	"leadmachine/pkg/store"
)

// RetryQueue defers export writes that failed inline.
type RetryQueue interface {
	Enqueue(ctx context.Context, userID string, export domain.LeadExport, charged bool) (queue.PersistJob, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	// Researcher is the search-augmented model. Nil makes every generation
	// fail with ErrProviderNotConfigured.
	Researcher ai.TextGenerator
	// Structurer is the fallback extraction model. Nil disables the fallback.
	Structurer ai.TextGenerator
	// Objects archives raw research text of degraded generations. Optional.
	Objects storage.ObjectStore
	// Retry receives exports whose inline write failed. Optional; without it
	// a failed write refunds the credit immediately.
	Retry RetryQueue
	// ChargeOnEmpty charges degraded (zero-lead) generations too.
	ChargeOnEmpty bool
	Now           func() time.Time
}

// App is the lead generation workflow plus the dashboard reads around it.
type App struct {
	store         store.Store
	researcher    ai.TextGenerator
	normalizer    *Normalizer
	objects       storage.ObjectStore
	retry         RetryQueue
	chargeOnEmpty bool
	now           func() time.Time
}

// GenerationResult is what a generation hands back to the caller.
type GenerationResult struct {
	Leads    []domain.Lead
	Outcome  Outcome
	Reason   string
	ExportID string
	Charged  bool
}

// New constructs the application, opening a Postgres store when none is given.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:         dataStore,
		researcher:    cfg.Researcher,
		normalizer:    NewNormalizer(cfg.Structurer),
		objects:       cfg.Objects,
		retry:         cfg.Retry,
		chargeOnEmpty: cfg.ChargeOnEmpty,
		now:           now,
	}, nil
}

// Generate runs validate, gate, research, normalize, charge and persist in
// that order. Errors before the research call leave credits untouched; after
// it, charge and persistence failures are logged and never fail the call.
func (a *App) Generate(ctx context.Context, user domain.User, req domain.GenerationRequest) (GenerationResult, error) {
	logger := util.LoggerFromContext(ctx).With("user_id", user.ID)

	req, err := ValidateRequest(req)
	if err != nil {
		return GenerationResult{}, err
	}
	if _, err := a.CheckCredits(user.ID); err != nil {
		return GenerationResult{}, err
	}
	raw, err := a.Research(ctx, req)
	if err != nil {
		return GenerationResult{}, err
	}

	norm := a.normalizer.Normalize(ctx, raw)
	res := GenerationResult{Leads: norm.Leads, Outcome: norm.Outcome, Reason: norm.Reason}
	exportID := util.NewID()
	if norm.Outcome == OutcomeDegraded {
		logger.Warn("normalize_degraded", "reason", norm.Reason, "raw_bytes", len(raw))
	} else {
		logger.Info("normalize_ok", "outcome", norm.Outcome, "lead_count", len(norm.Leads))
	}

	billable := norm.Outcome != OutcomeDegraded || a.chargeOnEmpty
	if billable {
		res.Charged = a.charge(logger, user.ID)
	}

	export := domain.LeadExport{
		ID:          exportID,
		OwnerUserID: user.ID,
		Name:        ExportName(req.CompanyURL),
		Leads:       norm.Leads,
		LeadCount:   len(norm.Leads),
		CreatedAt:   a.now(),
	}
	state := a.persist(ctx, logger, user.ID, req, export, billable, res.Charged)
	if state == persistStored {
		res.ExportID = export.ID
	}
	// Raw text is archived only for exports that are stored or queued.
	if norm.Outcome == OutcomeDegraded && (state == persistStored || state == persistQueued) {
		a.archiveRaw(ctx, user.ID, exportID, raw)
	}
	return res, nil
}

// CheckCredits is the credit gate: it fails with ErrInsufficientCredits when
// the user has no row or a non-positive balance.
func (a *App) CheckCredits(userID string) (domain.CreditBalance, error) {
	balance, ok, err := a.store.GetCredits(userID)
	if err != nil {
		return domain.CreditBalance{}, fmt.Errorf("read credits: %w", err)
	}
	if !ok || balance.Balance <= 0 {
		return domain.CreditBalance{}, ErrInsufficientCredits
	}
	return balance, nil
}

// Research calls the search-augmented model and returns its raw text.
func (a *App) Research(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if a.researcher == nil {
		return "", ErrProviderNotConfigured
	}
	raw, err := a.researcher.GenerateText(ctx, researchSystemPrompt, BuildResearchPrompt(req))
	if err != nil {
		logger := util.LoggerFromContext(ctx)
		var statusErr *ai.StatusError
		if errors.As(err, &statusErr) {
			logger.Error("research_upstream_error", "provider", statusErr.Provider, "status", statusErr.Status, "body", statusErr.Body)
		} else {
			logger.Error("research_failed", "err", err)
		}
		if ai.IsRateLimited(err) {
			return "", ErrRateLimited
		}
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return raw, nil
}

func (a *App) charge(logger *slog.Logger, userID string) bool {
	balance, ok, err := a.store.ChargeCredit(userID)
	if err != nil {
		logger.Error("charge_failed", "err", err)
		return false
	}
	if !ok {
		logger.Warn("charge_skipped_no_balance")
		return false
	}
	logger.Info("credit_charged", "balance", balance.Balance, "total_used", balance.TotalUsed)
	return true
}

type persistState int

const (
	persistSkipped persistState = iota
	persistStored
	persistQueued
	persistDropped
)

// persist writes the export and the profile concurrently. Only the export
// write takes part in the saga: a failure is queued for retry, or refunded
// when it cannot be queued.
func (a *App) persist(ctx context.Context, logger *slog.Logger, userID string, req domain.GenerationRequest, export domain.LeadExport, billable, charged bool) persistState {
	var exportErr error
	var g errgroup.Group
	if billable {
		g.Go(func() error {
			exportErr = a.store.CreateExport(export)
			return exportErr
		})
	}
	g.Go(func() error {
		if err := a.store.UpsertBusinessProfile(profileFromRequest(userID, req, a.now())); err != nil {
			logger.Warn("profile_upsert_failed", "err", err)
		}
		return nil
	})
	_ = g.Wait()

	if !billable {
		return persistSkipped
	}
	if exportErr == nil {
		return persistStored
	}
	logger.Error("export_write_failed", "export_id", export.ID, "err", exportErr)
	if a.retry != nil {
		job, err := a.retry.Enqueue(ctx, userID, export, charged)
		if err == nil {
			logger.Info("export_write_queued", "export_id", export.ID, "job_id", job.ID)
			return persistQueued
		}
		logger.Error("export_enqueue_failed", "export_id", export.ID, "err", err)
	}
	if charged {
		a.refund(logger, userID)
	}
	return persistDropped
}

func (a *App) refund(logger *slog.Logger, userID string) {
	if err := a.store.RefundCredit(userID); err != nil {
		logger.Error("refund_failed", "err", err)
		return
	}
	logger.Info("credit_refunded")
}

// HandlePersistJob writes a queued export. An already stored export counts
// as done.
func (a *App) HandlePersistJob(_ context.Context, job queue.PersistJob) error {
	if _, ok, err := a.store.GetExport(job.Export.ID); err == nil && ok {
		return nil
	}
	return a.store.CreateExport(job.Export)
}

// HandlePersistFailure compensates a job that ran out of attempts.
func (a *App) HandlePersistFailure(ctx context.Context, job queue.PersistJob, err error) {
	logger := util.LoggerFromContext(ctx).With("user_id", job.UserID, "export_id", job.Export.ID, "job_id", job.ID)
	logger.Error("export_write_abandoned", "attempts", job.Attempts, "err", err)
	if job.Charged {
		a.refund(logger, job.UserID)
	}
	if a.objects != nil && job.Export.ID != "" {
		_ = a.objects.Delete(ctx, storage.RawOutputKey(job.UserID, job.Export.ID))
	}
}

func (a *App) archiveRaw(ctx context.Context, userID, exportID, raw string) {
	if a.objects == nil {
		return
	}
	key := storage.RawOutputKey(userID, exportID)
	if err := a.objects.Put(ctx, key, strings.NewReader(raw), int64(len(raw)), "text/plain; charset=utf-8"); err != nil {
		util.LoggerFromContext(ctx).Warn("raw_archive_failed", "key", key, "err", err)
	}
}

func profileFromRequest(userID string, req domain.GenerationRequest, now time.Time) domain.BusinessProfile {
	return domain.BusinessProfile{
		UserID:                 userID,
		CompanyURL:             req.CompanyURL,
		Description:            req.Description,
		TargetLocation:         req.TargetLocation,
		TargetIndustry:         req.TargetIndustry,
		IdealClientDescription: req.IdealClientDescription,
		FacebookURL:            req.FacebookURL,
		InstagramURL:           req.InstagramURL,
		LinkedInURL:            req.LinkedInURL,
		UpdatedAt:              now,
	}
}
