package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"leadmachine/pkg/domain"
)

const migrateLockID int64 = 51736021

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&CreditModel{}, &LeadExportModel{}, &BusinessProfileModel{}, &ContactMessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GetCredits returns the credit row for a user.
func (s *GormStore) GetCredits(userID string) (domain.CreditBalance, bool, error) {
	var model CreditModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CreditBalance{}, false, nil
		}
		return domain.CreditBalance{}, false, err
	}
	return creditFromModel(model), true, nil
}

// ChargeCredit runs a single conditional UPDATE so concurrent generations
// cannot drive the balance below zero.
func (s *GormStore) ChargeCredit(userID string) (domain.CreditBalance, bool, error) {
	var model CreditModel
	res := s.db.Model(&model).
		Clauses(clause.Returning{}).
		Where("user_id = ? AND balance > 0", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - 1"),
			"total_used": gorm.Expr("total_used + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.CreditBalance{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.CreditBalance{}, false, nil
	}
	return creditFromModel(model), true, nil
}

// RefundCredit gives one credit back. totalUsed is left untouched.
func (s *GormStore) RefundCredit(userID string) error {
	res := s.db.Model(&CreditModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("refund credit: no credit row for user %s", userID)
	}
	return nil
}

// GrantCredits adds amount to the balance, creating the row when missing.
func (s *GormStore) GrantCredits(userID string, amount int, plan domain.Plan) (domain.CreditBalance, error) {
	if amount <= 0 {
		return domain.CreditBalance{}, ErrInvalidAmount
	}
	now := time.Now().UTC()
	if plan == "" {
		plan = domain.PlanFree
	}
	model := CreditModel{
		UserID:    userID,
		Balance:   amount,
		Plan:      string(plan),
		CreatedAt: now,
		UpdatedAt: now,
	}
	assignments := map[string]any{
		"balance":    gorm.Expr("credits.balance + ?", amount),
		"updated_at": now,
	}
	if plan != domain.PlanFree {
		assignments["plan"] = string(plan)
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&model).Error; err != nil {
		return domain.CreditBalance{}, err
	}
	balance, _, err := s.GetCredits(userID)
	return balance, err
}

// CreateExport inserts an immutable export row.
func (s *GormStore) CreateExport(e domain.LeadExport) error {
	model, err := exportToModel(e)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetExport returns an export including its leads.
func (s *GormStore) GetExport(id string) (domain.LeadExport, bool, error) {
	var model LeadExportModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LeadExport{}, false, nil
		}
		return domain.LeadExport{}, false, err
	}
	export, err := exportFromModel(model)
	if err != nil {
		return domain.LeadExport{}, false, err
	}
	return export, true, nil
}

// ListExportsByOwner returns newest exports first, without lead bodies.
func (s *GormStore) ListExportsByOwner(ownerID string, limit int) ([]domain.LeadExport, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []LeadExportModel
	if err := s.db.Select("id", "owner_user_id", "name", "lead_count", "created_at").
		Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.LeadExport, 0, len(models))
	for _, m := range models {
		items = append(items, domain.LeadExport{
			ID:          m.ID,
			OwnerUserID: m.OwnerUserID,
			Name:        m.Name,
			LeadCount:   m.LeadCount,
			CreatedAt:   m.CreatedAt,
		})
	}
	return items, nil
}

// DeleteExport removes an export owned by ownerID.
func (s *GormStore) DeleteExport(ownerID, id string) (bool, error) {
	res := s.db.Delete(&LeadExportModel{}, "id = ? AND owner_user_id = ?", id, ownerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListExportsSince returns exports created at or after since, oldest first.
func (s *GormStore) ListExportsSince(ownerID string, since time.Time) ([]domain.LeadExport, error) {
	var models []LeadExportModel
	if err := s.db.Where("owner_user_id = ? AND created_at >= ?", ownerID, since).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.LeadExport, 0, len(models))
	for _, m := range models {
		export, err := exportFromModel(m)
		if err != nil {
			return nil, err
		}
		items = append(items, export)
	}
	return items, nil
}

// GetBusinessProfile returns the saved profile for a user.
func (s *GormStore) GetBusinessProfile(userID string) (domain.BusinessProfile, bool, error) {
	var model BusinessProfileModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.BusinessProfile{}, false, nil
		}
		return domain.BusinessProfile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// UpsertBusinessProfile updates the request facts of a profile in place.
// An empty company name leaves the stored one untouched.
func (s *GormStore) UpsertBusinessProfile(p domain.BusinessProfile) error {
	model := profileToModel(p)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now().UTC()
	}
	columns := []string{
		"company_url", "company_description", "target_location", "target_industry",
		"ideal_client_description", "facebook_url", "instagram_url", "linkedin_url", "updated_at",
	}
	if strings.TrimSpace(p.CompanyName) != "" {
		columns = append(columns, "company_name")
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&model).Error
}

// PatchBusinessProfile upserts only the columns set in patch. A new row gets
// blanks for the rest.
func (s *GormStore) PatchBusinessProfile(userID string, patch domain.ProfilePatch, now time.Time) (domain.BusinessProfile, error) {
	p := domain.BusinessProfile{UserID: userID, UpdatedAt: now}
	patch.Apply(&p)
	model := profileToModel(p)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(profilePatchColumns(patch)),
	}).Create(&model).Error
	if err != nil {
		return domain.BusinessProfile{}, err
	}
	saved, _, err := s.GetBusinessProfile(userID)
	return saved, err
}

func profilePatchColumns(patch domain.ProfilePatch) []string {
	columns := []string{"updated_at"}
	for _, c := range []struct {
		set    bool
		column string
	}{
		{patch.CompanyURL != nil, "company_url"},
		{patch.CompanyName != nil, "company_name"},
		{patch.Description != nil, "company_description"},
		{patch.TargetLocation != nil, "target_location"},
		{patch.TargetIndustry != nil, "target_industry"},
		{patch.IdealClientDescription != nil, "ideal_client_description"},
		{patch.FacebookURL != nil, "facebook_url"},
		{patch.InstagramURL != nil, "instagram_url"},
		{patch.LinkedInURL != nil, "linkedin_url"},
	} {
		if c.set {
			columns = append(columns, c.column)
		}
	}
	return columns
}

// SaveContactMessage records a contact-form submission.
func (s *GormStore) SaveContactMessage(m domain.ContactMessage) error {
	model := ContactMessageModel{
		ID:         m.ID,
		Name:       m.Name,
		Email:      m.Email,
		Subject:    m.Subject,
		Message:    m.Message,
		AIResponse: m.AIResponse,
		CreatedAt:  m.CreatedAt,
	}
	return s.db.Create(&model).Error
}

func creditFromModel(m CreditModel) domain.CreditBalance {
	plan := domain.Plan(m.Plan)
	if plan == "" {
		plan = domain.PlanFree
	}
	return domain.CreditBalance{
		UserID:    m.UserID,
		Balance:   m.Balance,
		TotalUsed: m.TotalUsed,
		Plan:      plan,
		UpdatedAt: m.UpdatedAt,
	}
}

func exportToModel(e domain.LeadExport) (LeadExportModel, error) {
	leads := e.Leads
	if leads == nil {
		leads = []domain.Lead{}
	}
	raw, err := json.Marshal(leads)
	if err != nil {
		return LeadExportModel{}, fmt.Errorf("encode leads: %w", err)
	}
	return LeadExportModel{
		ID:          e.ID,
		OwnerUserID: e.OwnerUserID,
		Name:        e.Name,
		Leads:       datatypes.JSON(raw),
		LeadCount:   len(leads),
		CreatedAt:   e.CreatedAt,
	}, nil
}

func exportFromModel(m LeadExportModel) (domain.LeadExport, error) {
	leads := []domain.Lead{}
	if len(m.Leads) > 0 {
		if err := json.Unmarshal(m.Leads, &leads); err != nil {
			return domain.LeadExport{}, fmt.Errorf("decode leads: %w", err)
		}
	}
	return domain.LeadExport{
		ID:          m.ID,
		OwnerUserID: m.OwnerUserID,
		Name:        m.Name,
		Leads:       leads,
		LeadCount:   m.LeadCount,
		CreatedAt:   m.CreatedAt,
	}, nil
}

func profileToModel(p domain.BusinessProfile) BusinessProfileModel {
	return BusinessProfileModel{
		UserID:                 p.UserID,
		CompanyURL:             p.CompanyURL,
		CompanyName:            p.CompanyName,
		CompanyDescription:     p.Description,
		TargetLocation:         p.TargetLocation,
		TargetIndustry:         p.TargetIndustry,
		IdealClientDescription: p.IdealClientDescription,
		FacebookURL:            p.FacebookURL,
		InstagramURL:           p.InstagramURL,
		LinkedInURL:            p.LinkedInURL,
		UpdatedAt:              p.UpdatedAt,
	}
}

func profileFromModel(m BusinessProfileModel) domain.BusinessProfile {
	return domain.BusinessProfile{
		UserID:                 m.UserID,
		CompanyURL:             m.CompanyURL,
		CompanyName:            m.CompanyName,
		Description:            m.CompanyDescription,
		TargetLocation:         m.TargetLocation,
		TargetIndustry:         m.TargetIndustry,
		IdealClientDescription: m.IdealClientDescription,
		FacebookURL:            m.FacebookURL,
		InstagramURL:           m.InstagramURL,
		LinkedInURL:            m.LinkedInURL,
		UpdatedAt:              m.UpdatedAt,
	}
}
