package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type CreditModel struct {
	UserID    string    `gorm:"primaryKey"`
	Balance   int       `gorm:"not null;default:0;check:balance >= 0"`
	TotalUsed int       `gorm:"not null;default:0"`
	Plan      string    `gorm:"not null;default:free"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CreditModel) TableName() string { return "credits" }

type LeadExportModel struct {
	ID          string         `gorm:"primaryKey"`
	OwnerUserID string         `gorm:"not null;index"`
	Name        string         `gorm:"not null"`
	Leads       datatypes.JSON `gorm:"type:jsonb;not null"`
	LeadCount   int            `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}

func (LeadExportModel) TableName() string { return "lead_exports" }

type BusinessProfileModel struct {
	UserID                 string `gorm:"primaryKey"`
	CompanyURL             string
	CompanyName            string
	CompanyDescription     string `gorm:"type:text"`
	TargetLocation         string
	TargetIndustry         string
	IdealClientDescription string `gorm:"type:text"`
	FacebookURL            string
	InstagramURL           string
	LinkedInURL            string    `gorm:"column:linkedin_url"`
	UpdatedAt              time.Time `gorm:"not null"`
}

func (BusinessProfileModel) TableName() string { return "profiles" }

type ContactMessageModel struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	Email      string    `gorm:"not null;index"`
	Subject    string    `gorm:"not null"`
	Message    string    `gorm:"type:text;not null"`
	AIResponse string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

func (ContactMessageModel) TableName() string { return "contact_messages" }
