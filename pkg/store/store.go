package store

import (
	"errors"
	"time"

	"leadmachine/pkg/domain"
)

// ErrInvalidAmount is returned when a credit grant is not positive.
var ErrInvalidAmount = errors.New("credit amount must be positive")

// Store defines persistence operations for credits, lead exports, business
// profiles and contact messages.
type Store interface {
	// credits
	GetCredits(userID string) (domain.CreditBalance, bool, error)
	// ChargeCredit decrements balance and increments totalUsed only while the
	// balance is positive. ok is false when nothing was charged.
	ChargeCredit(userID string) (balance domain.CreditBalance, ok bool, err error)
	RefundCredit(userID string) error
	GrantCredits(userID string, amount int, plan domain.Plan) (domain.CreditBalance, error)

	// exports
	CreateExport(domain.LeadExport) error
	GetExport(id string) (domain.LeadExport, bool, error)
	ListExportsByOwner(ownerID string, limit int) ([]domain.LeadExport, error)
	DeleteExport(ownerID, id string) (bool, error)
	// ListExportsSince returns exports with leads, oldest first.
	ListExportsSince(ownerID string, since time.Time) ([]domain.LeadExport, error)

	// profiles
	GetBusinessProfile(userID string) (domain.BusinessProfile, bool, error)
	UpsertBusinessProfile(domain.BusinessProfile) error
	// PatchBusinessProfile creates or updates a profile, writing only the
	// fields set in patch.
	PatchBusinessProfile(userID string, patch domain.ProfilePatch, now time.Time) (domain.BusinessProfile, error)

	// contact
	SaveContactMessage(domain.ContactMessage) error
}
