package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"leadmachine/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	credits  map[string]domain.CreditBalance
	exports  map[string]domain.LeadExport
	profiles map[string]domain.BusinessProfile
	contacts []domain.ContactMessage

	// Injected failures, returned before any state change.
	FailCreateExport error
	FailProfile      error
	FailCharge       error
	FailContact      error
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credits:  make(map[string]domain.CreditBalance),
		exports:  make(map[string]domain.LeadExport),
		profiles: make(map[string]domain.BusinessProfile),
	}
}

// SetCredits overwrites a user's credit row.
func (m *MemoryStore) SetCredits(b domain.CreditBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Plan == "" {
		b.Plan = domain.PlanFree
	}
	m.credits[b.UserID] = b
}

func (m *MemoryStore) GetCredits(userID string) (domain.CreditBalance, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.credits[userID]
	return b, ok, nil
}

func (m *MemoryStore) ChargeCredit(userID string) (domain.CreditBalance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCharge != nil {
		return domain.CreditBalance{}, false, m.FailCharge
	}
	b, ok := m.credits[userID]
	if !ok || b.Balance <= 0 {
		return domain.CreditBalance{}, false, nil
	}
	b.Balance--
	b.TotalUsed++
	b.UpdatedAt = time.Now().UTC()
	m.credits[userID] = b
	return b, true, nil
}

func (m *MemoryStore) RefundCredit(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.credits[userID]
	if !ok {
		return nil
	}
	b.Balance++
	b.UpdatedAt = time.Now().UTC()
	m.credits[userID] = b
	return nil
}

func (m *MemoryStore) GrantCredits(userID string, amount int, plan domain.Plan) (domain.CreditBalance, error) {
	if amount <= 0 {
		return domain.CreditBalance{}, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.credits[userID]
	if !ok {
		b = domain.CreditBalance{UserID: userID, Plan: domain.PlanFree}
	}
	b.Balance += amount
	if plan != "" && plan != domain.PlanFree {
		b.Plan = plan
	}
	b.UpdatedAt = time.Now().UTC()
	m.credits[userID] = b
	return b, nil
}

// SetFailCreateExport changes the injected export failure while the store is in use.
func (m *MemoryStore) SetFailCreateExport(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailCreateExport = err
}

func (m *MemoryStore) CreateExport(e domain.LeadExport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateExport != nil {
		return m.FailCreateExport
	}
	leads := make([]domain.Lead, len(e.Leads))
	copy(leads, e.Leads)
	e.Leads = leads
	e.LeadCount = len(leads)
	m.exports[e.ID] = e
	return nil
}

func (m *MemoryStore) GetExport(id string) (domain.LeadExport, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exports[id]
	return e, ok, nil
}

func (m *MemoryStore) ListExportsByOwner(ownerID string, limit int) ([]domain.LeadExport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.LeadExport, 0)
	for _, e := range m.exports {
		if e.OwnerUserID != ownerID {
			continue
		}
		e.Leads = nil
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) DeleteExport(ownerID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exports[id]
	if !ok || e.OwnerUserID != ownerID {
		return false, nil
	}
	delete(m.exports, id)
	return true, nil
}

func (m *MemoryStore) ListExportsSince(ownerID string, since time.Time) ([]domain.LeadExport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.LeadExport, 0)
	for _, e := range m.exports {
		if e.OwnerUserID == ownerID && !e.CreatedAt.Before(since) {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) GetBusinessProfile(userID string) (domain.BusinessProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

func (m *MemoryStore) UpsertBusinessProfile(p domain.BusinessProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailProfile != nil {
		return m.FailProfile
	}
	if existing, ok := m.profiles[p.UserID]; ok && strings.TrimSpace(p.CompanyName) == "" {
		p.CompanyName = existing.CompanyName
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.profiles[p.UserID] = p
	return nil
}

func (m *MemoryStore) PatchBusinessProfile(userID string, patch domain.ProfilePatch, now time.Time) (domain.BusinessProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailProfile != nil {
		return domain.BusinessProfile{}, m.FailProfile
	}
	p, ok := m.profiles[userID]
	if !ok {
		p = domain.BusinessProfile{UserID: userID}
	}
	patch.Apply(&p)
	p.UpdatedAt = now
	m.profiles[userID] = p
	return p, nil
}

func (m *MemoryStore) SaveContactMessage(msg domain.ContactMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailContact != nil {
		return m.FailContact
	}
	m.contacts = append(m.contacts, msg)
	return nil
}

// ContactMessages returns saved contact messages in arrival order.
func (m *MemoryStore) ContactMessages() []domain.ContactMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ContactMessage, len(m.contacts))
	copy(res, m.contacts)
	return res
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
