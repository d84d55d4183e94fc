package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadmachine/pkg/domain"
	"leadmachine/pkg/storage"
	"leadmachine/pkg/store"
)

func intPtr(v int) *int { return &v }

func TestGetExportHidesForeignExports(t *testing.T) {
	a, mem := newTestApp(t, Config{})
	_ = mem.CreateExport(domain.LeadExport{ID: "e1", OwnerUserID: "u1", Leads: []domain.Lead{{CompanyName: "A"}}})

	if _, err := a.GetExport(domain.User{ID: "u2"}, "e1"); !errors.Is(err, ErrExportNotFound) {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}
	export, err := a.GetExport(domain.User{ID: "u1"}, " e1 ")
	if err != nil || len(export.Leads) != 1 {
		t.Fatalf("owner read failed: %+v %v", export, err)
	}
}

func TestDeleteExportRemovesArchive(t *testing.T) {
	archive := storage.NewMemoryStore()
	a, mem := newTestApp(t, Config{Objects: archive})
	_ = mem.CreateExport(domain.LeadExport{ID: "e1", OwnerUserID: "u1"})
	key := storage.RawOutputKey("u1", "e1")
	_ = archive.Put(context.Background(), key, strings.NewReader("raw"), 3, "text/plain")

	if err := a.DeleteExport(context.Background(), domain.User{ID: "u2"}, "e1"); !errors.Is(err, ErrExportNotFound) {
		t.Fatalf("foreign delete should be not found, got %v", err)
	}
	if err := a.DeleteExport(context.Background(), domain.User{ID: "u1"}, "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := archive.Get(key); ok {
		t.Fatalf("archive not removed")
	}
	if err := a.DeleteExport(context.Background(), domain.User{ID: "u1"}, "e1"); !errors.Is(err, ErrExportNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestCreditsDefaultsToEmptyFreePlan(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	b, err := a.Credits(domain.User{ID: "new"})
	if err != nil {
		t.Fatalf("credits: %v", err)
	}
	if b.Balance != 0 || b.Plan != domain.PlanFree || b.UserID != "new" {
		t.Fatalf("unexpected default balance: %+v", b)
	}
}

func TestGrantCreditsValidation(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	for _, tc := range []struct {
		user   string
		amount int
		plan   domain.Plan
	}{
		{"", 5, ""},
		{"u1", 0, ""},
		{"u1", 5, "enterprise"},
	} {
		if _, err := a.GrantCredits(tc.user, tc.amount, tc.plan); !errors.Is(err, ErrInvalidGrant) {
			t.Fatalf("expected invalid grant for %+v, got %v", tc, err)
		}
	}
	b, err := a.GrantCredits("u1", 50, domain.PlanPro)
	if err != nil || b.Balance != 50 || b.Plan != domain.PlanPro {
		t.Fatalf("unexpected grant: %+v %v", b, err)
	}
}

func TestSaveProfileRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newTestApp(t, Config{Now: func() time.Time { return now }})
	user := domain.User{ID: "u1"}

	empty, err := a.Profile(user)
	if err != nil || empty.UserID != "u1" || empty.CompanyURL != "" {
		t.Fatalf("unexpected empty profile: %+v %v", empty, err)
	}
	url, name, desc := " acme.test ", "Acme", "Fleet tracking"
	saved, err := a.SaveProfile(user, domain.ProfilePatch{CompanyURL: &url, CompanyName: &name, Description: &desc})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.UserID != "u1" || saved.CompanyURL != "acme.test" || saved.CompanyName != "Acme" || !saved.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected saved profile: %+v", saved)
	}

	location := "Berlin"
	partial, err := a.SaveProfile(user, domain.ProfilePatch{TargetLocation: &location})
	if err != nil {
		t.Fatalf("partial save: %v", err)
	}
	if partial.CompanyURL != "acme.test" || partial.Description != "Fleet tracking" || partial.CompanyName != "Acme" || partial.TargetLocation != "Berlin" {
		t.Fatalf("partial save replaced unspecified fields: %+v", partial)
	}
}

func TestAnalyticsAggregatesWindow(t *testing.T) {
	now := time.Date(2026, 3, 31, 15, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	a, _ := newTestApp(t, Config{Store: mem, Now: func() time.Time { return now }})

	_ = mem.CreateExport(domain.LeadExport{ID: "old", OwnerUserID: "u1", CreatedAt: now.AddDate(0, 0, -40),
		Leads: []domain.Lead{{Industry: "Ignored"}}})
	_ = mem.CreateExport(domain.LeadExport{ID: "e1", OwnerUserID: "u1", CreatedAt: now.AddDate(0, 0, -2),
		Leads: []domain.Lead{{Industry: "SaaS", Score: intPtr(90)}, {Industry: "SaaS", Score: intPtr(70)}, {Industry: ""}}})
	_ = mem.CreateExport(domain.LeadExport{ID: "e2", OwnerUserID: "u1", CreatedAt: now.AddDate(0, 0, -1),
		Leads: []domain.Lead{{Industry: "Retail", Score: intPtr(60)}}})
	_ = mem.CreateExport(domain.LeadExport{ID: "other", OwnerUserID: "u2", CreatedAt: now, Leads: []domain.Lead{{}}})

	got, err := a.Analytics(domain.User{ID: "u1"}, 0)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if got.Days != 30 || got.ExportCount != 2 || got.TotalLeads != 4 || got.AvgLeadsPerExport != 2 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	// (90 + 70 + 85 + 60) / 4 = 76.25
	if got.AvgScore != 76 {
		t.Fatalf("expected avg score 76, got %d", got.AvgScore)
	}
	if len(got.TopIndustries) != 3 || got.TopIndustries[0] != (IndustryCount{Industry: "SaaS", Leads: 2}) {
		t.Fatalf("unexpected industries: %+v", got.TopIndustries)
	}
	if got.TopIndustries[1].Industry != "Other" || got.TopIndustries[2].Industry != "Retail" {
		t.Fatalf("industries should tie-break by name: %+v", got.TopIndustries)
	}
	// day one: (90 + 70 + 85) / 3 = 81.67
	if len(got.Timeline) != 2 || got.Timeline[0] != (TimelinePoint{Date: "2026-03-29", Leads: 3, AvgScore: 82}) ||
		got.Timeline[1] != (TimelinePoint{Date: "2026-03-30", Leads: 1, AvgScore: 60}) {
		t.Fatalf("unexpected timeline: %+v", got.Timeline)
	}
	wantBuckets := map[string]int{"90-100": 1, "80-89": 1, "70-79": 1, "60-69": 1, "Below 60": 0}
	if len(got.ScoreDistribution) != 5 || got.ScoreDistribution[0].Range != "90-100" || got.ScoreDistribution[4].Range != "Below 60" {
		t.Fatalf("unexpected buckets: %+v", got.ScoreDistribution)
	}
	for _, b := range got.ScoreDistribution {
		if b.Leads != wantBuckets[b.Range] {
			t.Fatalf("bucket %s = %d, want %d", b.Range, b.Leads, wantBuckets[b.Range])
		}
	}
}

func TestAnalyticsEmpty(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	got, err := a.Analytics(domain.User{ID: "u1"}, 7)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if got.Days != 7 || got.ExportCount != 0 || got.AvgScore != 0 || got.TopIndustries == nil || got.Timeline == nil {
		t.Fatalf("unexpected empty analytics: %+v", got)
	}
	for _, b := range got.ScoreDistribution {
		if b.Leads != 0 {
			t.Fatalf("unexpected bucket count: %+v", got.ScoreDistribution)
		}
	}
	if len(got.ScoreDistribution) != 5 {
		t.Fatalf("expected all buckets present, got %+v", got.ScoreDistribution)
	}
}
