package store

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"leadmachine/pkg/domain"
)

func TestExportModelRoundTrip(t *testing.T) {
	score := 72
	created := time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC)
	in := domain.LeadExport{
		ID:          "e1",
		OwnerUserID: "u1",
		Name:        "March leads",
		CreatedAt:   created,
		Leads: []domain.Lead{
			{CompanyName: "Acme", Industry: "SaaS", Score: &score},
			{CompanyName: "Bolt", Email: "hi@bolt.test"},
		},
	}
	model, err := exportToModel(in)
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if model.LeadCount != 2 {
		t.Fatalf("expected lead count 2, got %d", model.LeadCount)
	}
	if n := strings.Count(string(model.Leads), `"score"`); n != 1 {
		t.Fatalf("unscored lead must omit score, got %d score keys: %s", n, model.Leads)
	}
	out, err := exportFromModel(model)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if out.Leads[0].Score == nil || *out.Leads[0].Score != 72 || out.Leads[1].Score != nil {
		t.Fatalf("score pointers not preserved: %+v", out.Leads)
	}
	in.LeadCount = 2
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestExportModelNilLeads(t *testing.T) {
	model, err := exportToModel(domain.LeadExport{ID: "e1"})
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if string(model.Leads) != "[]" || model.LeadCount != 0 {
		t.Fatalf("nil leads should encode as empty array, got %s", model.Leads)
	}
	out, err := exportFromModel(LeadExportModel{ID: "e2"})
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if out.Leads == nil || len(out.Leads) != 0 {
		t.Fatalf("expected empty non-nil leads, got %#v", out.Leads)
	}
	if _, err := exportFromModel(LeadExportModel{Leads: []byte("{bad")}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestProfilePatchColumns(t *testing.T) {
	name := "Acme"
	url := ""
	got := profilePatchColumns(domain.ProfilePatch{CompanyName: &name, LinkedInURL: &url})
	want := []string{"updated_at", "company_name", "linkedin_url"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := profilePatchColumns(domain.ProfilePatch{}); !reflect.DeepEqual(got, []string{"updated_at"}) {
		t.Fatalf("empty patch should only touch updated_at, got %v", got)
	}
}
