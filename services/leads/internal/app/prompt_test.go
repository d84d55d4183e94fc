package app

import (
	"errors"
	"strings"
	"testing"

	"leadmachine/pkg/domain"
)

func TestBuildResearchPromptRequiredOnly(t *testing.T) {
	prompt := BuildResearchPrompt(domain.GenerationRequest{CompanyURL: "https://acme.test", Description: "Payroll software"})
	for _, want := range []string{"https://acme.test", "Payroll software", "Find 10 real companies that would be ideal customers", "company_name, contact_person, role, website, email, phone, industry, fit_reason"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	for _, absent := range []string{"Ideal client", "Social profiles", " in the ", "undefined", "N/A"} {
		if strings.Contains(prompt, absent) {
			t.Fatalf("prompt should not contain %q:\n%s", absent, prompt)
		}
	}
}

func TestBuildResearchPromptOptionalClauses(t *testing.T) {
	prompt := BuildResearchPrompt(domain.GenerationRequest{
		CompanyURL:             "acme.test",
		Description:            "Payroll software",
		TargetLocation:         "Austin, TX",
		TargetIndustry:         "Healthcare",
		IdealClientDescription: "Clinics with 20+ staff.",
		LinkedInURL:            "https://linkedin.com/company/acme",
	})
	for _, want := range []string{
		"Find 10 real companies in Austin, TX in the Healthcare industry that",
		"Ideal client: Clinics with 20+ staff.\n",
		"Social profiles: LinkedIn https://linkedin.com/company/acme\n",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Facebook") {
		t.Fatalf("unset social link rendered")
	}
}

func TestValidateRequestTrims(t *testing.T) {
	req, err := ValidateRequest(domain.GenerationRequest{CompanyURL: "  acme.test ", Description: " widgets\n", TargetLocation: "  "})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.CompanyURL != "acme.test" || req.Description != "widgets" || req.TargetLocation != "" {
		t.Fatalf("fields not trimmed: %+v", req)
	}
	if _, err := ValidateRequest(domain.GenerationRequest{CompanyURL: "acme.test"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExportName(t *testing.T) {
	cases := map[string]string{
		"https://www.acme.test/about": "acme.test leads",
		"app.shop.acme.co.uk":         "acme.co.uk leads",
		"HTTPS://Example.COM":         "example.com leads",
		"":                            "Leads",
	}
	for in, want := range cases {
		if got := ExportName(in); got != want {
			t.Fatalf("ExportName(%q) = %q, want %q", in, got, want)
		}
	}
}
