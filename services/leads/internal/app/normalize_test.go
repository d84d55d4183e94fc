package app

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractLeadsFromSurroundingProse(t *testing.T) {
	text := "Sure! Here are the companies:\n```json\n" +
		`[{"company_name":"Acme","contact_person":"Jane Doe","role":"CTO","website":"acme.test","email":"","phone":"","industry":"Retail","fit_reason":"Growing fast."},` +
		`{"companyName":"Beta","fitReason":"Alias keys."}]` +
		"\n```\nLet me know if you need more."
	leads, err := ExtractLeads(text)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("expected 2 leads, got %d", len(leads))
	}
	if leads[0].CompanyName != "Acme" || leads[0].ContactPerson != "Jane Doe" || leads[0].Industry != "Retail" {
		t.Fatalf("unexpected first lead: %+v", leads[0])
	}
	if leads[1].CompanyName != "Beta" || leads[1].FitReason != "Alias keys." || leads[1].Email != "" {
		t.Fatalf("unexpected second lead: %+v", leads[1])
	}
}

func TestExtractLeadsSkipsNonObjects(t *testing.T) {
	leads, err := ExtractLeads(`["nope", 42, null, {"company_name":"Only"}, [1]]`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(leads) != 1 || leads[0].CompanyName != "Only" {
		t.Fatalf("unexpected leads: %+v", leads)
	}
}

func TestExtractLeadsErrors(t *testing.T) {
	for _, text := range []string{"", "no brackets at all", "] backwards [", `[{"company_name": }]`} {
		if _, err := ExtractLeads(text); err == nil {
			t.Fatalf("expected error for %q", text)
		}
	}
}

func TestExtractLeadsScore(t *testing.T) {
	leads, err := ExtractLeads(`[{"score": 91.6}, {"score": "77%"}, {"score": 140}, {"score": -3}, {"score": "high"}, {"score": 1e20}, {"score": "-1e300"}]`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []int{92, 77, 100, 0}
	for i, w := range want {
		if leads[i].Score == nil || *leads[i].Score != w {
			t.Fatalf("lead %d: expected score %d, got %v", i, w, leads[i].Score)
		}
	}
	if leads[4].Score != nil {
		t.Fatalf("non-numeric score should be dropped")
	}
	if leads[5].Score == nil || *leads[5].Score != 100 || leads[6].Score == nil || *leads[6].Score != 0 {
		t.Fatalf("huge scores should clamp before rounding: %v %v", leads[5].Score, leads[6].Score)
	}
}

func TestNormalizeParsedEmptyArrayIsNotDegraded(t *testing.T) {
	structurer := &fakeGenerator{text: `[{"company_name":"x"}]`}
	res := NewNormalizer(structurer).Normalize(context.Background(), "No matches found: []")
	if res.Outcome != OutcomeParsed || len(res.Leads) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if structurer.Calls() != 0 {
		t.Fatalf("fallback must not run for a parsed array")
	}
}

func TestNormalizeFallsBackOnce(t *testing.T) {
	structurer := &fakeGenerator{text: "still prose"}
	res := NewNormalizer(structurer).Normalize(context.Background(), "prose only")
	if res.Outcome != OutcomeDegraded || res.Leads == nil || len(res.Leads) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if structurer.Calls() != 1 {
		t.Fatalf("expected exactly one fallback call, got %d", structurer.Calls())
	}
	if !strings.Contains(res.Reason, "primary") || !strings.Contains(res.Reason, "fallback") {
		t.Fatalf("reason should describe both passes: %q", res.Reason)
	}
}

func TestNormalizeWithoutStructurerDegrades(t *testing.T) {
	res := NewNormalizer(nil).Normalize(context.Background(), "{not an array}")
	if res.Outcome != OutcomeDegraded || !strings.Contains(res.Reason, errNoStructurer.Error()) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNormalizeStructurerErrorDegrades(t *testing.T) {
	res := NewNormalizer(&fakeGenerator{err: errors.New("timeout")}).Normalize(context.Background(), "prose")
	if res.Outcome != OutcomeDegraded || !strings.Contains(res.Reason, "timeout") {
		t.Fatalf("unexpected result: %+v", res)
	}
}
