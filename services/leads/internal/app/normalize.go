package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"leadmachine/pkg/ai"
	"leadmachine/pkg/domain"
)

// Outcome tells how a lead list was obtained from model text.
type Outcome string

const (
	// OutcomeParsed: the research response contained a JSON array.
	OutcomeParsed Outcome = "parsed"
	// OutcomeRecovered: the structuring model produced the array.
	OutcomeRecovered Outcome = "recovered"
	// OutcomeDegraded: both passes failed; Leads is empty and Reason says why.
	OutcomeDegraded Outcome = "degraded"
)

// NormalizeResult is the normalizer's explicit result. A parsed empty array
// and a degraded result are distinguishable by Outcome.
type NormalizeResult struct {
	Leads   []domain.Lead
	Outcome Outcome
	Reason  string
}

var (
	errNoArray        = errors.New("no JSON array found")
	errNoStructurer   = errors.New("no structuring model configured")
	errEmptyStructure = errors.New("structuring model returned no text")
)

// Normalizer turns free-form model output into leads.
type Normalizer struct {
	structurer ai.TextGenerator
}

// NewNormalizer returns a normalizer. structurer may be nil, which disables
// the fallback pass.
func NewNormalizer(structurer ai.TextGenerator) *Normalizer {
	return &Normalizer{structurer: structurer}
}

// Normalize never fails: at worst it returns OutcomeDegraded with no leads.
// The structuring model is called at most once, and only when the direct
// extraction fails.
func (n *Normalizer) Normalize(ctx context.Context, raw string) NormalizeResult {
	leads, primaryErr := ExtractLeads(raw)
	if primaryErr == nil {
		return NormalizeResult{Leads: leads, Outcome: OutcomeParsed}
	}
	leads, fallbackErr := n.recover(ctx, raw)
	if fallbackErr == nil {
		return NormalizeResult{Leads: leads, Outcome: OutcomeRecovered}
	}
	return NormalizeResult{
		Leads:   []domain.Lead{},
		Outcome: OutcomeDegraded,
		Reason:  fmt.Sprintf("primary: %v; fallback: %v", primaryErr, fallbackErr),
	}
}

func (n *Normalizer) recover(ctx context.Context, raw string) ([]domain.Lead, error) {
	if n == nil || n.structurer == nil {
		return nil, errNoStructurer
	}
	text, err := n.structurer.GenerateText(ctx, structuringSystemPrompt, raw)
	if err != nil {
		return nil, fmt.Errorf("structuring call: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errEmptyStructure
	}
	return ExtractLeads(text)
}

// ExtractLeads parses the substring from the first '[' to the last ']' as a
// JSON array. Object elements become leads in array order; other elements
// are skipped. Missing fields stay empty.
func ExtractLeads(text string) ([]domain.Lead, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, errNoArray
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("malformed JSON array: %w", err)
	}
	leads := make([]domain.Lead, 0, len(items))
	for _, item := range items {
		var fields map[string]any
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		leads = append(leads, leadFromFields(fields))
	}
	return leads, nil
}

func leadFromFields(f map[string]any) domain.Lead {
	lead := domain.Lead{
		CompanyName:   firstString(f, "company_name", "companyName", "company"),
		ContactPerson: firstString(f, "contact_person", "contactPerson", "contact"),
		Role:          firstString(f, "role", "title"),
		Website:       firstString(f, "website", "url"),
		Email:         firstString(f, "email"),
		Phone:         firstString(f, "phone"),
		Industry:      firstString(f, "industry"),
		FitReason:     firstString(f, "fit_reason", "fitReason", "reason"),
	}
	if score, ok := scoreValue(f["score"]); ok {
		lead.Score = &score
	}
	return lead
}

func firstString(f map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t)
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		default:
			raw, _ := json.Marshal(t)
			return string(raw)
		}
	}
	return ""
}

func scoreValue(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return int(math.Round(math.Max(0, math.Min(100, f)))), true
}
