package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"leadmachine/internal/util"
	"leadmachine/pkg/domain"
	"leadmachine/pkg/storage"
)

const defaultExportListLimit = 50

// ListExports returns the owner's exports, newest first, without lead bodies.
func (a *App) ListExports(user domain.User) ([]domain.LeadExport, error) {
	return a.store.ListExportsByOwner(user.ID, defaultExportListLimit)
}

// GetExport returns a full export. Exports of other users look missing.
func (a *App) GetExport(user domain.User, id string) (domain.LeadExport, error) {
	export, ok, err := a.store.GetExport(strings.TrimSpace(id))
	if err != nil {
		return domain.LeadExport{}, err
	}
	if !ok || export.OwnerUserID != user.ID {
		return domain.LeadExport{}, ErrExportNotFound
	}
	return export, nil
}

// DeleteExport removes an owned export and its raw-output archive, if any.
func (a *App) DeleteExport(ctx context.Context, user domain.User, id string) error {
	id = strings.TrimSpace(id)
	deleted, err := a.store.DeleteExport(user.ID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrExportNotFound
	}
	if a.objects != nil {
		if err := a.objects.Delete(ctx, storage.RawOutputKey(user.ID, id)); err != nil {
			util.LoggerFromContext(ctx).Warn("raw_archive_delete_failed", "export_id", id, "err", err)
		}
	}
	return nil
}

// Credits returns the caller's balance. Users without a row see an empty free plan.
func (a *App) Credits(user domain.User) (domain.CreditBalance, error) {
	balance, ok, err := a.store.GetCredits(user.ID)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	if !ok {
		return domain.CreditBalance{UserID: user.ID, Plan: domain.PlanFree}, nil
	}
	return balance, nil
}

// GrantCredits tops up a balance on behalf of the billing process.
func (a *App) GrantCredits(userID string, amount int, plan domain.Plan) (domain.CreditBalance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || amount <= 0 {
		return domain.CreditBalance{}, ErrInvalidGrant
	}
	switch plan {
	case "", domain.PlanFree, domain.PlanStarter, domain.PlanPro:
	default:
		return domain.CreditBalance{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidGrant, plan)
	}
	return a.store.GrantCredits(userID, amount, plan)
}

// Profile returns the saved business profile used to prefill the form.
func (a *App) Profile(user domain.User) (domain.BusinessProfile, error) {
	profile, ok, err := a.store.GetBusinessProfile(user.ID)
	if err != nil {
		return domain.BusinessProfile{}, err
	}
	if !ok {
		return domain.BusinessProfile{UserID: user.ID}, nil
	}
	return profile, nil
}

// SaveProfile applies a partial update to the caller's business profile.
// Fields absent from patch keep their stored values.
func (a *App) SaveProfile(user domain.User, patch domain.ProfilePatch) (domain.BusinessProfile, error) {
	for _, f := range []*string{patch.CompanyURL, patch.CompanyName} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
	return a.store.PatchBusinessProfile(user.ID, patch, a.now())
}

// Analytics summarizes the caller's exports over a trailing window.
type Analytics struct {
	Days              int             `json:"days"`
	ExportCount       int             `json:"exportCount"`
	TotalLeads        int             `json:"totalLeads"`
	AvgLeadsPerExport int             `json:"avgLeadsPerExport"`
	AvgScore          int             `json:"avgScore"`
	TopIndustries     []IndustryCount `json:"topIndustries"`
	ScoreDistribution []ScoreBucket   `json:"scoreDistribution"`
	Timeline          []TimelinePoint `json:"timeline"`
}

type IndustryCount struct {
	Industry string `json:"industry"`
	Leads    int    `json:"leads"`
}

// ScoreBucket counts leads whose score falls in Range, bounds inclusive.
type ScoreBucket struct {
	Range string `json:"range"`
	Min   int    `json:"-"`
	Leads int    `json:"leads"`
}

// TimelinePoint is one day's lead count and mean score.
type TimelinePoint struct {
	Date     string `json:"date"`
	Leads    int    `json:"leads"`
	AvgScore int    `json:"avgScore"`
}

// defaultLeadScore stands in for leads the model did not score.
const defaultLeadScore = 85

func newScoreBuckets() []ScoreBucket {
	return []ScoreBucket{
		{Range: "90-100", Min: 90},
		{Range: "80-89", Min: 80},
		{Range: "70-79", Min: 70},
		{Range: "60-69", Min: 60},
		{Range: "Below 60", Min: math.MinInt},
	}
}

// Analytics aggregates exports created in the last days days.
func (a *App) Analytics(user domain.User, days int) (Analytics, error) {
	if days <= 0 {
		days = 30
	}
	since := a.now().AddDate(0, 0, -days)
	exports, err := a.store.ListExportsSince(user.ID, since)
	if err != nil {
		return Analytics{}, err
	}
	out := Analytics{
		Days:              days,
		ExportCount:       len(exports),
		TopIndustries:     []IndustryCount{},
		ScoreDistribution: newScoreBuckets(),
		Timeline:          []TimelinePoint{},
	}
	industries := make(map[string]int)
	scoreSum, scored := 0, 0
	type dayTotals struct{ leads, scoreSum, scored int }
	byDay := make(map[string]*dayTotals)
	dayOrder := make([]string, 0)
	for _, e := range exports {
		out.TotalLeads += e.LeadCount
		day := e.CreatedAt.UTC().Format(time.DateOnly)
		totals, seen := byDay[day]
		if !seen {
			totals = &dayTotals{}
			byDay[day] = totals
			dayOrder = append(dayOrder, day)
		}
		totals.leads += e.LeadCount
		for _, l := range e.Leads {
			industry := strings.TrimSpace(l.Industry)
			if industry == "" {
				industry = "Other"
			}
			industries[industry]++
			score := defaultLeadScore
			if l.Score != nil {
				score = *l.Score
			}
			scoreSum += score
			scored++
			totals.scoreSum += score
			totals.scored++
			for i := range out.ScoreDistribution {
				if score >= out.ScoreDistribution[i].Min {
					out.ScoreDistribution[i].Leads++
					break
				}
			}
		}
	}
	if out.ExportCount > 0 {
		out.AvgLeadsPerExport = roundDiv(out.TotalLeads, out.ExportCount)
	}
	if scored > 0 {
		out.AvgScore = roundDiv(scoreSum, scored)
	}
	for name, n := range industries {
		out.TopIndustries = append(out.TopIndustries, IndustryCount{Industry: name, Leads: n})
	}
	sort.Slice(out.TopIndustries, func(i, j int) bool {
		if out.TopIndustries[i].Leads != out.TopIndustries[j].Leads {
			return out.TopIndustries[i].Leads > out.TopIndustries[j].Leads
		}
		return out.TopIndustries[i].Industry < out.TopIndustries[j].Industry
	})
	if len(out.TopIndustries) > 5 {
		out.TopIndustries = out.TopIndustries[:5]
	}
	for _, day := range dayOrder {
		t := byDay[day]
		point := TimelinePoint{Date: day, Leads: t.leads}
		if t.scored > 0 {
			point.AvgScore = roundDiv(t.scoreSum, t.scored)
		}
		out.Timeline = append(out.Timeline, point)
	}
	return out, nil
}

func roundDiv(sum, n int) int {
	return (sum*2 + n) / (2 * n)
}
