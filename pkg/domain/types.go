package domain

import "time"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// GenerationRequest is the business description submitted for one generation.
type GenerationRequest struct {
	CompanyURL             string `json:"companyUrl"`
	Description            string `json:"description"`
	TargetLocation         string `json:"targetLocation,omitempty"`
	TargetIndustry         string `json:"targetIndustry,omitempty"`
	IdealClientDescription string `json:"idealClient,omitempty"`
	FacebookURL            string `json:"facebookUrl,omitempty"`
	InstagramURL           string `json:"instagramUrl,omitempty"`
	LinkedInURL            string `json:"linkedinUrl,omitempty"`
}

// Lead is a single prospect produced by a generation. Field names follow the
// JSON shape the research model is asked to return.
type Lead struct {
	CompanyName   string `json:"company_name"`
	ContactPerson string `json:"contact_person"`
	Role          string `json:"role"`
	Website       string `json:"website"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Industry      string `json:"industry"`
	FitReason     string `json:"fit_reason"`
	Score         *int   `json:"score,omitempty"`
}

type CreditBalance struct {
	UserID    string    `json:"userId"`
	Balance   int       `json:"balance"`
	TotalUsed int       `json:"totalUsed"`
	Plan      Plan      `json:"plan"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type LeadExport struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"ownerUserId"`
	Name        string    `json:"name"`
	Leads       []Lead    `json:"leads,omitempty"`
	LeadCount   int       `json:"leadCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type BusinessProfile struct {
	UserID                 string    `json:"userId"`
	CompanyURL             string    `json:"companyUrl"`
	CompanyName            string    `json:"companyName,omitempty"`
	Description            string    `json:"description"`
	TargetLocation         string    `json:"targetLocation"`
	TargetIndustry         string    `json:"targetIndustry"`
	IdealClientDescription string    `json:"idealClient"`
	FacebookURL            string    `json:"facebookUrl"`
	InstagramURL           string    `json:"instagramUrl"`
	LinkedInURL            string    `json:"linkedinUrl"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// ProfilePatch is a partial profile update. Nil fields keep their stored value.
type ProfilePatch struct {
	CompanyURL             *string `json:"companyUrl"`
	CompanyName            *string `json:"companyName"`
	Description            *string `json:"description"`
	TargetLocation         *string `json:"targetLocation"`
	TargetIndustry         *string `json:"targetIndustry"`
	IdealClientDescription *string `json:"idealClient"`
	FacebookURL            *string `json:"facebookUrl"`
	InstagramURL           *string `json:"instagramUrl"`
	LinkedInURL            *string `json:"linkedinUrl"`
}

// Apply copies the set fields of p onto dst.
func (p ProfilePatch) Apply(dst *BusinessProfile) {
	set := func(to *string, from *string) {
		if from != nil {
			*to = *from
		}
	}
	set(&dst.CompanyURL, p.CompanyURL)
	set(&dst.CompanyName, p.CompanyName)
	set(&dst.Description, p.Description)
	set(&dst.TargetLocation, p.TargetLocation)
	set(&dst.TargetIndustry, p.TargetIndustry)
	set(&dst.IdealClientDescription, p.IdealClientDescription)
	set(&dst.FacebookURL, p.FacebookURL)
	set(&dst.InstagramURL, p.InstagramURL)
	set(&dst.LinkedInURL, p.LinkedInURL)
}

type ContactMessage struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	AIResponse string    `json:"ai_response"`
	CreatedAt  time.Time `json:"createdAt"`
}

// User is the authenticated caller identity resolved from an access token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}
