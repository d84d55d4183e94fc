package app

import (
	"fmt"
	"strings"

	"leadmachine/pkg/domain"
)

// LeadsPerGeneration is how many candidate companies the researcher asks for.
const LeadsPerGeneration = 10

const researchSystemPrompt = "You are a B2B lead research assistant. Always return valid JSON arrays. " +
	"Only include real companies with publicly available information. Never fabricate contact details."

const structuringSystemPrompt = "Extract lead data from the text and return ONLY a JSON array with objects having keys: " +
	"company_name, contact_person, role, website, email, phone, industry, fit_reason. No other text."

// BuildResearchPrompt renders the user prompt for the research model.
// Optional constraints appear only when set.
func BuildResearchPrompt(req domain.GenerationRequest) string {
	var b strings.Builder
	b.WriteString("I need to find potential B2B clients for a company. Here are the details:\n\n")
	fmt.Fprintf(&b, "Company website: %s\n", req.CompanyURL)
	fmt.Fprintf(&b, "What they do: %s\n", req.Description)
	if req.IdealClientDescription != "" {
		fmt.Fprintf(&b, "Ideal client: %s.\n", strings.TrimRight(req.IdealClientDescription, "."))
	}
	if socials := socialLinks(req); socials != "" {
		fmt.Fprintf(&b, "Social profiles: %s\n", socials)
	}

	b.WriteString("\nFind ")
	fmt.Fprintf(&b, "%d real companies", LeadsPerGeneration)
	if req.TargetLocation != "" {
		fmt.Fprintf(&b, " in %s", req.TargetLocation)
	}
	if req.TargetIndustry != "" {
		fmt.Fprintf(&b, " in the %s industry", req.TargetIndustry)
	}
	b.WriteString(" that would be ideal customers for this business. For each company, provide:\n")
	b.WriteString("1. Company Name\n")
	b.WriteString("2. Contact Person (a real decision-maker if findable, otherwise the likely title)\n")
	b.WriteString("3. Their Role/Title\n")
	b.WriteString("4. Company Website\n")
	b.WriteString("5. Public Email (only publicly available)\n")
	b.WriteString("6. Phone (if publicly available)\n")
	b.WriteString("7. Industry\n")
	b.WriteString("8. A short reason (1-2 sentences) why they're a good fit\n\n")
	b.WriteString("Only include real, existing companies with publicly available information. Never fabricate contact details. ")
	b.WriteString("Format as a JSON array with keys: company_name, contact_person, role, website, email, phone, industry, fit_reason")
	return b.String()
}

func socialLinks(req domain.GenerationRequest) string {
	parts := make([]string, 0, 3)
	if req.LinkedInURL != "" {
		parts = append(parts, "LinkedIn "+req.LinkedInURL)
	}
	if req.FacebookURL != "" {
		parts = append(parts, "Facebook "+req.FacebookURL)
	}
	if req.InstagramURL != "" {
		parts = append(parts, "Instagram "+req.InstagramURL)
	}
	return strings.Join(parts, ", ")
}
