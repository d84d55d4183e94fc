package app

import (
	"strings"

	"leadmachine/pkg/domain"
)

// ValidateRequest trims every field and rejects requests without a company
// URL or description. It never touches the network or the store.
func ValidateRequest(req domain.GenerationRequest) (domain.GenerationRequest, error) {
	req.CompanyURL = strings.TrimSpace(req.CompanyURL)
	req.Description = strings.TrimSpace(req.Description)
	req.TargetLocation = strings.TrimSpace(req.TargetLocation)
	req.TargetIndustry = strings.TrimSpace(req.TargetIndustry)
	req.IdealClientDescription = strings.TrimSpace(req.IdealClientDescription)
	req.FacebookURL = strings.TrimSpace(req.FacebookURL)
	req.InstagramURL = strings.TrimSpace(req.InstagramURL)
	req.LinkedInURL = strings.TrimSpace(req.LinkedInURL)
	if req.CompanyURL == "" || req.Description == "" {
		return req, ErrValidation
	}
	return req, nil
}
