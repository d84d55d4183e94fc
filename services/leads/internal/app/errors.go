package app

import "errors"

var (
	// ErrValidation indicates a required request field is missing.
	ErrValidation = errors.New("company URL and description are required")
	// ErrInsufficientCredits indicates the caller has no credit left.
	ErrInsufficientCredits = errors.New("no credits remaining, please upgrade your plan")
	// ErrRateLimited indicates the research provider throttled the call.
	ErrRateLimited = errors.New("rate limited, please wait a moment and try again")
	// ErrGenerationFailed indicates any other upstream or processing failure.
	ErrGenerationFailed = errors.New("failed to generate leads, please try again")
	// ErrProviderNotConfigured indicates no research API key is set.
	ErrProviderNotConfigured = errors.New("research provider not configured")
	// ErrExportNotFound covers both missing exports and exports owned by someone else.
	ErrExportNotFound = errors.New("export not found")
	// ErrInvalidGrant indicates a malformed credit grant.
	ErrInvalidGrant = errors.New("invalid credit grant")
)
