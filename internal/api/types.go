package api

import (
	"github.com/rsclarke/firmcheck/internal/domaincheck"
	"github.com/rsclarke/firmcheck/internal/existence"
)

type CheckRequest struct {
	CompanyName string   `json:"company_name"`
	Domains     []string `json:"domains,omitempty"`
	Refresh     bool     `json:"refresh,omitempty"`
}

// CheckResponse is the full existence report.
type CheckResponse = existence.Report

type ValidateDomainsRequest struct {
	Domains []string `json:"domains"`
}

type ValidateDomainsResponse struct {
	Results []domaincheck.Validation `json:"results"`
}

type ClearCacheResponse struct {
	Namespace string `json:"namespace,omitempty"`
	Cleared   int    `json:"cleared"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
