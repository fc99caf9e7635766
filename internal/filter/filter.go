// Package filter decides which analyzed resources are reported as findings.
package filter

import (
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// IsPublicActive reports whether an analyzed resource is publicly
// accessible and its analysis status is ACTIVE.
func IsPublicActive(f finding.Finding) bool {
	return f.IsPublic && f.Status == finding.StatusActive
}

// Filter applies IsPublicActive plus an allow list of keys that are
// deliberately public.
type Filter struct {
	allowed map[string]bool
}

// New creates a new Filter from the allowed key ARNs.
func New(allowedKeys []string) *Filter {
	allowed := make(map[string]bool, len(allowedKeys))
	for _, arn := range allowedKeys {
		allowed[arn] = true
	}
	return &Filter{allowed: allowed}
}

// Allowed returns true if the key ARN is on the allow list.
func (f *Filter) Allowed(arn string) bool {
	return f.allowed[arn]
}

// Keep returns true if the analyzed resource should be reported.
func (f *Filter) Keep(r finding.Finding) bool {
	if !IsPublicActive(r) {
		return false
	}
	return !f.Allowed(r.ResourceARN)
}

// Apply returns only the resources that pass the filter, preserving order.
func (f *Filter) Apply(resources []finding.Finding) []finding.Finding {
	kept := make([]finding.Finding, 0, len(resources))
	for _, r := range resources {
		if f.Keep(r) {
			kept = append(kept, r)
		}
	}
	return kept
}

// IsEmpty returns true if no allow list is configured.
func (f *Filter) IsEmpty() bool {
	return len(f.allowed) == 0
}
