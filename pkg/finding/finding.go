// Package finding defines the finding model and run report for the KMS check.
package finding

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceTypeKMSKey is the Access Analyzer resource type for KMS keys.
const ResourceTypeKMSKey = "AWS::KMS::Key"

// StatusActive is the analyzed resource status kept as a finding.
const StatusActive = "ACTIVE"

// Finding is an analyzed resource reported as publicly accessible.
// Timestamps marshal as RFC 3339 text.
type Finding struct {
	ResourceARN          string     `json:"resourceArn"`
	ResourceType         string     `json:"resourceType"`
	ResourceOwnerAccount string     `json:"resourceOwnerAccount"`
	IsPublic             bool       `json:"isPublic"`
	Status               string     `json:"status"`
	AnalyzedAt           *time.Time `json:"analyzedAt,omitempty"`
	CreatedAt            *time.Time `json:"createdAt,omitempty"`
	UpdatedAt            *time.Time `json:"updatedAt,omitempty"`
	Actions              []string   `json:"actions"`
	SharedVia            []string   `json:"sharedVia"`
	Error                string     `json:"error,omitempty"`
}

// ResourceError ties a per-resource failure to its ARN.
type ResourceError struct {
	ARN string
	Err error
}

func (e ResourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.ARN, e.Err)
}

func (e ResourceError) Unwrap() error {
	return e.Err
}

// RunStatus classifies the outcome of a run.
type RunStatus string

const (
	// RunClean means every step completed for every key.
	RunClean RunStatus = "clean"
	// RunPartial means some keys were not scanned, analyzed or fetched.
	RunPartial RunStatus = "partial"
	// RunFailed means no analyzer could be resolved.
	RunFailed RunStatus = "failed"
)

// Report holds the outcome of one scan run.
type Report struct {
	Account     string
	Region      string
	AnalyzerARN string
	StartedAt   time.Time
	Duration    time.Duration

	// CustomerKeys lists the customer-managed key ARNs in listing order.
	CustomerKeys []string
	// Analyzed lists keys reported analyzed within the poll budget.
	Analyzed []string
	// Pending lists keys still not analyzed when the poll budget ran out.
	Pending []string
	// Attempts is the number of poll attempts used.
	Attempts int

	ScanFailures  []ResourceError
	FetchFailures []ResourceError
	PollErrors    []error

	AnalyzerErr error
	KeysErr     error

	Findings []Finding
}

// Status derives the run classification from the recorded outcomes.
func (r Report) Status() RunStatus {
	if r.AnalyzerErr != nil || r.AnalyzerARN == "" {
		return RunFailed
	}
	if r.KeysErr != nil || len(r.ScanFailures) > 0 || len(r.Pending) > 0 ||
		len(r.FetchFailures) > 0 || len(r.PollErrors) > 0 {
		return RunPartial
	}
	return RunClean
}

// Resolution decides which previously public keys a run shows are no
// longer public.
type Resolution struct {
	public   map[string]bool
	analyzed map[string]bool
	listed   map[string]bool
	complete bool
}

// Resolution builds the resolution rules for the report. A key is resolved
// when its analysis was fetched and it is not a finding, or when a complete
// key listing no longer contains it. Pending keys and keys whose scan start
// or detail fetch failed keep their previous state.
func (r Report) Resolution() Resolution {
	res := Resolution{
		public:   make(map[string]bool, len(r.Findings)),
		analyzed: toSet(r.Analyzed),
		listed:   toSet(r.CustomerKeys),
		complete: r.KeysErr == nil,
	}
	for _, f := range r.Findings {
		res.public[f.ResourceARN] = true
	}
	for _, failure := range r.FetchFailures {
		delete(res.analyzed, failure.ARN)
	}
	return res
}

// Resolved reports whether arn is known to be no longer public.
func (res Resolution) Resolved(arn string) bool {
	if res.public[arn] {
		return false
	}
	if res.analyzed[arn] {
		return true
	}
	return res.complete && !res.listed[arn]
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// HasFindings reports whether any public key was found.
func (r Report) HasFindings() bool {
	return len(r.Findings) > 0
}

// ARNs returns the resource ARNs of the findings in order.
func ARNs(findings []Finding) []string {
	arns := make([]string, 0, len(findings))
	for _, f := range findings {
		arns = append(arns, f.ResourceARN)
	}
	return arns
}

// Marshal renders findings as an indented JSON array. A nil slice renders as [].
func Marshal(findings []Finding) ([]byte, error) {
	if findings == nil {
		findings = []Finding{}
	}
	b, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal findings: %w", err)
	}
	return b, nil
}

// Unmarshal parses a JSON array produced by Marshal.
func Unmarshal(data []byte) ([]Finding, error) {
	var findings []Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, fmt.Errorf("unmarshal findings: %w", err)
	}
	return findings, nil
}
