package finding

// DiffType represents the type of change detected between runs.
type DiffType string

const (
	// DiffAdded indicates a key became publicly accessible.
	DiffAdded DiffType = "added"
	// DiffResolved indicates a key is no longer publicly accessible.
	DiffResolved DiffType = "resolved"
	// DiffModified indicates the sharing details of a public key changed.
	DiffModified DiffType = "modified"
)

// Change represents a single field change.
// The field name is the map key in Diff.Changes.
type Change struct {
	Previous string
	Current  string
}

// Diff represents a detected change in a finding.
type Diff struct {
	Type     DiffType
	Finding  Finding
	Previous *Finding          // nil for added findings
	Changes  map[string]Change // field name → change details
}

// Key returns a unique key for identifying a finding across runs.
func Key(f Finding) string {
	return f.ResourceARN
}
