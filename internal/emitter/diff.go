package emitter

import (
	"slices"
	"strings"
	"sync"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// DiffTracker tracks public keys between runs and detects changes.
type DiffTracker struct {
	mu          sync.RWMutex
	previous    map[string]finding.Finding
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]finding.Finding),
	}
}

// Seed sets the baseline without computing a diff, for example from
// stored history after a restart.
func (d *DiffTracker) Seed(findings []finding.Finding) {
	d.Update(findings)
}

// ComputeDiff compares current findings against the previous run.
// Returns nil before a baseline exists.
// Returns empty slice if no changes detected.
// Diffs are ordered by key ARN.
func (d *DiffTracker) ComputeDiff(current []finding.Finding) []finding.Diff {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	currentMap := indexFindings(current)
	diffs := make([]finding.Diff, 0)
	diffs = append(diffs, d.findResolvedAndModified(currentMap)...)
	diffs = append(diffs, d.findAdded(currentMap)...)

	slices.SortFunc(diffs, func(a, b finding.Diff) int {
		return strings.Compare(finding.Key(a.Finding), finding.Key(b.Finding))
	})
	return diffs
}

func indexFindings(findings []finding.Finding) map[string]finding.Finding {
	m := make(map[string]finding.Finding, len(findings))
	for _, f := range findings {
		m[finding.Key(f)] = f
	}
	return m
}

func (d *DiffTracker) findResolvedAndModified(currentMap map[string]finding.Finding) []finding.Diff {
	var diffs []finding.Diff
	for key, prev := range d.previous {
		prevCopy := prev
		curr, exists := currentMap[key]
		if !exists {
			diffs = append(diffs, finding.Diff{
				Type:     finding.DiffResolved,
				Finding:  prev,
				Previous: &prevCopy,
			})
			continue
		}
		if changes := detectChanges(prev, curr); len(changes) > 0 {
			diffs = append(diffs, finding.Diff{
				Type:     finding.DiffModified,
				Finding:  curr,
				Previous: &prevCopy,
				Changes:  changes,
			})
		}
	}
	return diffs
}

func (d *DiffTracker) findAdded(currentMap map[string]finding.Finding) []finding.Diff {
	var diffs []finding.Diff
	for key, curr := range currentMap {
		if _, exists := d.previous[key]; !exists {
			diffs = append(diffs, finding.Diff{
				Type:    finding.DiffAdded,
				Finding: curr,
			})
		}
	}
	return diffs
}

// Carry returns the report's findings plus the previously public keys the
// run did not resolve, such as pending keys or keys whose detail fetch
// failed.
func (d *DiffTracker) Carry(report finding.Report) []finding.Finding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	current := slices.Clone(report.Findings)
	seen := indexFindings(current)
	res := report.Resolution()

	var carried []finding.Finding
	for key, prev := range d.previous {
		if _, ok := seen[key]; ok || res.Resolved(prev.ResourceARN) {
			continue
		}
		carried = append(carried, prev)
	}
	slices.SortFunc(carried, func(a, b finding.Finding) int {
		return strings.Compare(finding.Key(a), finding.Key(b))
	})
	return append(current, carried...)
}

// Update stores the current findings as the new baseline.
func (d *DiffTracker) Update(current []finding.Finding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.previous = indexFindings(current)
	d.initialized = true
}

// detectChanges compares the sharing details of two findings for the
// same key. Timestamps are excluded as they move on every analysis.
func detectChanges(prev, curr finding.Finding) map[string]finding.Change {
	changes := make(map[string]finding.Change)

	if prev.Status != curr.Status {
		changes["status"] = finding.Change{Previous: prev.Status, Current: curr.Status}
	}

	if !sameSet(prev.Actions, curr.Actions) {
		changes["actions"] = finding.Change{Previous: joinSorted(prev.Actions), Current: joinSorted(curr.Actions)}
	}

	if !sameSet(prev.SharedVia, curr.SharedVia) {
		changes["shared_via"] = finding.Change{Previous: joinSorted(prev.SharedVia), Current: joinSorted(curr.SharedVia)}
	}

	return changes
}

func sameSet(a, b []string) bool {
	return joinSorted(a) == joinSorted(b)
}

func joinSorted(values []string) string {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return strings.Join(sorted, ",")
}
