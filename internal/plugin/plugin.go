// Package plugin defines the interface a public-access check implements.
package plugin

import (
	"context"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// Plugin runs one public-access check against a cloud account.
type Plugin interface {
	// Name returns the plugin identifier (e.g., "aws-kms").
	Name() string

	// Scan runs the check end to end and reports every step's outcome.
	// Per-resource failures land in the report, not in the error.
	Scan(ctx context.Context) (finding.Report, error)
}
