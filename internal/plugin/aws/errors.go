package aws

import "errors"

var (
	// ErrNoAnalyzer is returned when no analyzer ARN could be obtained.
	ErrNoAnalyzer = errors.New("no access analyzer available")
	// ErrEmptyResource is returned when an analyzed resource has no detail.
	ErrEmptyResource = errors.New("analyzed resource has no detail")
	// ErrNoKeyMetadata is returned when DescribeKey returns no metadata.
	ErrNoKeyMetadata = errors.New("key has no metadata")
)
