package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	aatypes "github.com/aws/aws-sdk-go-v2/service/accessanalyzer/types"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// ScanState tracks, for each resource whose scan started, whether the
// analyzer has reported it analyzed. A resource never goes back to pending.
type ScanState struct {
	order    []string
	analyzed map[string]bool
}

// NewScanState creates an empty scan state.
func NewScanState() *ScanState {
	return &ScanState{analyzed: make(map[string]bool)}
}

// Track records a started scan as pending. Tracking twice is a no-op.
func (s *ScanState) Track(arn string) {
	if _, ok := s.analyzed[arn]; ok {
		return
	}
	s.order = append(s.order, arn)
	s.analyzed[arn] = false
}

// MarkAnalyzed flips a tracked resource to analyzed. Untracked ARNs are
// ignored. It returns true if the resource was pending.
func (s *ScanState) MarkAnalyzed(arn string) bool {
	done, ok := s.analyzed[arn]
	if !ok || done {
		return false
	}
	s.analyzed[arn] = true
	return true
}

// Len returns the number of tracked resources.
func (s *ScanState) Len() int {
	return len(s.order)
}

// Pending returns the tracked resources not yet analyzed, in start order.
func (s *ScanState) Pending() []string {
	return s.filter(false)
}

// Analyzed returns the analyzed resources, in start order.
func (s *ScanState) Analyzed() []string {
	return s.filter(true)
}

func (s *ScanState) filter(analyzed bool) []string {
	out := make([]string, 0, len(s.order))
	for _, arn := range s.order {
		if s.analyzed[arn] == analyzed {
			out = append(out, arn)
		}
	}
	return out
}

// StartScans requests a resource scan for every ARN, one at a time.
// Only ARNs whose scan started are tracked; the rest are returned as
// failures and never polled for.
func (p *Plugin) StartScans(ctx context.Context, analyzerARN string, arns []string) (*ScanState, []finding.ResourceError) {
	ctx, span := p.tracer.Start(ctx, "kms.start_scans")
	defer span.End()

	state := NewScanState()
	var failures []finding.ResourceError

	log.Info().Str("analyzer", analyzerARN).Int("keys", len(arns)).Msg("starting resource scans")

	for _, arn := range arns {
		_, err := p.analyzerClient.StartResourceScan(ctx, &accessanalyzer.StartResourceScanInput{
			AnalyzerArn: aws.String(analyzerARN),
			ResourceArn: aws.String(arn),
		})
		if err != nil {
			log.Warn().Err(err).Str("resource_arn", arn).Msg("start resource scan failed")
			failures = append(failures, finding.ResourceError{ARN: arn, Err: fmt.Errorf("start resource scan: %w", err)})
			continue
		}

		log.Debug().Str("resource_arn", arn).Msg("resource scan started")
		state.Track(arn)
	}

	span.SetAttributes(
		attribute.Int("kmscheck.started", state.Len()),
		attribute.Int("kmscheck.start_failures", len(failures)),
	)
	return state, failures
}

// PollResult is the outcome of waiting for scans to complete.
type PollResult struct {
	Attempts int
	Analyzed []string
	Pending  []string
	Errors   []error
}

// WaitForAnalysis polls the analyzed-resources listing until every tracked
// resource is reported, or the attempt budget runs out. The listing is
// read at least once, even when nothing is tracked. Each attempt pages
// through the full listing. A listing error uses up the attempt.
// Resources still pending at the end are logged and left out.
func (p *Plugin) WaitForAnalysis(ctx context.Context, analyzerARN string, state *ScanState) PollResult {
	ctx, span := p.tracer.Start(ctx, "kms.wait_for_analysis")
	defer span.End()

	var result PollResult

	for attempt := 1; attempt <= p.opts.PollAttempts; attempt++ {
		result.Attempts = attempt

		if err := p.markAnalyzed(ctx, analyzerARN, state); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("list analyzed resources failed")
			result.Errors = append(result.Errors, err)
		}

		pending := len(state.Pending())
		log.Debug().Int("attempt", attempt).Int("pending", pending).Msg("polled analyzed resources")
		if pending == 0 || attempt == p.opts.PollAttempts {
			break
		}

		if err := p.sleep(ctx, p.opts.PollInterval); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("wait between attempts: %w", err))
			break
		}
	}

	result.Analyzed = state.Analyzed()
	result.Pending = state.Pending()

	if len(result.Pending) > 0 {
		log.Warn().
			Int("max_attempts", p.opts.PollAttempts).
			Int("attempts", result.Attempts).
			Strs("pending", result.Pending).
			Msg("resources were not analyzed within the attempt budget")
	}

	span.SetAttributes(
		attribute.Int("kmscheck.attempts", result.Attempts),
		attribute.Int("kmscheck.pending", len(result.Pending)),
	)
	return result
}

// markAnalyzed pages through the KMS analyzed-resources listing once and
// marks every tracked ARN it sees.
func (p *Plugin) markAnalyzed(ctx context.Context, analyzerARN string, state *ScanState) error {
	var nextToken *string

	for {
		output, err := p.analyzerClient.ListAnalyzedResources(ctx, &accessanalyzer.ListAnalyzedResourcesInput{
			AnalyzerArn:  aws.String(analyzerARN),
			ResourceType: aatypes.ResourceTypeAwsKmsKey,
			MaxResults:   aws.Int32(p.opts.ListPageSize),
			NextToken:    nextToken,
		})
		if err != nil {
			return fmt.Errorf("list analyzed resources: %w", err)
		}

		for _, r := range output.AnalyzedResources {
			state.MarkAnalyzed(aws.ToString(r.ResourceArn))
		}

		if aws.ToString(output.NextToken) == "" {
			return nil
		}
		nextToken = output.NextToken
	}
}
