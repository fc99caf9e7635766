package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	aatypes "github.com/aws/aws-sdk-go-v2/service/accessanalyzer/types"
	"github.com/rs/zerolog/log"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/filter"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// CollectFindings fetches the detail of each analyzed resource and keeps
// the ones that are public and ACTIVE. A failed fetch skips that resource.
func (p *Plugin) CollectFindings(ctx context.Context, analyzerARN string, arns []string) ([]finding.Finding, []finding.ResourceError) {
	ctx, span := p.tracer.Start(ctx, "kms.collect_findings")
	defer span.End()

	resources := make([]finding.Finding, 0, len(arns))
	var failures []finding.ResourceError

	for _, arn := range arns {
		r, err := p.getAnalyzedResource(ctx, analyzerARN, arn)
		if err != nil {
			log.Warn().Err(err).Str("resource_arn", arn).Msg("get analyzed resource failed")
			failures = append(failures, finding.ResourceError{ARN: arn, Err: err})
			continue
		}
		p.logClassification(r)
		resources = append(resources, r)
	}

	return p.filter.Apply(resources), failures
}

func (p *Plugin) logClassification(r finding.Finding) {
	switch {
	case p.filter.Keep(r):
		log.Info().Str("resource_arn", r.ResourceARN).Strs("actions", r.Actions).Msg("found public KMS customer key")
	case !p.filter.IsEmpty() && filter.IsPublicActive(r):
		log.Info().Str("resource_arn", r.ResourceARN).Msg("public KMS customer key is allow-listed")
	default:
		log.Debug().Str("resource_arn", r.ResourceARN).Bool("is_public", r.IsPublic).Str("status", r.Status).Msg("key not public")
	}
}

func (p *Plugin) getAnalyzedResource(ctx context.Context, analyzerARN, arn string) (finding.Finding, error) {
	output, err := p.analyzerClient.GetAnalyzedResource(ctx, &accessanalyzer.GetAnalyzedResourceInput{
		AnalyzerArn: aws.String(analyzerARN),
		ResourceArn: aws.String(arn),
	})
	if err != nil {
		return finding.Finding{}, fmt.Errorf("get analyzed resource: %w", err)
	}
	if output.Resource == nil {
		return finding.Finding{}, ErrEmptyResource
	}
	return convertAnalyzedResource(*output.Resource), nil
}

func convertAnalyzedResource(r aatypes.AnalyzedResource) finding.Finding {
	return finding.Finding{
		ResourceARN:          aws.ToString(r.ResourceArn),
		ResourceType:         string(r.ResourceType),
		ResourceOwnerAccount: aws.ToString(r.ResourceOwnerAccount),
		IsPublic:             aws.ToBool(r.IsPublic),
		Status:               string(r.Status),
		AnalyzedAt:           r.AnalyzedAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		Actions:              r.Actions,
		SharedVia:            r.SharedVia,
		Error:                aws.ToString(r.Error),
	}
}
