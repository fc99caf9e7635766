package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	aatypes "github.com/aws/aws-sdk-go-v2/service/accessanalyzer/types"
	"github.com/rs/zerolog/log"
)

// ResolveAnalyzer returns the ARN of the first ACTIVE account analyzer,
// creating one when none exists. On failure it logs and returns an empty
// ARN with the error; callers decide whether to carry on.
func (p *Plugin) ResolveAnalyzer(ctx context.Context) (string, error) {
	ctx, span := p.tracer.Start(ctx, "kms.resolve_analyzer")
	defer span.End()

	if p.opts.AnalyzerARN != "" {
		log.Debug().Str("analyzer", p.opts.AnalyzerARN).Msg("using configured analyzer")
		return p.opts.AnalyzerARN, nil
	}

	arn, err := p.resolveAnalyzer(ctx)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("get analyzer failed")
		return "", err
	}

	log.Info().Str("analyzer", arn).Msg("using access analyzer")
	return arn, nil
}

func (p *Plugin) resolveAnalyzer(ctx context.Context) (string, error) {
	arn, err := p.findActiveAnalyzer(ctx)
	if err != nil {
		return "", err
	}
	if arn != "" {
		return arn, nil
	}
	return p.createAnalyzer(ctx)
}

// findActiveAnalyzer pages through account analyzers and returns the
// first ACTIVE one, or "" if there is none.
func (p *Plugin) findActiveAnalyzer(ctx context.Context) (string, error) {
	var nextToken *string

	for {
		output, err := p.analyzerClient.ListAnalyzers(ctx, &accessanalyzer.ListAnalyzersInput{
			Type:      aatypes.TypeAccount,
			NextToken: nextToken,
		})
		if err != nil {
			return "", fmt.Errorf("list analyzers: %w", err)
		}

		for _, a := range output.Analyzers {
			if a.Status == aatypes.AnalyzerStatusActive {
				return aws.ToString(a.Arn), nil
			}
		}

		if output.NextToken == nil {
			return "", nil
		}
		nextToken = output.NextToken
	}
}

func (p *Plugin) createAnalyzer(ctx context.Context) (string, error) {
	suffix, err := p.newName()
	if err != nil {
		return "", fmt.Errorf("generate analyzer name: %w", err)
	}
	name := p.opts.NamePrefix + suffix

	output, err := p.analyzerClient.CreateAnalyzer(ctx, &accessanalyzer.CreateAnalyzerInput{
		AnalyzerName: aws.String(name),
		Type:         aatypes.TypeAccount,
	})
	if err != nil {
		return "", fmt.Errorf("create analyzer %s: %w", name, err)
	}
	if aws.ToString(output.Arn) == "" {
		return "", fmt.Errorf("create analyzer %s: %w", name, ErrNoAnalyzer)
	}

	log.Info().Str("analyzer", aws.ToString(output.Arn)).Str("name", name).Msg("created access analyzer")
	return aws.ToString(output.Arn), nil
}
