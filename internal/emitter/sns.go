package emitter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog/log"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// SNSAPI defines the SNS operations used by SNSEmitter.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSEmitter publishes findings to an SNS topic.
type SNSEmitter struct {
	client   SNSAPI
	topicARN string
	subject  string
}

// NewSNSEmitter creates an SNS emitter.
func NewSNSEmitter(client SNSAPI, topicARN, subject string) *SNSEmitter {
	return &SNSEmitter{client: client, topicARN: topicARN, subject: subject}
}

// Emit publishes one message holding every finding. Nothing is sent when
// there are no findings.
func (e *SNSEmitter) Emit(ctx context.Context, report finding.Report) error {
	if !report.HasFindings() {
		return nil
	}

	body, err := finding.Marshal(report.Findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}

	out, err := e.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(e.topicARN),
		Subject:  aws.String(e.subject),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", e.topicARN, err)
	}

	log.Info().
		Str("topic", e.topicARN).
		Str("message_id", aws.ToString(out.MessageId)).
		Int("findings", len(report.Findings)).
		Msg("published findings to SNS")
	return nil
}

// Close is a no-op for the SNS emitter.
func (e *SNSEmitter) Close() error {
	return nil
}
