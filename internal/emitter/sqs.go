package emitter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// SQSAPI defines the SQS operations used by SQSEmitter.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSEmitter sends findings to a queue.
type SQSEmitter struct {
	client   SQSAPI
	queueURL string
}

// NewSQSEmitter creates an SQS emitter.
func NewSQSEmitter(client SQSAPI, queueURL string) *SQSEmitter {
	return &SQSEmitter{client: client, queueURL: queueURL}
}

// Emit sends the findings array as one message. Nothing is sent when
// there are no findings.
func (e *SQSEmitter) Emit(ctx context.Context, report finding.Report) error {
	if !report.HasFindings() {
		return nil
	}

	body, err := finding.Marshal(report.Findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}

	out, err := e.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}

	log.Info().
		Str("queue", e.queueURL).
		Str("message_id", aws.ToString(out.MessageId)).
		Int("findings", len(report.Findings)).
		Msg("sent findings to SQS")
	return nil
}

// Close is a no-op for the SQS emitter.
func (e *SQSEmitter) Close() error {
	return nil
}
