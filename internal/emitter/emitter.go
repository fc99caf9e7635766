// Package emitter delivers check results to notification backends.
package emitter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// Emitter outputs a check report to a backend.
type Emitter interface {
	// Emit sends the report to the backend.
	Emit(ctx context.Context, report finding.Report) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, report finding.Report) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, report); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}

// New builds the notifier for the configured channel. The completion log
// line is always emitted first.
func New(cfg config.NotifyConfig, awsCfg aws.Config) (*MultiEmitter, error) {
	emitters := []Emitter{NewLogEmitter()}

	switch cfg.Channel {
	case config.ChannelSNS:
		emitters = append(emitters, NewSNSEmitter(sns.NewFromConfig(awsCfg), cfg.TopicARN, cfg.Subject))
	case config.ChannelEventBridge:
		emitters = append(emitters, NewEventBridgeEmitter(eventbridge.NewFromConfig(awsCfg), EventBridgeConfig{
			Bus:        cfg.EventBus,
			Source:     cfg.EventSource,
			DetailType: cfg.DetailType,
		}))
	case config.ChannelSQS:
		emitters = append(emitters, NewSQSEmitter(sqs.NewFromConfig(awsCfg), cfg.QueueURL))
	case config.ChannelNone, "":
	default:
		return nil, fmt.Errorf("unknown notify channel %q", cfg.Channel)
	}

	return NewMultiEmitter(emitters...), nil
}
