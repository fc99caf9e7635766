// Command lambda runs the KMS public access check as an AWS Lambda
// function, typically triggered by an EventBridge schedule.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/daemon"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/emitter"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/plugin"
	awsplugin "github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/plugin/aws"
)

// checkFactory builds the plugin and notifier for one invocation.
type checkFactory func(ctx context.Context, cfg *config.Config) (plugin.Plugin, emitter.Emitter, error)

func main() {
	lambda.Start(newHandler(newCheck))
}

// newHandler returns the Lambda handler. Partial failures of a run are
// logged and never fail the invocation; only configuration or client
// construction errors are returned.
func newHandler(factory checkFactory) func(ctx context.Context, event events.CloudWatchEvent) error {
	return func(ctx context.Context, event events.CloudWatchEvent) error {
		cfg, err := config.Default()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		setupLogging(cfg.Log, os.Stdout)

		log.Debug().Str("event_id", event.ID).Str("source", event.Source).Msg("invoked")

		p, notifier, err := factory(ctx, cfg)
		if err != nil {
			return err
		}

		d, err := daemon.NewDaemon(daemon.Config{OneShot: true}, p, notifier, nil)
		if err != nil {
			return err
		}
		defer func() { _ = d.Close() }()

		d.RunOnce(ctx)
		return nil
	}
}

func newCheck(ctx context.Context, cfg *config.Config) (plugin.Plugin, emitter.Emitter, error) {
	awsCfg, err := awsplugin.LoadAWSConfig(ctx, cfg.AWS.Region, cfg.AWS.Profile)
	if err != nil {
		return nil, nil, err
	}

	p, err := awsplugin.NewFromConfig(ctx, awsCfg, awsplugin.ConfigFrom(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("create aws plugin: %w", err)
	}

	notifier, err := emitter.New(cfg.Notify, awsCfg)
	if err != nil {
		return nil, nil, err
	}
	return p, notifier, nil
}

// setupLogging writes JSON logs for CloudWatch. An unknown level falls
// back to info.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
