// Package aws implements the IAM Access Analyzer check for public KMS
// customer-managed keys.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appconfig "github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/filter"
	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// Defaults for the scan poll loop.
const (
	DefaultPollAttempts = 10
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPageSize     = 100
	DefaultNamePrefix   = "AccessAnalyzer-"
)

// Plugin implements the KMS public access check.
type Plugin struct {
	region    string
	accountID string

	// AWS clients (interfaces for testability)
	analyzerClient AccessAnalyzerAPI
	kmsClient      KMSAPI

	filter *filter.Filter
	tracer trace.Tracer
	opts   Config

	// sleep waits between poll attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	// newName returns the unique suffix for a created analyzer.
	newName func() (string, error)
}

// Config holds plugin configuration.
type Config struct {
	Region  string
	Profile string

	// AnalyzerARN pins an analyzer and skips lookup/creation.
	AnalyzerARN string
	NamePrefix  string

	// Zero values fall back to the package defaults.
	PollAttempts int
	PollInterval time.Duration
	ListPageSize int32
	KeyPageSize  int32

	AllowedKeys []string
}

// New creates a new plugin from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.Region, cfg.Profile)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(ctx, awsCfg, cfg)
}

// LoadAWSConfig loads the shared AWS configuration with standard retries.
func LoadAWSConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode(aws.RetryModeStandard),
		config.WithRetryMaxAttempts(3),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewFromConfig creates a plugin from an already loaded AWS configuration.
func NewFromConfig(ctx context.Context, awsCfg aws.Config, cfg Config) (*Plugin, error) {
	accountID, err := getAccountID(ctx, sts.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("get account id: %w", err)
	}

	cfg.Region = awsCfg.Region
	return NewWithClients(cfg, accountID, accessanalyzer.NewFromConfig(awsCfg), kms.NewFromConfig(awsCfg)), nil
}

// NewWithClients creates a plugin around already constructed clients.
func NewWithClients(cfg Config, accountID string, analyzerClient AccessAnalyzerAPI, kmsClient KMSAPI) *Plugin {
	applyDefaults(&cfg)
	return &Plugin{
		region:         cfg.Region,
		accountID:      accountID,
		analyzerClient: analyzerClient,
		kmsClient:      kmsClient,
		filter:         filter.New(cfg.AllowedKeys),
		tracer:         otel.Tracer("kmscheck"),
		opts:           cfg,
		sleep:          sleepContext,
		newName:        newAnalyzerSuffix,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = DefaultNamePrefix
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = DefaultPageSize
	}
	if cfg.KeyPageSize <= 0 {
		cfg.KeyPageSize = DefaultPageSize
	}
}

func getAccountID(ctx context.Context, client STSAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Account), nil
}

// newAnalyzerSuffix returns a time-based (version 1) UUID.
func newAnalyzerSuffix() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "aws-kms"
}

// Region returns the region the plugin scans.
func (p *Plugin) Region() string {
	return p.region
}

// AccountID returns the caller's account.
func (p *Plugin) AccountID() string {
	return p.accountID
}

// Scan resolves an analyzer, enumerates customer keys, scans them and
// collects the public ones. Every step is best effort: failures are logged
// and recorded on the report, and the run always completes.
func (p *Plugin) Scan(ctx context.Context) (finding.Report, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "kms.check", trace.WithAttributes(
		attribute.String("cloud.account.id", p.accountID),
		attribute.String("cloud.region", p.region),
	))
	defer span.End()

	report := finding.Report{
		Account:   p.accountID,
		Region:    p.region,
		StartedAt: start,
	}

	log.Info().Str("account", p.accountID).Str("region", p.region).
		Msg("Run AccessAnalyzer on all AWS KMS keys for the account")

	report.AnalyzerARN, report.AnalyzerErr = p.ResolveAnalyzer(ctx)
	report.CustomerKeys, report.KeysErr = p.ListCustomerKeys(ctx)

	state, failures := p.StartScans(ctx, report.AnalyzerARN, report.CustomerKeys)
	report.ScanFailures = failures

	poll := p.WaitForAnalysis(ctx, report.AnalyzerARN, state)
	report.Analyzed = poll.Analyzed
	report.Pending = poll.Pending
	report.Attempts = poll.Attempts
	report.PollErrors = poll.Errors

	report.Findings, report.FetchFailures = p.CollectFindings(ctx, report.AnalyzerARN, poll.Analyzed)
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("kmscheck.status", string(report.Status())),
		attribute.Int("kmscheck.keys", len(report.CustomerKeys)),
		attribute.Int("kmscheck.findings", len(report.Findings)),
		attribute.Int("kmscheck.pending", len(report.Pending)),
	)

	log.Info().
		Str("status", string(report.Status())).
		Int("keys", len(report.CustomerKeys)).
		Int("analyzed", len(report.Analyzed)).
		Int("findings", len(report.Findings)).
		Dur("duration", report.Duration).
		Msg("scan complete")

	return report, nil
}

// ConfigFrom maps the application configuration onto plugin settings.
func ConfigFrom(c *appconfig.Config) Config {
	return Config{
		Region:       c.AWS.Region,
		Profile:      c.AWS.Profile,
		AnalyzerARN:  c.Analyzer.ARN,
		NamePrefix:   c.Analyzer.NamePrefix,
		PollAttempts: c.Analyzer.PollAttempts,
		PollInterval: c.Analyzer.PollInterval,
		ListPageSize: c.Analyzer.ListPageSize,
		KeyPageSize:  c.KMS.PageSize,
		AllowedKeys:  c.Filter.AllowedKeys,
	}
}
