package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/config"
)

var (
	version = "0.1.0"

	cfgFile     string
	flagRegion  string
	flagProfile string
	flagDebug   bool

	rootCmd = &cobra.Command{
		Use:   "kmscheck",
		Short: "Find publicly accessible KMS customer keys",
		Long: `kmscheck - IAM Access Analyzer check for AWS KMS customer keys

kmscheck asks IAM Access Analyzer to scan every customer managed KMS key
in the account, waits for the analysis, and reports keys whose policy
grants public access. Findings are published to SNS, EventBridge or SQS.`,
		Version:      version,
		SilenceUsage: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`kmscheck {{.Version}}
`)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (TOML or YAML)")
	rootCmd.PersistentFlags().StringVarP(&flagRegion, "region", "r", "", "AWS region (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "AWS shared config profile")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

// loadConfig reads the config file, or the environment when no file is
// given, then applies command line overrides and validates the result.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}

	applyFlags(cfg, flagRegion, flagProfile, flagDebug)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, region, profile string, debug bool) {
	if region != "" {
		cfg.AWS.Region = region
	}
	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if debug {
		cfg.Log.Level = "debug"
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LogConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch cfg.Format {
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	case "console", "":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}
