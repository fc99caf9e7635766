package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AccessAnalyzerAPI defines the IAM Access Analyzer operations used by the check.
type AccessAnalyzerAPI interface {
	ListAnalyzers(ctx context.Context, params *accessanalyzer.ListAnalyzersInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.ListAnalyzersOutput, error)
	CreateAnalyzer(ctx context.Context, params *accessanalyzer.CreateAnalyzerInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.CreateAnalyzerOutput, error)
	StartResourceScan(ctx context.Context, params *accessanalyzer.StartResourceScanInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.StartResourceScanOutput, error)
	ListAnalyzedResources(ctx context.Context, params *accessanalyzer.ListAnalyzedResourcesInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.ListAnalyzedResourcesOutput, error)
	GetAnalyzedResource(ctx context.Context, params *accessanalyzer.GetAnalyzedResourceInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.GetAnalyzedResourceOutput, error)
}

// KMSAPI defines the KMS operations used by the key enumerator.
type KMSAPI interface {
	ListKeys(ctx context.Context, params *kms.ListKeysInput, optFns ...func(*kms.Options)) (*kms.ListKeysOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// STSAPI defines the STS operations used to identify the account.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}
