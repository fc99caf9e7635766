package aws

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/accessanalyzer"
	aatypes "github.com/aws/aws-sdk-go-v2/service/accessanalyzer/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// mockAnalyzerClient implements AccessAnalyzerAPI for testing.
type mockAnalyzerClient struct {
	ListAnalyzersFunc         func(ctx context.Context, params *accessanalyzer.ListAnalyzersInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.ListAnalyzersOutput, error)
	CreateAnalyzerFunc        func(ctx context.Context, params *accessanalyzer.CreateAnalyzerInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.CreateAnalyzerOutput, error)
	StartResourceScanFunc     func(ctx context.Context, params *accessanalyzer.StartResourceScanInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.StartResourceScanOutput, error)
	ListAnalyzedResourcesFunc func(ctx context.Context, params *accessanalyzer.ListAnalyzedResourcesInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.ListAnalyzedResourcesOutput, error)
	GetAnalyzedResourceFunc   func(ctx context.Context, params *accessanalyzer.GetAnalyzedResourceInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.GetAnalyzedResourceOutput, error)

	listAnalyzersCalls  int
	createCalls         int
	startScanCalls      int
	listAnalyzedCalls   int
	getAnalyzedCalls    int
	getAnalyzedRequests []string
}

func (m *mockAnalyzerClient) ListAnalyzers(ctx context.Context, params *accessanalyzer.ListAnalyzersInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.ListAnalyzersOutput, error) {
	m.listAnalyzersCalls++
	if m.ListAnalyzersFunc != nil {
		return m.ListAnalyzersFunc(ctx, params, optFns...)
	}
	return &accessanalyzer.ListAnalyzersOutput{}, nil
}

func (m *mockAnalyzerClient) CreateAnalyzer(ctx context.Context, params *accessanalyzer.CreateAnalyzerInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.CreateAnalyzerOutput, error) {
	m.createCalls++
	if m.CreateAnalyzerFunc != nil {
		return m.CreateAnalyzerFunc(ctx, params, optFns...)
	}
	return &accessanalyzer.CreateAnalyzerOutput{Arn: aws.String(testAnalyzerARN)}, nil
}

func (m *mockAnalyzerClient) StartResourceScan(ctx context.Context, params *accessanalyzer.StartResourceScanInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.StartResourceScanOutput, error) {
	m.startScanCalls++
	if m.StartResourceScanFunc != nil {
		return m.StartResourceScanFunc(ctx, params, optFns...)
	}
	return &accessanalyzer.StartResourceScanOutput{}, nil
}

func (m *mockAnalyzerClient) ListAnalyzedResources(ctx context.Context, params *accessanalyzer.ListAnalyzedResourcesInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.ListAnalyzedResourcesOutput, error) {
	m.listAnalyzedCalls++
	if m.ListAnalyzedResourcesFunc != nil {
		return m.ListAnalyzedResourcesFunc(ctx, params, optFns...)
	}
	return &accessanalyzer.ListAnalyzedResourcesOutput{}, nil
}

func (m *mockAnalyzerClient) GetAnalyzedResource(ctx context.Context, params *accessanalyzer.GetAnalyzedResourceInput, optFns ...func(*accessanalyzer.Options)) (*accessanalyzer.GetAnalyzedResourceOutput, error) {
	m.getAnalyzedCalls++
	m.getAnalyzedRequests = append(m.getAnalyzedRequests, aws.ToString(params.ResourceArn))
	if m.GetAnalyzedResourceFunc != nil {
		return m.GetAnalyzedResourceFunc(ctx, params, optFns...)
	}
	return nil, errors.New("not found")
}

// mockKMSClient implements KMSAPI for testing.
type mockKMSClient struct {
	ListKeysFunc    func(ctx context.Context, params *kms.ListKeysInput, optFns ...func(*kms.Options)) (*kms.ListKeysOutput, error)
	DescribeKeyFunc func(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)

	describeCalls int
}

func (m *mockKMSClient) ListKeys(ctx context.Context, params *kms.ListKeysInput, optFns ...func(*kms.Options)) (*kms.ListKeysOutput, error) {
	if m.ListKeysFunc != nil {
		return m.ListKeysFunc(ctx, params, optFns...)
	}
	return &kms.ListKeysOutput{}, nil
}

func (m *mockKMSClient) DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	m.describeCalls++
	if m.DescribeKeyFunc != nil {
		return m.DescribeKeyFunc(ctx, params, optFns...)
	}
	return nil, errors.New("describe not configured")
}

// mockSTSClient implements STSAPI for testing.
type mockSTSClient struct {
	account string
	err     error
}

func (m *mockSTSClient) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(m.account)}, nil
}

const (
	testAccount     = "123456789012"
	testAnalyzerARN = "arn:aws:access-analyzer:us-east-1:123456789012:analyzer/AccessAnalyzer-test"
)

func keyARN(id string) string {
	return "arn:aws:kms:us-east-1:123456789012:key/" + id
}

// fakeKMS serves a paginated key listing where each page is a slice of key
// ids; managers maps key id to its KeyManager.
func fakeKMS(pages [][]string, managers map[string]kmstypes.KeyManagerType) *mockKMSClient {
	return &mockKMSClient{
		ListKeysFunc: func(_ context.Context, params *kms.ListKeysInput, _ ...func(*kms.Options)) (*kms.ListKeysOutput, error) {
			page := 0
			if params.Marker != nil {
				page = int(aws.ToString(params.Marker)[0] - '0')
			}
			out := &kms.ListKeysOutput{}
			for _, id := range pages[page] {
				out.Keys = append(out.Keys, kmstypes.KeyListEntry{KeyId: aws.String(id), KeyArn: aws.String(keyARN(id))})
			}
			if page+1 < len(pages) {
				out.Truncated = true
				out.NextMarker = aws.String(string(rune('0' + page + 1)))
			}
			return out, nil
		},
		DescribeKeyFunc: func(_ context.Context, params *kms.DescribeKeyInput, _ ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
			id := aws.ToString(params.KeyId)
			return &kms.DescribeKeyOutput{KeyMetadata: &kmstypes.KeyMetadata{
				KeyId:      aws.String(id),
				Arn:        aws.String(keyARN(id)),
				KeyManager: managers[id],
			}}, nil
		},
	}
}

// analyzedResource builds a GetAnalyzedResource response.
func analyzedResource(arn string, public bool, status aatypes.FindingStatus) *accessanalyzer.GetAnalyzedResourceOutput {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &accessanalyzer.GetAnalyzedResourceOutput{
		Resource: &aatypes.AnalyzedResource{
			ResourceArn:          aws.String(arn),
			ResourceType:         aatypes.ResourceTypeAwsKmsKey,
			ResourceOwnerAccount: aws.String(testAccount),
			IsPublic:             aws.Bool(public),
			Status:               status,
			AnalyzedAt:           aws.Time(now),
			CreatedAt:            aws.Time(now.Add(-time.Hour)),
			UpdatedAt:            aws.Time(now),
			Actions:              []string{"kms:Decrypt"},
		},
	}
}

// recordingSleep counts poll waits without sleeping.
type recordingSleep struct {
	calls     int
	durations []time.Duration
	err       error
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.calls++
	r.durations = append(r.durations, d)
	return r.err
}

func newTestPlugin(cfg Config, aa AccessAnalyzerAPI, k KMSAPI) (*Plugin, *recordingSleep) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	p := NewWithClients(cfg, testAccount, aa, k)
	s := &recordingSleep{}
	p.sleep = s.sleep
	p.newName = func() (string, error) { return "00000000-0000-1000-8000-000000000000", nil }
	return p, s
}
