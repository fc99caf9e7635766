package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// mockSNSClient implements SNSAPI for testing.
type mockSNSClient struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	inputs      []*sns.PublishInput
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

// mockEventBridgeClient implements EventBridgeAPI for testing.
type mockEventBridgeClient struct {
	PutEventsFunc func(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
	inputs        []*eventbridge.PutEventsInput
}

func (m *mockEventBridgeClient) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.PutEventsFunc != nil {
		return m.PutEventsFunc(ctx, params, optFns...)
	}
	return &eventbridge.PutEventsOutput{}, nil
}

// mockSQSClient implements SQSAPI for testing.
type mockSQSClient struct {
	SendMessageFunc func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	inputs          []*sqs.SendMessageInput
}

func (m *mockSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, params, optFns...)
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

const (
	testTopic   = "arn:aws:sns:us-east-1:123456789012:kms-findings"
	testSubject = "Public access found for AWS KMS customer keys"
)

func TestSNSEmitter_PublishesOnce(t *testing.T) {
	client := &mockSNSClient{}
	e := NewSNSEmitter(client, testTopic, testSubject)
	findings := []finding.Finding{makeFinding("k1", "kms:Decrypt"), makeFinding("k2")}

	err := e.Emit(context.Background(), reportWith(findings...))

	require.NoError(t, err)
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, testTopic, aws.ToString(in.TopicArn))
	assert.Equal(t, testSubject, aws.ToString(in.Subject))

	decoded, err := finding.Unmarshal([]byte(aws.ToString(in.Message)))
	require.NoError(t, err)
	assert.Equal(t, findings, decoded)
}

func TestSNSEmitter_NoFindingsNoPublish(t *testing.T) {
	client := &mockSNSClient{}
	e := NewSNSEmitter(client, testTopic, testSubject)

	require.NoError(t, e.Emit(context.Background(), reportWith()))
	assert.Empty(t, client.inputs)
}

func TestSNSEmitter_Error(t *testing.T) {
	client := &mockSNSClient{
		PublishFunc: func(_ context.Context, _ *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("authorization error")
		},
	}
	e := NewSNSEmitter(client, testTopic, testSubject)

	err := e.Emit(context.Background(), reportWith(makeFinding("k1")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization error")
	assert.Contains(t, err.Error(), testTopic)
}

func testEventConfig() EventBridgeConfig {
	return EventBridgeConfig{
		Source:     "access-analyzer-kms-function",
		DetailType: "Access Analyzer KMS Findings",
	}
}

func TestEventBridgeEmitter_PutsOneEvent(t *testing.T) {
	client := &mockEventBridgeClient{}
	e := NewEventBridgeEmitter(client, testEventConfig())
	findings := []finding.Finding{makeFinding("k1"), makeFinding("k2")}

	err := e.Emit(context.Background(), reportWith(findings...))

	require.NoError(t, err)
	require.Len(t, client.inputs, 1)
	require.Len(t, client.inputs[0].Entries, 1)

	entry := client.inputs[0].Entries[0]
	assert.Equal(t, "access-analyzer-kms-function", aws.ToString(entry.Source))
	assert.Equal(t, "Access Analyzer KMS Findings", aws.ToString(entry.DetailType))
	assert.Nil(t, entry.EventBusName, "default bus")
	assert.Equal(t, finding.ARNs(findings), entry.Resources)

	var detail struct {
		Findings []finding.Finding `json:"Findings"`
	}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, findings, detail.Findings)
}

func TestEventBridgeEmitter_CustomBus(t *testing.T) {
	client := &mockEventBridgeClient{}
	cfg := testEventConfig()
	cfg.Bus = "security"
	e := NewEventBridgeEmitter(client, cfg)

	require.NoError(t, e.Emit(context.Background(), reportWith(makeFinding("k1"))))
	assert.Equal(t, "security", aws.ToString(client.inputs[0].Entries[0].EventBusName))
}

func TestEventBridgeEmitter_NoFindingsNoEvent(t *testing.T) {
	client := &mockEventBridgeClient{}
	e := NewEventBridgeEmitter(client, testEventConfig())

	require.NoError(t, e.Emit(context.Background(), reportWith()))
	assert.Empty(t, client.inputs)
}

func TestEventBridgeEmitter_FailedEntry(t *testing.T) {
	client := &mockEventBridgeClient{
		PutEventsFunc: func(_ context.Context, _ *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			return &eventbridge.PutEventsOutput{
				FailedEntryCount: 1,
				Entries: []ebtypes.PutEventsResultEntry{{
					ErrorCode:    aws.String("InternalFailure"),
					ErrorMessage: aws.String("try again"),
				}},
			}, nil
		},
	}
	e := NewEventBridgeEmitter(client, testEventConfig())

	err := e.Emit(context.Background(), reportWith(makeFinding("k1")))

	require.ErrorIs(t, err, ErrEventRejected)
	assert.Contains(t, err.Error(), "InternalFailure")
}

func TestSQSEmitter_SendsOnce(t *testing.T) {
	client := &mockSQSClient{}
	e := NewSQSEmitter(client, "https://sqs.us-east-1.amazonaws.com/123456789012/findings")
	findings := []finding.Finding{makeFinding("k1")}

	require.NoError(t, e.Emit(context.Background(), reportWith(findings...)))
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123456789012/findings", aws.ToString(client.inputs[0].QueueUrl))

	decoded, err := finding.Unmarshal([]byte(aws.ToString(client.inputs[0].MessageBody)))
	require.NoError(t, err)
	assert.Equal(t, findings, decoded)
}

func TestSQSEmitter_NoFindingsNoMessage(t *testing.T) {
	client := &mockSQSClient{}
	e := NewSQSEmitter(client, "queue")

	require.NoError(t, e.Emit(context.Background(), reportWith()))
	assert.Empty(t, client.inputs)
}

func TestSQSEmitter_Error(t *testing.T) {
	client := &mockSQSClient{
		SendMessageFunc: func(_ context.Context, _ *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("queue does not exist")
		},
	}
	e := NewSQSEmitter(client, "queue")

	err := e.Emit(context.Background(), reportWith(makeFinding("k1")))
	assert.ErrorContains(t, err, "queue does not exist")
}
