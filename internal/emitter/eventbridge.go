package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/pkg/finding"
)

// ErrEventRejected is returned when EventBridge accepts the call but
// fails the entry.
var ErrEventRejected = errors.New("event rejected by eventbridge")

// EventBridgeAPI defines the EventBridge operations used by EventBridgeEmitter.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeConfig configures the event envelope.
type EventBridgeConfig struct {
	Bus        string // empty uses the account's default bus
	Source     string
	DetailType string
}

// EventBridgeEmitter puts one event per run onto an event bus.
type EventBridgeEmitter struct {
	client EventBridgeAPI
	config EventBridgeConfig
}

// NewEventBridgeEmitter creates an EventBridge emitter.
func NewEventBridgeEmitter(client EventBridgeAPI, cfg EventBridgeConfig) *EventBridgeEmitter {
	return &EventBridgeEmitter{client: client, config: cfg}
}

// eventDetail is the event's detail payload.
type eventDetail struct {
	Findings []finding.Finding `json:"Findings"`
}

// Emit puts a single event whose detail lists the findings and whose
// resources are the key ARNs. Nothing is sent when there are no findings.
func (e *EventBridgeEmitter) Emit(ctx context.Context, report finding.Report) error {
	if !report.HasFindings() {
		return nil
	}

	detail, err := json.Marshal(eventDetail{Findings: report.Findings})
	if err != nil {
		return fmt.Errorf("encode event detail: %w", err)
	}

	entry := ebtypes.PutEventsRequestEntry{
		Source:     aws.String(e.config.Source),
		DetailType: aws.String(e.config.DetailType),
		Detail:     aws.String(string(detail)),
		Resources:  finding.ARNs(report.Findings),
	}
	if e.config.Bus != "" {
		entry.EventBusName = aws.String(e.config.Bus)
	}

	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("eventbridge put events: %w", err)
	}
	if out.FailedEntryCount > 0 {
		return rejectedError(out.Entries)
	}

	log.Info().
		Str("bus", e.config.Bus).
		Int("findings", len(report.Findings)).
		Msg("put findings event")
	return nil
}

func rejectedError(entries []ebtypes.PutEventsResultEntry) error {
	for _, entry := range entries {
		if entry.ErrorCode != nil {
			return fmt.Errorf("%w: %s: %s", ErrEventRejected, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
		}
	}
	return ErrEventRejected
}

// Close is a no-op for the EventBridge emitter.
func (e *EventBridgeEmitter) Close() error {
	return nil
}
