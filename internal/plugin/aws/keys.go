package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/rs/zerolog/log"
)

// ListCustomerKeys returns the ARNs of all customer-managed KMS keys in
// listing order. The first error stops enumeration; the keys collected so
// far are returned alongside it.
func (p *Plugin) ListCustomerKeys(ctx context.Context) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "kms.list_customer_keys")
	defer span.End()

	log.Info().Msg("enumerating KMS customer keys")

	arns, err := p.listCustomerKeys(ctx)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int("collected", len(arns)).Msg("KMS list and describe keys failed")
	}

	log.Info().Strs("keys", arns).Msg("found customer keys")
	return arns, err
}

func (p *Plugin) listCustomerKeys(ctx context.Context) ([]string, error) {
	arns := make([]string, 0)
	var marker *string

	for {
		output, err := p.kmsClient.ListKeys(ctx, &kms.ListKeysInput{
			Limit:  aws.Int32(p.opts.KeyPageSize),
			Marker: marker,
		})
		if err != nil {
			return arns, fmt.Errorf("list keys: %w", err)
		}

		for _, key := range output.Keys {
			arn, customer, err := p.describeKey(ctx, aws.ToString(key.KeyId))
			if err != nil {
				return arns, err
			}
			if customer {
				arns = append(arns, arn)
			}
		}

		if aws.ToString(output.NextMarker) == "" {
			break
		}
		marker = output.NextMarker
	}

	return arns, nil
}

// describeKey returns the key ARN and whether the key is customer managed.
// A key whose manager is AWS or unset is not customer managed.
func (p *Plugin) describeKey(ctx context.Context, keyID string) (string, bool, error) {
	output, err := p.kmsClient.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return "", false, fmt.Errorf("describe key %s: %w", keyID, err)
	}
	if output.KeyMetadata == nil {
		return "", false, fmt.Errorf("describe key %s: %w", keyID, ErrNoKeyMetadata)
	}

	md := output.KeyMetadata
	customer := md.KeyManager != kmstypes.KeyManagerTypeAws && md.KeyManager != ""
	return aws.ToString(md.Arn), customer, nil
}
