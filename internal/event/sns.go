package event

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	pkgkafka "github.com/poglesbyg/tracseq2.0-sub001/pkg/kafka"
)

// SNSAPI is the subset of *sns.Client used by SNSBus.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSBus publishes envelopes to a single SNS topic. The logical topic travels
// as a message attribute so subscribers can filter on it.
type SNSBus struct {
	client   SNSAPI
	topicArn string
}

func NewSNSBus(client SNSAPI, topicArn string) *SNSBus {
	return &SNSBus{client: client, topicArn: topicArn}
}

// NewSNSBusFromConfig loads the default AWS configuration. AWS_ENDPOINT_URL
// points it at LocalStack in development.
func NewSNSBusFromConfig(ctx context.Context, region, topicArn string) (*SNSBus, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSBus(sns.NewFromConfig(cfg), topicArn), nil
}

func (b *SNSBus) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"topic":        stringAttr(topic),
		"event_type":   stringAttr(event.EventType),
		"aggregate_id": stringAttr(event.AggregateID),
		"source":       stringAttr(event.Source),
	}
	if event.CorrelationID != "" {
		attrs["correlation_id"] = stringAttr(event.CorrelationID)
	}

	_, err = b.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(b.topicArn),
		Message:           aws.String(string(data)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("publish %s to sns: %w", event.EventType, err)
	}
	return nil
}

// Close is a no-op; the SNS client holds no connections that need closing.
func (b *SNSBus) Close() error {
	return nil
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
