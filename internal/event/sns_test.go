package event

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/poglesbyg/tracseq2.0-sub001/pkg/kafka"
)

type mockSNS struct {
	mock.Mock
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

const testTopicArn = "arn:aws:sns:us-east-1:000000000000:tracseq-events"

func sampleEvent(t *testing.T) *pkgkafka.Event {
	t.Helper()
	event, err := pkgkafka.NewEvent(EventTransactionStarted, "saga-1", AggregateTypeSaga, SourceSagaCoordinator, map[string]string{"saga_id": "saga-1"})
	require.NoError(t, err)
	return event.WithCorrelationID("corr-1")
}

func TestSNSBus_Publish(t *testing.T) {
	client := &mockSNS{}
	bus := NewSNSBus(client, testTopicArn)
	event := sampleEvent(t)

	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		attrs := in.MessageAttributes
		return aws.ToString(in.TopicArn) == testTopicArn &&
			aws.ToString(attrs["topic"].StringValue) == "tracseq.transaction.started" &&
			aws.ToString(attrs["event_type"].StringValue) == EventTransactionStarted &&
			aws.ToString(attrs["aggregate_id"].StringValue) == "saga-1" &&
			aws.ToString(attrs["correlation_id"].StringValue) == "corr-1"
	})).Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil).Once()

	require.NoError(t, bus.Publish(context.Background(), "tracseq.transaction.started", event))
	client.AssertExpectations(t)

	in := client.Calls[0].Arguments.Get(1).(*sns.PublishInput)
	decoded, err := pkgkafka.UnmarshalEvent([]byte(aws.ToString(in.Message)))
	require.NoError(t, err)
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestSNSBus_PublishError(t *testing.T) {
	client := &mockSNS{}
	bus := NewSNSBus(client, testTopicArn)

	client.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	err := bus.Publish(context.Background(), "tracseq.transaction.started", sampleEvent(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish transaction.started to sns")
}

func TestSNSBus_InvalidEventNotSent(t *testing.T) {
	client := &mockSNS{}
	bus := NewSNSBus(client, testTopicArn)

	err := bus.Publish(context.Background(), "t", &pkgkafka.Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event")
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	assert.NoError(t, bus.Close())
}
