package event

import (
	"context"

	pkgkafka "github.com/poglesbyg/tracseq2.0-sub001/pkg/kafka"
)

// Bus delivers event envelopes to a topic. *kafka.Producer and SNSBus
// implement it.
type Bus interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
	Close() error
}

var (
	_ Bus = (*pkgkafka.Producer)(nil)
	_ Bus = (*SNSBus)(nil)
	_ Bus = NoopBus{}
)

// NoopBus drops every event. It is used when no bus is configured.
type NoopBus struct{}

func (NoopBus) Publish(context.Context, string, *pkgkafka.Event) error { return nil }
func (NoopBus) Close() error                                          { return nil }
