package redpanda

import (
	"context"

	"go.uber.org/zap"

	"github.com/drfirst/go-facilityops/pkg/circuitbreaker"
)

// MessageProducer sends one message and waits for the ack
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// GuardedPublisher publishes through one circuit breaker per topic, so a
// failing topic stops taking broker round trips while the others continue.
type GuardedPublisher struct {
	producer MessageProducer
	breakers *circuitbreaker.Manager
	config   circuitbreaker.Config
	logger   *zap.Logger
}

// NewGuardedPublisher wraps producer. cfg is the template for each
// per-topic breaker; its Name is replaced by the topic.
func NewGuardedPublisher(producer MessageProducer, breakers *circuitbreaker.Manager, cfg circuitbreaker.Config, logger *zap.Logger) *GuardedPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardedPublisher{
		producer: producer,
		breakers: breakers,
		config:   cfg,
		logger:   logger,
	}
}

// Publish implements postgres.OutboxPublisher
func (p *GuardedPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	cb, err := p.breakers.GetOrCreate(topic, p.config)
	if err != nil {
		return err
	}
	_, err = cb.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.ProduceMessage(ctx, topic, key, value)
	})
	if circuitbreaker.ErrOpen(err) {
		p.logger.Debug("publish skipped, circuit open", zap.String("topic", topic))
	}
	return err
}
