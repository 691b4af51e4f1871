package notify

import (
	"context"

	"fleet-monitor/fueltheft/internal/domain"
)

// AlertChannel is a pub/sub channel for encoded alerts.
type AlertChannel interface {
	PublishAlert(ctx context.Context, payload []byte) error
}

// RedisPublisher publishes alerts on the shared Redis alert channel.
type RedisPublisher struct {
	ch AlertChannel
}

func NewRedisPublisher(ch AlertChannel) *RedisPublisher {
	return &RedisPublisher{ch: ch}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, a domain.Alert) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	return p.ch.PublishAlert(ctx, payload)
}
