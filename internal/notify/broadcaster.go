package notify

import (
	"context"
	"time"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/metrics"
)

const (
	broadcastBatch = 100
	broadcastFlush = 50 * time.Millisecond
	// publishTimeout bounds one delivery to one publisher.
	publishTimeout = 5 * time.Second
)

// Broadcaster delivers stored alerts to every publisher off the detection
// path. A failing publisher is logged and counted; it never blocks the others.
type Broadcaster struct {
	ch         chan domain.Alert
	publishers []Publisher
	log        log.Logger
}

func NewBroadcaster(queueSize int, logger log.Logger, publishers ...Publisher) *Broadcaster {
	if logger == nil {
		logger = log.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Broadcaster{
		ch:         make(chan domain.Alert, queueSize),
		publishers: publishers,
		log:        logger.WithName("broadcaster"),
	}
}

// Enqueue queues a for delivery, dropping it when the queue is full.
func (b *Broadcaster) Enqueue(a domain.Alert) {
	select {
	case b.ch <- a:
	default:
		metrics.NotifyDropped.Inc()
		b.log.Warn("broadcast queue full, alert not delivered", "id", a.ID, "vehicle", a.VehicleID)
	}
}

// Run delivers queued alerts until ctx is done, then flushes what is queued.
func (b *Broadcaster) Run(ctx context.Context) {
	batch := make([]domain.Alert, 0, broadcastBatch)
	ticker := time.NewTicker(broadcastFlush)
	defer ticker.Stop()

	for {
		select {
		case a := <-b.ch:
			batch = append(batch, a)
			if len(batch) >= broadcastBatch {
				b.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
		drain:
			for {
				select {
				case a := <-b.ch:
					batch = append(batch, a)
				default:
					break drain
				}
			}
			b.flush(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

func (b *Broadcaster) flush(ctx context.Context, batch []domain.Alert) {
	for _, a := range batch {
		for _, p := range b.publishers {
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := p.Publish(pctx, a)
			cancel()
			if err != nil {
				metrics.NotifyFailures.WithLabelValues(p.Name()).Inc()
				b.log.Warn("alert delivery failed", "publisher", p.Name(), "id", a.ID, "error", err)
			}
		}
	}
}
