package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// WorkerConfig bounds the local retry loop around the forwarder.
// RetryAttempts counts extra attempts after the first failure, so a value
// of 3 means at most four sends per chunk.
type WorkerConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Worker is the single consumer of the delivery queue. One worker
// serializes all forwarder calls, which both preserves per-link order and
// keeps the remote's rate limits honest.
type Worker struct {
	queue      ports.DeliveryQueue
	forwarder  ports.Forwarder
	deadletter ports.DeadLetter
	obs        ports.Observability
	cfg        WorkerConfig
}

func NewWorker(queue ports.DeliveryQueue, forwarder ports.Forwarder, deadletter ports.DeadLetter, obs ports.Observability, cfg WorkerConfig) *Worker {
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 750 * time.Millisecond
	}
	return &Worker{
		queue:      queue,
		forwarder:  forwarder,
		deadletter: deadletter,
		obs:        obs,
		cfg:        cfg,
	}
}

// Run consumes deliveries until the queue closes or ctx is cancelled.
// Deliveries that exhaust their retries are dead-lettered, never requeued;
// their fingerprints are already marked seen.
func (w *Worker) Run(ctx context.Context) error {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ports.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: dequeue: %w", err)
		}
		w.obs.SetGauge("meshcord_queue_length", float64(w.queue.Len()))
		w.deliver(ctx, d)
	}
}

func (w *Worker) deliver(ctx context.Context, d *domain.Delivery) {
	for i, chunk := range d.Chunks {
		if err := w.sendWithRetry(ctx, chunk); err != nil {
			w.abandon(d, fmt.Sprintf("chunk %d/%d", i+1, len(d.Chunks)), err)
			return
		}
	}

	w.obs.IncCounter("meshcord_messages_forwarded_total", 1)
	if !d.Enqueued.IsZero() {
		w.obs.ObserveLatency("meshcord_delivery_latency_seconds", time.Since(d.Enqueued).Seconds())
	}
}

func (w *Worker) sendWithRetry(ctx context.Context, chunk string) error {
	var err error
	for attempt := 0; attempt <= w.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(w.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}

		err = w.forwarder.Send(ctx, chunk)
		if err == nil {
			return nil
		}
		if errors.Is(err, ports.ErrDeliveryRejected) {
			// The remote refused this payload; re-sending it cannot help.
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		w.obs.LogError("chunk delivery failed", err,
			ports.Field{Key: "forwarder", Value: w.forwarder.Name()},
			ports.Field{Key: "attempt", Value: attempt + 1})
	}
	return err
}

// abandon records the delivery in the dead-letter log. The write uses a
// background context so a shutdown-triggered failure still leaves a trace.
func (w *Worker) abandon(d *domain.Delivery, at string, err error) {
	w.obs.RecordDLQ(d, err)
	if w.deadletter == nil {
		return
	}
	reason := fmt.Sprintf("%s: %v", at, err)
	if derr := w.deadletter.Record(context.Background(), d, reason); derr != nil {
		w.obs.LogError("dead-letter write failed", derr,
			ports.Field{Key: "fingerprint", Value: string(d.Fingerprint)})
	}
}
