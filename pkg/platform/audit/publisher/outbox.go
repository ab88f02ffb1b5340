// Package publisher drains the audit outbox to Kafka. Running it is optional:
// without a publisher, outbox rows simply accumulate until one is configured,
// and no engine decision ever depends on Kafka being reachable.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	outbox "vigil/pkg/platform/audit/store/postgres"
)

// Outbox publishes unprocessed outbox rows to one Kafka topic.
type Outbox struct {
	store    *outbox.Store
	client   *kgo.Client
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// Option configures the publisher.
type Option func(*Outbox)

// WithLogger sets the publisher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Outbox) { o.logger = logger }
}

// WithInterval overrides the drain interval.
func WithInterval(d time.Duration) Option {
	return func(o *Outbox) { o.interval = d }
}

// New connects to Kafka, ensures the topic exists, and returns a publisher.
func New(ctx context.Context, brokers []string, topic string, store *outbox.Store, opts ...Option) (*Outbox, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", resp.Err)
	}

	o := &Outbox{
		store:    store,
		client:   client,
		topic:    topic,
		interval: 5 * time.Second,
		batch:    100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run drains the outbox until the context is cancelled.
func (o *Outbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	defer o.client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.drain(ctx); err != nil {
				o.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// drain publishes one batch and marks it published. Publish-then-mark gives
// at-least-once semantics; consumers dedup on the event id in the payload.
func (o *Outbox) drain(ctx context.Context) error {
	entries, err := o.store.FetchUnpublished(ctx, o.batch)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, &kgo.Record{
			Topic: o.topic,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
		})
	}
	if err := o.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit events: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if err := o.store.MarkPublished(ctx, ids); err != nil {
		return err
	}
	o.logger.Debug("audit outbox drained", "count", len(entries))
	return nil
}
