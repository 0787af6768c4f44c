package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"kycvault/internal/platform/kafka"
	"kycvault/internal/platform/metrics"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Processor claims a batch and acknowledges what was delivered.
type Processor interface {
	Process(ctx context.Context, limit int, now time.Time, publish func(context.Context, []Entry) ([]uuid.UUID, error)) (int, error)
}

// Relay polls the outbox and publishes each row to "<prefix>.<category>",
// keyed by the audit target so one entity's events stay ordered within a
// partition.
type Relay struct {
	store       Processor
	producer    Producer
	topicPrefix string
	batchSize   int
	interval    time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func NewRelay(store Processor, producer Producer, topicPrefix string, opts ...Option) *Relay {
	r := &Relay{
		store:       store,
		producer:    producer,
		topicPrefix: topicPrefix,
		batchSize:   defaultBatchSize,
		interval:    defaultPollInterval,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// another pass; otherwise the relay waits one poll interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
		}
		if n == r.batchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many rows were acknowledged.
// Rows whose produce failed stay unpublished and are retried on the next
// pass.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	n, err := r.store.Process(ctx, r.batchSize, r.now().UTC(), r.publish)
	if err != nil && r.metrics != nil {
		r.metrics.IncrementOutboxFailures()
	}
	return n, err
}

func (r *Relay) publish(ctx context.Context, entries []Entry) ([]uuid.UUID, error) {
	records := make([]*kgo.Record, len(entries))
	byRecord := make(map[*kgo.Record]Entry, len(entries))
	for i, e := range entries {
		rec := &kgo.Record{
			Topic: kafka.Topic(r.topicPrefix, e.Category),
			Key:   []byte(e.Key),
			Value: e.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_id", Value: []byte(e.ID.String())},
				{Key: "event_type", Value: []byte(e.EventType)},
			},
		}
		records[i] = rec
		byRecord[rec] = e
	}

	results := r.producer.ProduceSync(ctx, records...)
	delivered := make([]uuid.UUID, 0, len(results))
	var firstErr error
	for _, res := range results {
		e := byRecord[res.Record]
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			r.logger.WarnContext(ctx, "outbox publish failed",
				"event_id", e.ID.String(),
				"topic", res.Record.Topic,
				"error", res.Err,
			)
			continue
		}
		delivered = append(delivered, e.ID)
		if r.metrics != nil {
			r.metrics.AddOutboxPublished(e.Category, 1)
		}
	}
	if len(delivered) > 0 {
		r.logger.DebugContext(ctx, "outbox batch relayed", "published", len(delivered), "claimed", len(entries))
	}
	return delivered, firstErr
}
