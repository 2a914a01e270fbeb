package transport

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
)

// KafkaBus is the concrete Bus used in production. A single topic
// carries every path pattern; the path itself is the record key.
// Kafka's at-least-once delivery matches the bus contract exactly; its
// per-key ordering is a bonus, not load-bearing — the pump's own
// single-threaded FIFO drain is what actually guarantees per-task
// send order.
type KafkaBus struct {
	client *kgo.Client
	topic  string
	metrics *kprom.Metrics
}

// NewKafkaBus dials brokers and prepares topic for both produce and
// consume. The returned bus owns the client; call Close to release it.
func NewKafkaBus(brokers []string, topic, consumerGroup string) (*KafkaBus, error) {
	metrics := kprom.NewMetrics("syncwatch_bus")

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(consumerGroup),
		kgo.WithHooks(metrics),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}

	return &KafkaBus{client: client, topic: topic, metrics: metrics}, nil
}

// Metrics exposes the franz-go prometheus collector for registration
// alongside the engine's own (internal/metrics).
func (b *KafkaBus) Metrics() *kprom.Metrics { return b.metrics }

func (b *KafkaBus) Put(ctx context.Context, path string, payload []byte) error {
	record := &kgo.Record{Topic: b.topic, Key: []byte(path), Value: payload}
	result := b.client.ProduceSync(ctx, record)
	return result.FirstErr()
}

// Delete produces a tombstone: a record with the path key and a nil
// value, the standard Kafka convention consumed as EventDeleted below.
func (b *KafkaBus) Delete(ctx context.Context, path string) error {
	record := &kgo.Record{Topic: b.topic, Key: []byte(path), Value: nil}
	result := b.client.ProduceSync(ctx, record)
	return result.FirstErr()
}

func (b *KafkaBus) Subscribe(ctx context.Context, handler Handler) error {
	for {
		fetches := b.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				if errors.Is(e.Err, context.Canceled) {
					return ctx.Err()
				}
				log.Error().Err(e.Err).Str("topic", e.Topic).Int32("partition", e.Partition).
					Msg("kafka bus: fetch error")
			}
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			path := append([]byte(nil), rec.Key...)
			if rec.Value == nil {
				handler(ctx, Event{Type: EventDeleted, Path: string(path)})
				return
			}
			payload := append([]byte(nil), rec.Value...)
			handler(ctx, Event{Type: EventChanged, Path: string(path), Payload: payload})
		})
	}
}

func (b *KafkaBus) Close() error {
	b.client.Close()
	return nil
}
