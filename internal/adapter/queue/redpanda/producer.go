// Package redpanda provides Redpanda/Kafka queue integration for scoring runs.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
)

// TopicRuns is the Kafka topic carrying scoring run dispatches.
const TopicRuns = "scoring-runs"

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	// Buffered channel serializes transactions across goroutines.
	transactionChan chan struct{}
}

// NewProducer constructs a Producer with exactly-once semantics.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "screener-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional ID. Tests use this to avoid conflicts between producers.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, TopicRuns, 1, 1); err != nil {
		// Topic may already exist or be created by the consumer side.
		slog.Warn("topic create failed", slog.String("topic", TopicRuns), slog.Any("error", err))
	}

	return &Producer{client: client, transactionChan: make(chan struct{}, 1)}, nil
}

// EnqueueRun enqueues a scoring run with exactly-once semantics.
func (p *Producer) EnqueueRun(ctx domain.Context, payload domain.RunTaskPayload) (string, error) {
	return p.EnqueueRunToTopic(ctx, payload, TopicRuns)
}

// EnqueueRunToTopic enqueues a scoring run to a specific topic. Tests use
// unique topics for isolation.
func (p *Producer) EnqueueRunToTopic(ctx domain.Context, payload domain.RunTaskPayload, topic string) (string, error) {
	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("abort transaction failed", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(payload.RunID), // run ID as key for per-run ordering
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "run_id", Value: []byte(payload.RunID)},
		},
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("abort transaction failed", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	observability.EnqueueRun()
	slog.Info("run enqueued", slog.String("topic", topic), slog.String("run_id", payload.RunID))
	return payload.RunID, nil
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error { return p.client.Ping(ctx) }

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
