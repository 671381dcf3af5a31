package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/domain"
)

// RunHandler executes one scoring run. The pipeline usecase satisfies this.
type RunHandler interface {
	Run(ctx context.Context, runID string) error
}

// Consumer consumes run dispatches with exactly-once processing semantics and
// hands each one to the pipeline.
type Consumer struct {
	session *kgo.GroupTransactSession
	runs    domain.RunRepository
	handler RunHandler
	topic   string
	groupID string
}

// NewConsumer constructs a Consumer with exactly-once semantics.
func NewConsumer(brokers []string, groupID string, runs domain.RunRepository, handler RunHandler) (*Consumer, error) {
	return NewConsumerWithTopic(brokers, groupID, "screener-consumer", runs, handler, TopicRuns)
}

// NewConsumerWithTopic constructs a Consumer on a specific topic. Tests use
// unique topics for isolation.
func NewConsumerWithTopic(brokers []string, groupID, transactionalID string, runs domain.RunRepository, handler RunHandler, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}

	// Ensure the topic exists before joining the group.
	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("temp client: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), tempClient, topic, 1, 1); err != nil {
		slog.Warn("topic create failed", slog.String("topic", topic), slog.Any("error", err))
	}
	tempClient.Close()

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
	}
	session, err := kgo.NewGroupTransactSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("transact session: %w", err)
	}

	return &Consumer{session: session, runs: runs, handler: handler, topic: topic, groupID: groupID}, nil
}

// Start polls and processes run dispatches until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("consumer started", slog.String("topic", c.topic), slog.String("group_id", c.groupID))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches := c.session.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				if errors.Is(e.Err, context.Canceled) {
					return ctx.Err()
				}
				slog.Error("fetch error", slog.String("topic", e.Topic), slog.Any("error", e.Err))
			}
			continue
		}
		if fetches.Empty() {
			continue
		}

		if err := c.session.Begin(); err != nil {
			slog.Error("begin transaction failed", slog.Any("error", err))
			continue
		}

		processErr := false
		fetches.EachRecord(func(rec *kgo.Record) {
			if err := c.processRecord(ctx, rec); err != nil {
				slog.Error("run processing failed",
					slog.String("topic", rec.Topic),
					slog.Int64("offset", rec.Offset),
					slog.Any("error", err))
				processErr = true
			}
		})

		action := kgo.TryCommit
		if processErr {
			action = kgo.TryAbort
		}
		committed, err := c.session.End(ctx, action)
		if err != nil {
			slog.Error("end transaction failed", slog.Any("error", err))
			continue
		}
		if !committed && !processErr {
			slog.Warn("transaction not committed, records will be redelivered")
		}
	}
}

// processRecord decodes one dispatch and runs the pipeline. A run that
// ultimately fails inside the pipeline is recorded on the run row; only
// decode and unexpected handler errors surface here.
func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) error {
	var payload domain.RunTaskPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		// Malformed dispatches cannot be retried; drop them.
		slog.Error("malformed run dispatch", slog.Any("error", err))
		return nil
	}
	if payload.RunID == "" {
		slog.Error("run dispatch missing run_id")
		return nil
	}

	slog.Info("processing run", slog.String("run_id", payload.RunID))
	if err := c.handler.Run(ctx, payload.RunID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown mid-run; abort so the dispatch is redelivered.
			return fmt.Errorf("handle run %s: %w", payload.RunID, err)
		}
		// Terminal failure: record it on the run and commit the offset so the
		// dispatch is not redelivered.
		errMsg := err.Error()
		if uerr := c.runs.UpdateStatus(ctx, payload.RunID, domain.RunFailed, &errMsg); uerr != nil {
			slog.Error("mark run failed", slog.String("run_id", payload.RunID), slog.Any("error", uerr))
		}
		slog.Error("run failed", slog.String("run_id", payload.RunID), slog.Any("error", err))
	}
	return nil
}

// Close closes the underlying session.
func (c *Consumer) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}
