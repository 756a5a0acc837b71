package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/redis"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// TopUpHandler books a top-up in the wallet ledger.
type TopUpHandler interface {
	EarnConnects(ctx context.Context, userID, amount int64, description string) (int64, error)
}

// TopUpEvent is published by the payments side once connects are paid for.
type TopUpEvent struct {
	EventID     string `json:"event_id"`
	UserID      int64  `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

const processedTTL = 7 * 24 * time.Hour

// errInvalidEvent marks messages no retry can apply.
var errInvalidEvent = stderrors.New("invalid top-up event")

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer credits wallets from the top-up topic. Kafka delivers at least
// once, so every event id is claimed in Redis before it is applied. Offsets
// are committed only once a message is applied or known to be unappliable.
type Consumer struct {
	reader     messageReader
	topic      string
	handler    TopUpHandler
	redis      redis.RedisClient
	newBackOff func() backoff.BackOff
}

func NewConsumer(brokers []string, topic, groupID string, handler TopUpHandler, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		topic:      topic,
		handler:    handler,
		redis:      redisClient,
		newBackOff: defaultBackOff,
	}
}

// defaultBackOff retries until the context ends.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Consume blocks until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context) {
	readBackOff := c.newBackOff()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped", "topic", c.topic)
				return
			}
			wait := readBackOff.NextBackOff()
			slog.Error("failed to fetch Kafka message", "topic", c.topic, "retry_in", wait, "error", err)
			if !sleep(ctx, wait) {
				slog.Info("Kafka consumer stopped", "topic", c.topic)
				return
			}
			continue
		}
		readBackOff.Reset()

		if err := c.process(ctx, msg); err != nil {
			slog.Info("Kafka consumer stopped, message left uncommitted",
				"topic", msg.Topic, "offset", msg.Offset, "error", err)
			return
		}
	}
}

// process applies msg, retrying transient failures, and commits its offset
// once it is settled. It only fails when ctx ends first.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	apply := func() error {
		err := c.handleMessage(ctx, msg)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("failed to apply top-up, retrying", "topic", msg.Topic, "offset", msg.Offset, "retry_in", wait, "error", err)
	}

	err := backoff.RetryNotify(apply, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err != nil && !permanent(err) {
		return err
	}
	if err != nil {
		// TODO: Send to dead-letter queue
		slog.Error("dropping top-up", "topic", msg.Topic, "offset", msg.Offset, "error", err)
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		// The Redis claim keeps a redelivery from crediting twice.
		slog.Error("failed to commit Kafka offset", "topic", msg.Topic, "offset", msg.Offset, "error", err)
	}
	return nil
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	return stderrors.Is(err, errInvalidEvent) ||
		stderrors.Is(err, pkgerrors.ErrValidation) ||
		stderrors.Is(err, pkgerrors.ErrNotFound)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event TopUpEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if event.EventID == "" || event.UserID <= 0 || event.Amount <= 0 {
		return fmt.Errorf("%w: %+v", errInvalidEvent, event)
	}

	key := fmt.Sprintf("topup:%s", event.EventID)
	claimed, err := c.redis.SetNX(ctx, key, "processing", processedTTL)
	if err != nil {
		return fmt.Errorf("failed to claim top-up event: %w", err)
	}
	if !claimed {
		slog.Info("top-up event already applied", "event_id", event.EventID, "user_id", event.UserID)
		return nil
	}

	description := event.Description
	if description == "" {
		description = fmt.Sprintf("Purchased %d Connects", event.Amount)
	}

	balance, err := c.handler.EarnConnects(ctx, event.UserID, event.Amount, description)
	if err != nil {
		if delErr := c.redis.Del(ctx, key); delErr != nil && !stderrors.Is(delErr, redis.ErrKeyNotFound) {
			slog.Error("failed to release top-up claim", "event_id", event.EventID, "error", delErr)
		}
		return fmt.Errorf("failed to credit top-up %s: %w", event.EventID, err)
	}

	slog.Info("top-up applied", "event_id", event.EventID, "user_id", event.UserID, "amount", event.Amount, "balance", balance)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
