// Package events publishes workflow events on a watermill bus: an in-process
// gochannel by default, Redis Streams when configured.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// Event types.
const (
	TurnCompleted           = "turn.completed"
	CheckpointAppended      = "checkpoint.appended"
	QuizCompleted           = "quiz.completed"
	QuizCancelled           = "quiz.cancelled"
	AnswerFidelityViolation = "answer.fidelity_violation"
)

// AllTopics lists every event type.
var AllTopics = []string{TurnCompleted, CheckpointAppended, QuizCompleted, QuizCancelled, AnswerFidelityViolation}

// Event is the payload carried on the bus.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher publishes events. Publishing is best effort for callers: errors
// are reported but never change workflow results.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Bus is a watermill-backed Publisher that can also be subscribed to.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger *slog.Logger
	closer func() error
}

// NewInMemory returns a bus backed by a watermill gochannel.
func NewInMemory(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(logger))
	return &Bus{pub: ch, sub: ch, logger: logger, closer: ch.Close}
}

// RedisConfig configures a Redis Streams bus.
type RedisConfig struct {
	Addr          string
	ConsumerGroup string
	Consumer      string
}

// NewRedis returns a bus backed by Redis Streams.
func NewRedis(cfg RedisConfig, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	wlog := watermill.NewSlogLogger(logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlog)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis publisher: %w", err)
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: cfg.ConsumerGroup,
		Consumer:      cfg.Consumer,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscriber: %w", err)
	}
	return &Bus{
		pub:    pub,
		sub:    sub,
		logger: logger,
		closer: func() error {
			return errors.Join(sub.Close(), pub.Close(), client.Close())
		},
	}, nil
}

// Publish implements Publisher. The event type is the topic.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", e.SessionID)
	msg.SetContext(ctx)
	if err := b.pub.Publish(e.Type, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Subscribe returns decoded events of topic until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	msgs, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn("dropping malformed event", "topic", topic, "message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			select {
			case out <- e:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close releases the bus.
func (b *Bus) Close() error {
	return b.closer()
}

// Audit logs every event on topics until ctx is cancelled.
func Audit(ctx context.Context, b *Bus, logger *slog.Logger, topics ...string) error {
	if logger == nil {
		logger = slog.Default()
	}
	merged := make(chan Event)
	for _, topic := range topics {
		ch, err := b.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go func() {
			for e := range ch {
				select {
				case merged <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-merged:
			level := slog.LevelInfo
			if e.Type == AnswerFidelityViolation {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "event", "type", e.Type, "session_id", e.SessionID, "user_id", e.UserID, "data", e.Data)
		}
	}
}
