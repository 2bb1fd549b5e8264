/*
Package notify delivers lifecycle events to the outside world.

PURPOSE:
  lifecycle.Workflow calls every configured Notifier after an update has
  been stored. This package provides:

  KafkaNotifier  publishes request.completed.v1 for terminal transitions
  LogNotifier    logs every transition with zap

  Delivery is best-effort: a failed publish is logged by the workflow and
  never rolls the transition back.

SEE ALSO:
  - lifecycle/store.go: Notifier interface
  - lifecycle/workflow.go: where notifiers are called
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/warp/wms-engine/lifecycle"
)

// TopicRequestCompleted is the default topic for terminal transitions.
const TopicRequestCompleted = "request.completed.v1"

// RequestCompletedEvent is the JSON payload published when a request reaches
// a terminal status.
type RequestCompletedEvent struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	RequestID     string    `json:"requestId"`
	Kind          string    `json:"kind"`
	From          string    `json:"from"`
	Status        string    `json:"status"`
	Actor         string    `json:"actor,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Exceptions    []string  `json:"exceptions,omitempty"`
	Items         int       `json:"items"`
}

// NewRequestCompletedEvent builds the payload for ev on agg.
func NewRequestCompletedEvent(agg *lifecycle.Aggregate, ev lifecycle.Event) RequestCompletedEvent {
	out := RequestCompletedEvent{
		EventID:       string(ev.ID),
		EventType:     TopicRequestCompleted,
		SchemaVersion: 1,
		OccurredAt:    ev.Timestamp.UTC(),
		RequestID:     string(agg.ID),
		Kind:          string(agg.Kind),
		From:          string(ev.From),
		Status:        string(ev.To),
		Actor:         ev.Actor,
		Reason:        ev.Reason,
		Items:         len(agg.Items),
	}
	for _, tag := range agg.Exceptions {
		out.Exceptions = append(out.Exceptions, string(tag))
	}
	return out
}

// =============================================================================
// KAFKA
// =============================================================================

// KafkaNotifier publishes terminal transitions through a sarama SyncProducer,
// keyed by request ID so one request's messages stay on one partition.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

var _ lifecycle.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier connects a producer to brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) (*KafkaNotifier, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaNotifierWithProducer(producer, topic, logger), nil
}

// NewKafkaNotifierWithProducer wraps an existing producer.
func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaNotifier {
	if topic == "" {
		topic = TopicRequestCompleted
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{producer: producer, topic: topic, logger: logger}
}

// Notify publishes ev when it moved agg into a terminal status.
func (k *KafkaNotifier) Notify(_ context.Context, agg *lifecycle.Aggregate, ev lifecycle.Event) error {
	graph, ok := lifecycle.LookupGraph(agg.Kind)
	if !ok || !graph.IsTerminal(ev.To) {
		return nil
	}

	payload, err := json.Marshal(NewRequestCompletedEvent(agg, ev))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(agg.ID),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	k.logger.Info("request completion published",
		zap.String("topic", k.topic),
		zap.String("request_id", string(agg.ID)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.producer.Close()
}

// =============================================================================
// LOG
// =============================================================================

// LogNotifier logs every transition.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, agg *lifecycle.Aggregate, ev lifecycle.Event) error {
	l.Logger.Info("transition",
		zap.String("request_id", string(agg.ID)),
		zap.String("kind", string(agg.Kind)),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.Int("sequence", ev.Sequence),
		zap.String("actor", ev.Actor))
	return nil
}
