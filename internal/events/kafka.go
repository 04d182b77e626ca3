package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quarrypool/quarry/pkg/log"
)

// Topic names for the pool event stream.
const (
	TopicWorkers  = "quarry.workers"
	TopicShares   = "quarry.shares"
	TopicHashrate = "quarry.hashrate"
	TopicBlocks   = "quarry.blocks"
	TopicPayouts  = "quarry.payouts"
)

// topicFor routes an event type onto its Kafka topic.
func topicFor(t Type) string {
	switch t {
	case TypeWorkerConnected, TypeWorkerDisconnected:
		return TopicWorkers
	case TypeShareSubmitted:
		return TopicShares
	case TypeHashrateUpdate:
		return TopicHashrate
	case TypeBlockFound:
		return TopicBlocks
	case TypePayoutCreated, TypePayoutCompleted, TypePayoutFailed:
		return TopicPayouts
	default:
		return TopicShares
	}
}

// KafkaSink publishes events to Kafka asynchronously. Delivery is
// at-most-once: write errors are logged and the event is dropped.
type KafkaSink struct {
	writer *kafka.Writer
	logger *log.Logger
}

// NewKafkaSink creates a sink backed by the given brokers.
func NewKafkaSink(brokers []string, logger *log.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	sink := &KafkaSink{
		writer: writer,
		logger: logger.WithComponent("events"),
	}
	writer.Completion = sink.completion
	return sink
}

func (s *KafkaSink) completion(messages []kafka.Message, err error) {
	if err != nil {
		s.logger.WithError(err).Warn("Event publish failed, dropping", "count", len(messages))
	}
}

// Publish serializes and enqueues an event. It never blocks on broker
// availability and never surfaces an error to the caller.
func (s *KafkaSink) Publish(eventType Type, payload interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Warn("Event marshal failed, dropping", "type", string(eventType))
		return
	}

	msg := kafka.Message{
		Topic: topicFor(eventType),
		Key:   []byte(eventType),
		Value: data,
		Time:  event.Timestamp,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.WithError(err).Warn("Event publish failed, dropping", "type", string(eventType))
	}
}

// Close flushes pending messages and releases the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var _ Sink = (*KafkaSink)(nil)
