// Package messaging carries relay events between pool servers and relayd
// over Kafka.
package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/gomp-relay/pkg/circuit"
	"github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
	"github.com/bardlex/gomp-relay/pkg/retry"
)

// MessageReader is the part of kafka.Reader the consumer loop uses
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// EventHandler processes one decoded relay event
type EventHandler interface {
	Handle(ctx context.Context, event *RelayEvent) error
}

// KafkaClient wraps kafka-go with JSON event encoding and per-topic connection reuse
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]*kafka.Writer
	readers        map[string]*kafka.Reader
	writersMu      sync.RWMutex
	readersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	cbConfig := circuit.DefaultConfig("kafka")

	return &KafkaClient{
		brokers:        brokers,
		logger:         logger.WithComponent("kafka"),
		writers:        make(map[string]*kafka.Writer),
		readers:        make(map[string]*kafka.Reader),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DefaultConfig(),
	}
}

// GetProducer gets or creates a Kafka producer for a topic
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// GetConsumer gets or creates a Kafka consumer for a topic and group
func (k *KafkaClient) GetConsumer(topic, groupID string) *kafka.Reader {
	key := fmt.Sprintf("%s-%s", topic, groupID)

	k.readersMu.RLock()
	if reader, exists := k.readers[key]; exists {
		k.readersMu.RUnlock()
		return reader
	}
	k.readersMu.RUnlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	if reader, exists := k.readers[key]; exists {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})

	k.readers[key] = reader
	k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// PublishEvent encodes event as JSON and publishes it keyed by user
func (k *KafkaClient) PublishEvent(ctx context.Context, topic string, event *RelayEvent) error {
	if err := event.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "publish_event", "invalid relay event")
	}
	if event.ObservedAt.IsZero() {
		event.ObservedAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal", "failed to marshal relay event").
			WithContext("topic", topic)
	}
	return k.PublishJSON(ctx, topic, event.Key(), data)
}

// PublishJSON publishes a JSON message to Kafka
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, data []byte) error {
	return k.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			writer := k.GetProducer(topic)
			kafkaMsg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_json",
					"failed to publish JSON message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published JSON message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// ConsumeEvent reads and decodes the next relay event from reader
func (k *KafkaClient) ConsumeEvent(ctx context.Context, reader MessageReader) (*RelayEvent, error) {
	kafkaMsg, err := circuit.ExecuteWithResult(ctx, k.circuitBreaker, func() (kafka.Message, error) {
		return retry.DoWithResult(ctx, k.retryConfig, func() (kafka.Message, error) {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return m, ctxErr
				}
				return m, errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
					"failed to read message from Kafka")
			}
			return m, nil
		})
	})
	if err != nil {
		return nil, err
	}

	return k.decode(kafkaMsg)
}

func (k *KafkaClient) decode(kafkaMsg kafka.Message) (*RelayEvent, error) {
	var event RelayEvent
	if err := json.Unmarshal(kafkaMsg.Value, &event); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "json_unmarshal",
			"failed to unmarshal relay event").
			WithContext("topic", kafkaMsg.Topic).
			WithContext("offset", kafkaMsg.Offset).
			WithContext("message_size", len(kafkaMsg.Value))
	}
	if err := event.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "validate_event", "invalid relay event").
			WithContext("topic", kafkaMsg.Topic).
			WithContext("offset", kafkaMsg.Offset)
	}

	k.logger.Debug("consumed event", "topic", kafkaMsg.Topic, "key", string(kafkaMsg.Key), "kind", event.Kind)
	return &event, nil
}

// StartConsumer consumes topic with groupID until ctx is done
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, handler EventHandler) error {
	reader := k.GetConsumer(topic, groupID)
	k.logger.Info("starting consumer", "topic", topic, "group_id", groupID)
	return k.consume(ctx, reader, handler)
}

// consume runs the read/decode/handle loop. Bad events are skipped; read
// failures back off so a dead broker does not spin the loop.
func (k *KafkaClient) consume(ctx context.Context, reader MessageReader, handler EventHandler) error {
	backoff := retry.NewBackoff(retry.ReconnectConfig())

	for {
		if err := ctx.Err(); err != nil {
			k.logger.Info("consumer stopping")
			return err
		}

		event, err := k.ConsumeEvent(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.IsType(err, errors.ErrorTypeValidation) {
				k.logger.WithError(err).Warn("skipping malformed relay event")
				continue
			}

			delay := backoff.Next()
			k.logger.WithError(err).Error("failed to consume message", "retry_in", delay)
			// a cancelled sleep is caught at the top of the loop
			_ = retry.Sleep(ctx, delay)
			continue
		}
		backoff.Reset()

		if err := handler.Handle(ctx, event); err != nil {
			k.logger.WithError(err).Error("failed to handle relay event",
				"kind", event.Kind,
				"user", event.User,
			)
		}
	}
}

// Close closes all producers and consumers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	var errs []error

	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			errs = append(errs, err)
		}
	}

	for key, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close consumer", "key", key, "error", err)
			errs = append(errs, err)
		}
	}

	k.writers = make(map[string]*kafka.Writer)
	k.readers = make(map[string]*kafka.Reader)
	return stderrors.Join(errs...)
}

// BreakerStats exposes the Kafka circuit breaker for metrics
func (k *KafkaClient) BreakerStats() circuit.Stats {
	return k.circuitBreaker.Stats()
}
