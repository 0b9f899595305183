package notify

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/pantrybase/pantrybase/core"
	"github.com/pantrybase/pantrybase/core/logger"
)

// KafkaNotifier publishes entity change notifications to a kafka topic.
// Messages are keyed by entity name, so changes to one entity keep their
// order within a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier publishing to the given brokers and
// topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	logger.Default().Debugln("kafka notifications enabled for topic", topic)
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Default().Errorf("kafka: "+msg, args...)
			}),
		},
	}
}

// Notify implements core.Notifier.
func (n *KafkaNotifier) Notify(entity string, operation core.Operation, payload []byte) {
	value, err := json.Marshal(Notification{
		Entity:    entity,
		Operation: operation,
		Payload:   payload,
	})
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot marshal notification for", entity)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entity),
		Value: value,
	})
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot publish notification for", entity)
	}
}

// Close flushes pending messages and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
