package stream

import (
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const flushTimeoutMs = 5000

type KafkaStream struct {
	kafkaServers string
	logger       *slog.Logger
}

func New(kafkaServers string, logger *slog.Logger) *KafkaStream {
	return &KafkaStream{
		kafkaServers: kafkaServers,
		logger:       logger,
	}
}

func (st *KafkaStream) ProduceMessage(topic, message string) error {
	return st.ProduceKeyed(topic, "", message)
}

// ProduceKeyed publishes message under key so that every message for the
// same key lands on one partition and keeps its order.
func (st *KafkaStream) ProduceKeyed(topic, key, message string) error {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  st.kafkaServers,
		"enable.idempotence": true,
	})
	if err != nil {
		return err
	}
	defer producer.Close()

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          []byte(message),
	}
	if key != "" {
		msg.Key = []byte(key)
	}

	delivery := make(chan kafka.Event, 1)
	if err := producer.Produce(msg, delivery); err != nil {
		st.logger.Error("failed to produce message", "topic", topic, "error", err)
		return err
	}

	e := <-delivery
	m, ok := e.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event %v", e)
	}
	if m.TopicPartition.Error != nil {
		st.logger.Error("message delivery failed", "topic", topic, "error", m.TopicPartition.Error)
		return m.TopicPartition.Error
	}

	producer.Flush(flushTimeoutMs)
	st.logger.Debug("message sent", "topic", topic)
	return nil
}

type StreamConsumer struct {
	GroupId string
	Topic   string
}

func (st *KafkaStream) CreateConsumer(consumerStruct *StreamConsumer) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  st.kafkaServers,
		"group.id":           consumerStruct.GroupId,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(consumerStruct.Topic, nil); err != nil {
		return nil, err
	}

	return consumer, nil
}
