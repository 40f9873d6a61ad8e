package journal

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink publishes each event to <prefix>.<topic>, keyed by order id so
// one order's events stay in one partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	prefix   string
	logger   *log.Logger
}

// NewSaramaConfig is the producer configuration used for the journal.
func NewSaramaConfig() *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = true // required by SyncProducer
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Net.DialTimeout = 30 * time.Second
	saramaConfig.Net.ReadTimeout = 30 * time.Second
	saramaConfig.Net.WriteTimeout = 30 * time.Second
	return saramaConfig
}

func NewKafkaSink(brokerList, prefix string) (*KafkaSink, error) {
	var brokers []string
	for _, b := range strings.Split(brokerList, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}

	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}

	log.Printf("Sarama producer created successfully with brokers %v", brokers)
	return NewKafkaSinkWithProducer(producer, prefix), nil
}

func NewKafkaSinkWithProducer(producer sarama.SyncProducer, prefix string) *KafkaSink {
	return &KafkaSink{producer: producer, prefix: prefix, logger: log.Default()}
}

func (k *KafkaSink) Topic(topic string) string {
	if k.prefix == "" {
		return topic
	}
	return k.prefix + "." + topic
}

func (k *KafkaSink) WriteMessage(topic string, msg []byte) error {
	if k.producer == nil {
		return errors.New("Kafka producer is closed")
	}
	event, err := decodeEvent(msg)
	if err != nil {
		return err
	}

	pm := &sarama.ProducerMessage{
		Topic:     k.Topic(topic),
		Value:     sarama.ByteEncoder(msg),
		Timestamp: event.Time,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	if event.OrderID != "" {
		pm.Key = sarama.StringEncoder(event.OrderID)
	}
	if _, _, err := k.producer.SendMessage(pm); err != nil {
		k.logger.Printf("Failed to send message to topic %s: %v", pm.Topic, err)
		return err
	}
	return nil
}

func (k *KafkaSink) Close() error {
	if k.producer == nil {
		return nil
	}
	err := k.producer.Close()
	k.producer = nil
	return err
}
