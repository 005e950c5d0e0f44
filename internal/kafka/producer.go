package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/kossa56/Jamnik/internal/models"
	"go.uber.org/zap"
)

type Producer struct {
	Producer sarama.SyncProducer
	Topic    string
	logger   *zap.Logger
}

// NewKafkaProducer создаёт продюсер с подтверждением от всех реплик
func NewKafkaProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return NewWithProducer(producer, topic, logger), nil
}

// NewWithProducer оборачивает готовый sarama продюсер (в тестах mocks)
func NewWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Producer {
	return &Producer{
		Producer: producer,
		Topic:    topic,
		logger:   logger.With(zap.String("component", "kafka")),
	}
}

// SendEvent отправляет одно событие, ключ - идентификатор сеанса
func (p *Producer) SendEvent(event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.Topic,
		Key:   sarama.StringEncoder(event.SessionID),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.Producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send event %s: %w", event.ID, err)
	}

	p.logger.Debug("sent event",
		zap.String("topic", p.Topic), zap.Int32("partition", partition), zap.Int64("offset", offset),
		zap.String("type", string(event.Type)))
	return nil
}

func (p *Producer) Close() error {
	return p.Producer.Close()
}
