package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"crypto-market-analyzer/internal/model"
)

// MessageWriter abstracts the kafka writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher 把已应用的快照写入 Kafka topic，失败周期不推送
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		logger: logger.With(zap.String("publisher", "kafka")),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, update model.Update) error {
	if update.State != model.StateApplied || update.Snapshot == nil {
		return nil
	}

	payload, err := json.Marshal(update.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(update.Generation, 10)),
		Value: payload,
		Time:  update.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Kafka write failed", zap.Uint64("generation", update.Generation), zap.Error(err))
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	p.logger.Debug("Snapshot published", zap.Uint64("generation", update.Generation), zap.Int("bytes", len(payload)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
