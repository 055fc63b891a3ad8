package publisher

import (
	"context"

	"go.uber.org/zap"

	"crypto-market-analyzer/internal/model"
)

// Publisher 接收调度器每个周期的结果 (快照或错误)
type Publisher interface {
	Publish(ctx context.Context, update model.Update) error
}

// LogPublisher 只把周期结果写入日志
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(zap.String("publisher", "log"))}
}

func (p *LogPublisher) Publish(_ context.Context, update model.Update) error {
	fields := []zap.Field{
		zap.Uint64("generation", update.Generation),
		zap.String("state", string(update.State)),
	}
	if update.Snapshot != nil {
		fields = append(fields, zap.Int("assets", len(update.Snapshot.Assets)))
	}
	if update.Error != "" {
		p.logger.Warn("Refresh cycle failed", append(fields, zap.String("error", update.Error))...)
		return nil
	}
	p.logger.Info("Refresh cycle finished", fields...)
	return nil
}
