package refresh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"crypto-market-analyzer/internal/model"
	"crypto-market-analyzer/internal/publisher"
)

// DefaultInterval 固定刷新间隔
const DefaultInterval = 30 * time.Second

// Policy 决定并发周期乱序完成时哪个结果生效
type Policy string

const (
	// PolicyLatestIssued 只应用代数大于已应用代数的结果，旧周期的结果被丢弃
	PolicyLatestIssued Policy = "latest_issued"
	// PolicyLastCompleted 最后完成的周期覆盖快照，不论发起顺序
	PolicyLastCompleted Policy = "last_completed"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLatestIssued, PolicyLastCompleted:
		return Policy(s), nil
	case "":
		return PolicyLatestIssued, nil
	}
	return "", fmt.Errorf("unknown refresh policy %q", s)
}

// TickerSource 是调度器对网关的唯一依赖
type TickerSource interface {
	FetchAllTickers(ctx context.Context) ([]model.RawTicker, error)
}

type Params struct {
	Source TickerSource
	// QuoteAsset 默认 USDT
	QuoteAsset string
	// Interval 默认 30s
	Interval   time.Duration
	Policy     Policy
	Publishers []publisher.Publisher
	Logger     *zap.Logger
}

// Status 供消费方展示错误并决定是否手动重试
type Status struct {
	State             model.CycleState `json:"state"`
	LastOutcome       model.CycleState `json:"last_outcome,omitempty"`
	Running           bool             `json:"running"`
	InFlight          int              `json:"in_flight"`
	IssuedGeneration  uint64           `json:"issued_generation"`
	AppliedGeneration uint64           `json:"applied_generation"`
	LastError         string           `json:"last_error,omitempty"`
	LastErrorAt       *time.Time       `json:"last_error_at,omitempty"`
	LastAppliedAt     *time.Time       `json:"last_applied_at,omitempty"`
}

// Scheduler 立即执行一次，然后按固定间隔执行 fetch -> filter -> normalize -> rank。
// 周期之间不互斥，新的 tick 可以在上一个周期的网络调用返回前开始。
type Scheduler struct {
	p      Params
	logger *zap.Logger

	// 当前快照，只由成功路径整体替换
	snapshot atomic.Pointer[model.Snapshot]
	issued   atomic.Uint64

	mu            sync.Mutex
	applied       uint64
	inFlight      int
	lastOutcome   model.CycleState
	lastErr       error
	lastErrAt     time.Time
	lastAppliedAt time.Time
	ticker        *time.Ticker
	done          chan struct{}
}

func NewScheduler(p Params) *Scheduler {
	if p.QuoteAsset == "" {
		p.QuoteAsset = model.DefaultQuoteAsset
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.Policy == "" {
		p.Policy = PolicyLatestIssued
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	return &Scheduler{
		p:      p,
		logger: p.Logger.With(zap.String("component", "scheduler")),
	}
}

// Start 立即触发一个周期并启动定时器，重复调用无效。
// ctx 结束时定时器停止，但已经发出的周期不会被取消，只受网关自身超时约束。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return
	}
	ticker := time.NewTicker(s.p.Interval)
	done := make(chan struct{})
	s.ticker, s.done = ticker, done
	s.mu.Unlock()

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.p.Interval),
		zap.String("policy", string(s.p.Policy)),
		zap.String("quote", s.p.QuoteAsset))

	cycleCtx := context.WithoutCancel(ctx)
	go s.cycle(cycleCtx)

	go func() {
		for {
			select {
			case <-ticker.C:
				// 不等待上一个周期，失败后也不退避
				go s.cycle(cycleCtx)
			case <-done:
				return
			case <-ctx.Done():
				s.Stop()
				return
			}
		}
	}()
}

// Stop 只停止定时器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.done)
	s.ticker, s.done = nil, nil
	s.logger.Info("Scheduler stopped", zap.Int("in_flight", s.inFlight))
}

// Refresh 手动执行一个周期并返回其错误，供消费方重试
func (s *Scheduler) Refresh(ctx context.Context) error {
	return s.runCycle(ctx)
}

// Snapshot 返回当前快照，首次成功之前为 nil
func (s *Scheduler) Snapshot() *model.Snapshot {
	return s.snapshot.Load()
}

func (s *Scheduler) QuoteAsset() string {
	return s.p.QuoteAsset
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:             model.StateIdle,
		LastOutcome:       s.lastOutcome,
		Running:           s.ticker != nil,
		InFlight:          s.inFlight,
		IssuedGeneration:  s.issued.Load(),
		AppliedGeneration: s.applied,
	}
	if s.inFlight > 0 {
		st.State = model.StateFetching
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		at := s.lastErrAt
		st.LastErrorAt = &at
	}
	if !s.lastAppliedAt.IsZero() {
		at := s.lastAppliedAt
		st.LastAppliedAt = &at
	}
	return st
}

func (s *Scheduler) cycle(ctx context.Context) {
	// 错误已在 runCycle 中记录并发布
	_ = s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	gen := s.issued.Add(1)
	logger := s.logger.With(zap.Uint64("generation", gen))

	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	logger.Debug("Cycle state", zap.String("to", string(model.StateFetching)))

	tickers, err := s.p.Source.FetchAllTickers(ctx)
	if err != nil {
		s.finish(model.StateFailed, err, nil)
		logger.Warn("Refresh cycle failed, keeping previous snapshot", zap.Error(err))
		s.publish(ctx, model.Update{Generation: gen, State: model.StateFailed, Error: err.Error(), Timestamp: time.Now()})
		return err
	}

	filtered := model.FilterByQuoteSuffix(tickers, s.p.QuoteAsset)
	assets := model.RankByVolumeDescending(model.NormalizeAll(filtered))
	snap := &model.Snapshot{Generation: gen, UpdatedAt: time.Now(), Assets: assets}

	if !s.apply(snap) {
		s.finish(model.StateDiscarded, nil, nil)
		logger.Info("Discarding out-of-order cycle result", zap.Uint64("applied_generation", s.appliedGeneration()))
		s.publish(ctx, model.Update{Generation: gen, State: model.StateDiscarded, Timestamp: time.Now()})
		return nil
	}

	s.finish(model.StateApplied, nil, snap)
	logger.Info("Snapshot applied",
		zap.Int("tickers", len(tickers)),
		zap.Int("assets", len(assets)))
	s.publish(ctx, model.Update{Generation: gen, State: model.StateApplied, Snapshot: snap, Timestamp: snap.UpdatedAt})
	return nil
}

// apply 按策略决定是否替换快照
func (s *Scheduler) apply(snap *model.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.p.Policy == PolicyLatestIssued && snap.Generation <= s.applied {
		return false
	}
	s.applied = snap.Generation
	s.snapshot.Store(snap)
	return true
}

func (s *Scheduler) finish(outcome model.CycleState, err error, snap *model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight--
	s.lastOutcome = outcome
	switch outcome {
	case model.StateFailed:
		s.lastErr = err
		s.lastErrAt = time.Now()
	case model.StateApplied:
		s.lastErr = nil
		s.lastAppliedAt = snap.UpdatedAt
	}
}

func (s *Scheduler) appliedGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

func (s *Scheduler) publish(ctx context.Context, update model.Update) {
	for _, p := range s.p.Publishers {
		if err := p.Publish(ctx, update); err != nil {
			s.logger.Warn("Publisher failed", zap.Uint64("generation", update.Generation), zap.Error(err))
		}
	}
}
