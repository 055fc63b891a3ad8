package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"crypto-market-analyzer/internal/api"
	"crypto-market-analyzer/internal/cache"
	"crypto-market-analyzer/internal/model"
	"crypto-market-analyzer/internal/refresh"
	"crypto-market-analyzer/pkg/ta"
)

// MarketSource 是 HTTP 层对网关的依赖
type MarketSource interface {
	FetchAllTickers(ctx context.Context) ([]model.RawTicker, error)
	FetchTicker(ctx context.Context, symbol string) (model.RawTicker, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.CandleTuple, error)
	Freshness() api.Freshness
}

// SnapshotSource 是 HTTP 层对调度器的依赖
type SnapshotSource interface {
	Snapshot() *model.Snapshot
	Status() refresh.Status
	Refresh(ctx context.Context) error
	QuoteAsset() string
}

type Params struct {
	Port            int
	ShutdownTimeout time.Duration

	Market    MarketSource
	Snapshots SnapshotSource
	// Cache 为 nil 时直接回源
	Cache      *cache.ResponseCache
	Hub        *Hub
	Calculator *ta.Calculator

	// 历史曲线默认参数
	HistoryInterval string
	HistoryLimit    int
	Location        *time.Location

	Logger *zap.Logger
}

type Server struct {
	p      Params
	logger *zap.Logger
}

func NewServer(p Params) *Server {
	if p.ShutdownTimeout <= 0 {
		p.ShutdownTimeout = 10 * time.Second
	}
	if p.HistoryInterval == "" {
		p.HistoryInterval = api.DefaultInterval
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = api.DefaultLimit
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Calculator == nil {
		p.Calculator = ta.NewCalculator(p.Logger.Sugar())
	}
	if p.Hub == nil {
		p.Hub = NewHub(p.Logger)
	}
	if p.Snapshots != nil {
		p.Hub.UseSnapshots(p.Snapshots.Snapshot)
	}

	return &Server{
		p:      p,
		logger: p.Logger.With(zap.String("component", "http")),
	}
}

// Handler 返回带中间件的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tickers", s.tickersHandler)
	mux.HandleFunc("GET /api/ticker/{symbol}", s.tickerHandler)
	mux.HandleFunc("GET /api/klines", s.klinesHandler)
	mux.HandleFunc("GET /api/assets", s.assetsHandler)
	mux.HandleFunc("GET /api/assets/{symbol}", s.assetHandler)
	mux.HandleFunc("GET /api/history/{symbol}", s.historyHandler)
	mux.HandleFunc("GET /api/analytics/{symbol}", s.analyticsHandler)
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("POST /api/refresh", s.refreshHandler)
	mux.HandleFunc("GET /ws", s.p.Hub.ServeWS)
	mux.HandleFunc("GET /health", s.healthHandler)

	return middleware(s.logger, mux)
}

// Run 启动 HTTP 服务，直到 ctx 结束或发生非正常错误
func (s *Server) Run(ctx context.Context) error {
	// 带缓冲，写入方可以立即退出
	errCh := make(chan error, 1)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.p.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server listening", zap.Int("port", s.p.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.p.ShutdownTimeout)
		defer cancel()

		// 已升级的 WebSocket 连接不受 Shutdown 管理
		s.p.Hub.Close()
		if err := srv.Shutdown(shCtx); err != nil {
			s.logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
