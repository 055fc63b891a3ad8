package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"crypto-market-analyzer/internal/api"
	"crypto-market-analyzer/internal/model"
	"crypto-market-analyzer/internal/refresh"
	"crypto-market-analyzer/pkg/ta"
)

// serveCached 通过响应缓存取数，成功时附带 Cache-Control 与 X-Cache
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string, load func(ctx context.Context) (any, error)) {
	body, status, err := s.p.Cache.Get(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		data, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(data)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", s.p.Market.Freshness().CacheControl())
	w.Header().Set("X-Cache", string(status))
	writeRaw(w, http.StatusOK, body)
}

// tickersHandler 透传全部 24 小时统计
func (s *Server) tickersHandler(w http.ResponseWriter, r *http.Request) {
	s.serveCached(w, r, "tickers", func(ctx context.Context) (any, error) {
		return s.p.Market.FetchAllTickers(ctx)
	})
}

func (s *Server) tickerHandler(w http.ResponseWriter, r *http.Request) {
	symbol, err := api.NormalizeSymbol(r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.serveCached(w, r, "ticker:"+symbol, func(ctx context.Context) (any, error) {
		return s.p.Market.FetchTicker(ctx, symbol)
	})
}

// klinesHandler 透传 K 线，symbol 必填，interval/limit 可选
func (s *Server) klinesHandler(w http.ResponseWriter, r *http.Request) {
	symbol, interval, limit, err := candleParams(r, r.URL.Query().Get("symbol"), api.DefaultInterval, api.DefaultLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key := fmt.Sprintf("klines:%s:%s:%d", symbol, interval, limit)
	s.serveCached(w, r, key, func(ctx context.Context) (any, error) {
		return s.p.Market.FetchCandles(ctx, symbol, interval, limit)
	})
}

// historyHandler 返回图表使用的采样点
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	symbol, interval, limit, err := candleParams(r, r.PathValue("symbol"), s.p.HistoryInterval, s.p.HistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key := fmt.Sprintf("history:%s:%s:%d", symbol, interval, limit)
	s.serveCached(w, r, key, func(ctx context.Context) (any, error) {
		return s.history(ctx, symbol, interval, limit)
	})
}

type analyticsResponse struct {
	Symbol   string     `json:"symbol"`
	Interval string     `json:"interval"`
	Summary  ta.Summary `json:"summary"`
}

func (s *Server) analyticsHandler(w http.ResponseWriter, r *http.Request) {
	symbol, interval, limit, err := candleParams(r, r.PathValue("symbol"), s.p.HistoryInterval, s.p.HistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key := fmt.Sprintf("analytics:%s:%s:%d", symbol, interval, limit)
	s.serveCached(w, r, key, func(ctx context.Context) (any, error) {
		points, err := s.history(ctx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		summary, err := s.p.Calculator.Summarize(points)
		if err != nil {
			return nil, err
		}
		return analyticsResponse{Symbol: symbol, Interval: interval, Summary: summary}, nil
	})
}

func (s *Server) history(ctx context.Context, symbol, interval string, limit int) ([]model.HistoryPoint, error) {
	candles, err := s.p.Market.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	return model.ToHistoryPointsIn(candles, s.p.Location)
}

type assetsResponse struct {
	Generation uint64        `json:"generation"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Query      string        `json:"query,omitempty"`
	Assets     []model.Asset `json:"assets"`
}

// assetsHandler 返回当前排名快照，q 为搜索词
func (s *Server) assetsHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, assetsResponse{
		Generation: snap.Generation,
		UpdatedAt:  snap.UpdatedAt,
		Query:      q,
		Assets:     model.FilterAssets(snap.Assets, q, s.p.Snapshots.QuoteAsset()),
	})
}

func (s *Server) assetHandler(w http.ResponseWriter, r *http.Request) {
	symbol, err := api.NormalizeSymbol(r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	asset, found := snap.Find(symbol)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("asset %s not found", symbol)})
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// snapshot 首次成功周期之前返回 503，并带上最近一次错误
func (s *Server) snapshot(w http.ResponseWriter) (*model.Snapshot, bool) {
	snap := s.p.Snapshots.Snapshot()
	if snap != nil {
		return snap, true
	}
	writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error:   "market snapshot not available yet",
		Details: s.p.Snapshots.Status().LastError,
	})
	return nil, false
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.p.Snapshots.Status())
}

type refreshResponse struct {
	Status refresh.Status `json:"status"`
}

// refreshHandler 手动重试一个周期，客户端断开不会中止该周期
func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.p.Snapshots.Refresh(context.WithoutCancel(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: s.p.Snapshots.Status()})
}

type healthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Cache: "disabled"}
	if s.p.Cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.p.Cache.Ping(ctx); err != nil {
			s.logger.Warn("Cache ping failed", zap.Error(err))
			resp.Status, resp.Cache = "degraded", "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Cache = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// candleParams 解析 symbol/interval/limit，缺省时使用给定默认值
func candleParams(r *http.Request, rawSymbol, defInterval string, defLimit int) (string, string, int, error) {
	symbol, err := api.NormalizeSymbol(rawSymbol)
	if err != nil {
		return "", "", 0, err
	}

	interval := getParamOr(r, "interval", defInterval)
	limit := defLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return "", "", 0, fmt.Errorf("%w: limit must be an integer", model.ErrInvalidArgument)
		}
		if limit == 0 {
			// 0 在网关层表示默认值，这里视为越界
			limit = -1
		}
	}

	interval, limit, err = api.NormalizeCandleParams(interval, limit)
	if err != nil {
		return "", "", 0, err
	}
	return symbol, interval, limit, nil
}

func getParamOr(r *http.Request, key, defVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defVal
	}
	return val
}
