package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"crypto-market-analyzer/internal/model"
)

const (
	// DefaultBaseURL 交易所 REST v3
	DefaultBaseURL = "https://api.binance.com/api/v3"

	// DefaultTimeout 单次调用的硬上限，与调度间隔相互独立
	DefaultTimeout = 25 * time.Second

	DefaultInterval = "1h"
	DefaultLimit    = 24
	MaxLimit        = 1000

	// 读取错误响应体时的上限，只用于日志
	maxErrorBody = 4 << 10
)

// ValidIntervals 交易所支持的 K 线周期
var ValidIntervals = map[string]struct{}{
	"1s": {}, "1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// Freshness 成功响应附带的缓存指令
type Freshness struct {
	MaxAge               time.Duration // 新鲜期
	StaleWhileRevalidate time.Duration // 过期后仍可返回旧值的窗口
}

var DefaultFreshness = Freshness{
	MaxAge:               30 * time.Second,
	StaleWhileRevalidate: 60 * time.Second,
}

// CacheControl 渲染为 HTTP 头
func (f Freshness) CacheControl() string {
	return fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d",
		int(f.MaxAge.Seconds()), int(f.StaleWhileRevalidate.Seconds()))
}

type GatewayParams struct {
	// BaseURL 默认 DefaultBaseURL
	BaseURL string
	// Timeout 默认 DefaultTimeout
	Timeout   time.Duration
	Freshness Freshness
	// HTTPClient 可替换，测试中使用 httptest
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Gateway 负责对交易所的有界超时 HTTP 调用，并对响应分类
type Gateway struct {
	p      GatewayParams
	client *http.Client
	logger *zap.Logger
}

func NewGateway(p GatewayParams) *Gateway {
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Freshness == (Freshness{}) {
		p.Freshness = DefaultFreshness
	}
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		p:      p,
		client: client,
		logger: logger.With(zap.String("component", "gateway")),
	}
}

// Freshness 返回成功响应的缓存指令
func (g *Gateway) Freshness() Freshness {
	return g.p.Freshness
}

// Timeout 返回单次调用的超时上限
func (g *Gateway) Timeout() time.Duration {
	return g.p.Timeout
}

// FetchAllTickers 获取全部交易对的 24 小时统计
func (g *Gateway) FetchAllTickers(ctx context.Context) ([]model.RawTicker, error) {
	const op = "fetchAllTickers"

	body, err := g.get(ctx, op, "/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	tickers, err := parseTickerList(body)
	if err != nil {
		return nil, withOp(err, op)
	}

	g.logger.Debug("Fetched tickers", zap.Int("count", len(tickers)))
	return tickers, nil
}

// FetchTicker 获取单个交易对的 24 小时统计
func (g *Gateway) FetchTicker(ctx context.Context, symbol string) (model.RawTicker, error) {
	const op = "fetchTicker"

	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return model.RawTicker{}, err
	}

	body, err := g.get(ctx, op, "/ticker/24hr", url.Values{"symbol": {symbol}})
	if err != nil {
		return model.RawTicker{}, err
	}
	ticker, err := parseSingleTicker(body)
	if err != nil {
		return model.RawTicker{}, withOp(err, op)
	}
	return ticker, nil
}

// FetchCandles 获取 K 线，interval 为空时用 1h，limit <= 0 时用 24
func (g *Gateway) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.CandleTuple, error) {
	const op = "fetchCandles"

	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	interval, limit, err = NormalizeCandleParams(interval, limit)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	body, err := g.get(ctx, op, "/klines", query)
	if err != nil {
		return nil, err
	}
	candles, err := parseCandles(body)
	if err != nil {
		return nil, withOp(err, op)
	}
	return candles, nil
}

// NormalizeSymbol 去掉空白并转大写，空串视为非法参数
func NormalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", model.ErrInvalidArgument)
	}
	return symbol, nil
}

// NormalizeCandleParams 填充默认值并校验 interval/limit
func NormalizeCandleParams(interval string, limit int) (string, int, error) {
	if interval == "" {
		interval = DefaultInterval
	}
	if _, ok := ValidIntervals[interval]; !ok {
		return "", 0, fmt.Errorf("%w: invalid interval value %q", model.ErrInvalidArgument, interval)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return "", 0, fmt.Errorf("%w: limit must be between 1 and %d", model.ErrInvalidArgument, MaxLimit)
	}
	return interval, limit, nil
}

// get 发起带超时的 GET，并把失败分类为 Timeout/Network/Upstream 错误
func (g *Gateway) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.p.Timeout)
	defer cancel()

	endpoint := g.p.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &model.NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.classify(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		g.logger.Warn("Upstream returned error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet))
		return nil, &model.UpstreamError{Op: op, Status: resp.StatusCode, Body: string(snippet)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.classify(ctx, op, err)
	}

	g.logger.Debug("Upstream call completed",
		zap.String("op", op),
		zap.String("path", path),
		zap.Duration("took", time.Since(start)))
	return body, nil
}

func (g *Gateway) classify(ctx context.Context, op string, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		g.logger.Warn("Upstream call timed out", zap.String("op", op), zap.Duration("timeout", g.p.Timeout))
		return &model.TimeoutError{Op: op, Timeout: g.p.Timeout}
	}

	g.logger.Error("Upstream call failed", zap.String("op", op), zap.Error(err))
	return &model.NetworkError{Op: op, Err: err}
}

func withOp(err error, op string) error {
	var fe *model.FormatError
	if errors.As(err, &fe) && fe.Op == "" {
		fe.Op = op
	}
	return err
}
