package ta

import (
	"errors"
	"math"

	"crypto-market-analyzer/internal/model"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// ErrInsufficientHistory 采样点不足以计算任何指标
var ErrInsufficientHistory = errors.New("ta: insufficient history")

const (
	DefaultSMAPeriod = 20
	DefaultRSIPeriod = 14
)

// Summary 详情面板使用的历史统计
type Summary struct {
	Points        int     `json:"points"`
	First         float64 `json:"first"`
	Last          float64 `json:"last"`
	High          float64 `json:"high"` // 按收盘价
	Low           float64 `json:"low"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	AvgVolume     float64 `json:"avgVolume"`
	TotalVolume   float64 `json:"totalVolume"`

	SMA       float64  `json:"sma"`
	SMAPeriod int      `json:"smaPeriod"`
	RSI       *float64 `json:"rsi,omitempty"` // 采样点不超过 RSIPeriod 时不计算
	RSIPeriod int      `json:"rsiPeriod"`
	StdDev    float64  `json:"stdDev"` // SMA 周期内的收盘价标准差

	Regime Regime `json:"regime"`
}

// Calculator 在一段历史采样点上计算均线、RSI 和市场状态
type Calculator struct {
	SMAPeriod  int
	RSIPeriod  int
	Thresholds RegimeThresholds
	Logger     *zap.SugaredLogger
}

func NewCalculator(logger *zap.SugaredLogger) *Calculator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Calculator{
		SMAPeriod:  DefaultSMAPeriod,
		RSIPeriod:  DefaultRSIPeriod,
		Thresholds: DefaultRegimeThresholds,
		Logger:     logger,
	}
}

// Summarize 至少需要 2 个采样点，SMA 周期不超过采样点数量
func (c *Calculator) Summarize(points []model.HistoryPoint) (Summary, error) {
	n := len(points)
	if n < 2 {
		return Summary{}, ErrInsufficientHistory
	}

	closes := make([]float64, n)
	s := Summary{
		Points: n,
		First:  points[0].Price,
		Last:   points[n-1].Price,
		High:   math.Inf(-1),
		Low:    math.Inf(1),
	}
	for i, p := range points {
		closes[i] = p.Price
		s.High = math.Max(s.High, p.Price)
		s.Low = math.Min(s.Low, p.Price)
		s.TotalVolume += p.Volume
	}
	s.AvgVolume = s.TotalVolume / float64(n)
	s.Change = s.Last - s.First
	if s.First != 0 {
		s.ChangePercent = s.Change / s.First * 100
	}

	// --- 均线 ---
	s.SMAPeriod = min(c.SMAPeriod, n)
	if s.SMAPeriod < 2 {
		s.SMAPeriod = 2
	}
	sma := talib.Sma(closes, s.SMAPeriod)
	s.SMA = sma[n-1]
	stdDev := talib.StdDev(closes, s.SMAPeriod, 1)
	s.StdDev = stdDev[n-1]

	// --- 相对强弱指数 ---
	s.RSIPeriod = c.RSIPeriod
	if n > c.RSIPeriod {
		rsi := talib.Rsi(closes, c.RSIPeriod)
		v := rsi[n-1]
		s.RSI = &v
	} else {
		c.Logger.Debugw("Not enough history for RSI", "points", n, "period", c.RSIPeriod)
	}

	s.Regime = c.Thresholds.Classify(s)
	return s, nil
}
