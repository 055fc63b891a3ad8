package model

import (
	"encoding/json"
	"time"
)

// DefaultQuoteAsset 默认只保留 USDT 计价的交易对
const DefaultQuoteAsset = "USDT"

// RawTicker 对应交易所 /ticker/24hr 的单条 24 小时统计
type RawTicker struct {
	Symbol             string `json:"symbol"` // 交易对，例如 "BTCUSDT"
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	Volume             string `json:"volume"` // 基础资产成交量
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	OpenPrice          string `json:"openPrice"`

	// 以下字段只做透传，不参与校验
	WeightedAvgPrice string `json:"weightedAvgPrice,omitempty"`
	PrevClosePrice   string `json:"prevClosePrice,omitempty"`
	LastQty          string `json:"lastQty,omitempty"`
	BidPrice         string `json:"bidPrice,omitempty"`
	BidQty           string `json:"bidQty,omitempty"`
	AskPrice         string `json:"askPrice,omitempty"`
	AskQty           string `json:"askQty,omitempty"`
	QuoteVolume      string `json:"quoteVolume,omitempty"`
	OpenTime         int64  `json:"openTime,omitempty"`
	CloseTime        int64  `json:"closeTime,omitempty"`
	FirstID          int64  `json:"firstId,omitempty"`
	LastID           int64  `json:"lastId,omitempty"`
	Count            int64  `json:"count,omitempty"`
}

// Asset 是展示层使用的标准化交易对视图
type Asset struct {
	Symbol             string `json:"symbol"`
	Price              string `json:"price"` // 与 LastPrice 同源
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	OpenPrice          string `json:"openPrice"`
	LastPrice          string `json:"lastPrice"`
}

// CandleTuple 对应交易所 K 线数组的 12 个位置
// [0]=openTime [1]=open [2]=high [3]=low [4]=close [5]=volume [6]=closeTime
// [7]=quoteAssetVolume [8]=numberOfTrades [9]=takerBuyBase [10]=takerBuyQuote [11]=ignore
type CandleTuple struct {
	OpenTime                 int64 // 毫秒时间戳
	Open                     string
	High                     string
	Low                      string
	Close                    string
	Volume                   string
	CloseTime                int64
	QuoteAssetVolume         string
	NumberOfTrades           int64
	TakerBuyBaseAssetVolume  string
	TakerBuyQuoteAssetVolume string
	Ignore                   string
}

// MarshalJSON 还原为交易所的数组格式，供透传接口使用
func (c CandleTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
		c.CloseTime, c.QuoteAssetVolume, c.NumberOfTrades,
		c.TakerBuyBaseAssetVolume, c.TakerBuyQuoteAssetVolume, c.Ignore,
	})
}

// HistoryPoint 图表使用的单个采样点
type HistoryPoint struct {
	Time   string  `json:"time"` // 本地时区 HH:MM
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Snapshot 是调度器每个成功周期产出的当前行情快照
type Snapshot struct {
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
	Assets     []Asset   `json:"assets"`
}

// Find 按交易对查找资产
func (s *Snapshot) Find(symbol string) (Asset, bool) {
	if s == nil {
		return Asset{}, false
	}
	for _, a := range s.Assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return Asset{}, false
}

// CycleState 刷新周期状态
type CycleState string

const (
	StateIdle      CycleState = "IDLE"
	StateFetching  CycleState = "FETCHING"
	StateApplied   CycleState = "APPLIED"
	StateFailed    CycleState = "FAILED"
	StateDiscarded CycleState = "DISCARDED" // 结果晚于更新的周期到达，被丢弃
)

// Update 是调度器每个周期结束时对外发出的事件
type Update struct {
	Generation uint64     `json:"generation"`
	State      CycleState `json:"state"`
	Snapshot   *Snapshot  `json:"snapshot,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
