package api

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"

	"crypto-market-analyzer/internal/model"
)

// candleFields 交易所 K 线数组的固定长度
const candleFields = 12

var parserPool fastjson.ParserPool

// parseTickerList 要求响应是数组，不做任何隐式转换
func parseTickerList(body []byte) ([]model.RawTicker, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, &model.FormatError{Reason: "ticker list is not valid JSON", Err: err}
	}
	if v.Type() != fastjson.TypeArray {
		return nil, &model.FormatError{Reason: fmt.Sprintf("expected ticker array, got %s", v.Type())}
	}

	items, _ := v.Array()
	tickers := make([]model.RawTicker, 0, len(items))
	for i, item := range items {
		t, err := decodeTicker(item)
		if err != nil {
			return nil, &model.FormatError{Reason: fmt.Sprintf("ticker %d", i), Err: err}
		}
		tickers = append(tickers, t)
	}
	return tickers, nil
}

func parseSingleTicker(body []byte) (model.RawTicker, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return model.RawTicker{}, &model.FormatError{Reason: "ticker is not valid JSON", Err: err}
	}
	t, err := decodeTicker(v)
	if err != nil {
		return model.RawTicker{}, &model.FormatError{Reason: "ticker", Err: err}
	}
	return t, nil
}

func decodeTicker(v *fastjson.Value) (model.RawTicker, error) {
	if v.Type() != fastjson.TypeObject {
		return model.RawTicker{}, fmt.Errorf("expected object, got %s", v.Type())
	}

	symbol := string(v.GetStringBytes("symbol"))
	if symbol == "" {
		return model.RawTicker{}, fmt.Errorf("missing symbol")
	}

	t := model.RawTicker{
		Symbol:           symbol,
		WeightedAvgPrice: string(v.GetStringBytes("weightedAvgPrice")),
		PrevClosePrice:   string(v.GetStringBytes("prevClosePrice")),
		LastQty:          string(v.GetStringBytes("lastQty")),
		BidPrice:         string(v.GetStringBytes("bidPrice")),
		BidQty:           string(v.GetStringBytes("bidQty")),
		AskPrice:         string(v.GetStringBytes("askPrice")),
		AskQty:           string(v.GetStringBytes("askQty")),
		QuoteVolume:      string(v.GetStringBytes("quoteVolume")),
		OpenTime:         v.GetInt64("openTime"),
		CloseTime:        v.GetInt64("closeTime"),
		FirstID:          v.GetInt64("firstId"),
		LastID:           v.GetInt64("lastId"),
		Count:            v.GetInt64("count"),
	}

	required := []struct {
		key string
		dst *string
	}{
		{"priceChange", &t.PriceChange},
		{"priceChangePercent", &t.PriceChangePercent},
		{"lastPrice", &t.LastPrice},
		{"volume", &t.Volume},
		{"highPrice", &t.HighPrice},
		{"lowPrice", &t.LowPrice},
		{"openPrice", &t.OpenPrice},
	}
	for _, f := range required {
		s, err := decimalString(v.Get(f.key))
		if err != nil {
			return model.RawTicker{}, fmt.Errorf("%s %s: %w", symbol, f.key, err)
		}
		*f.dst = s
	}
	return t, nil
}

func parseCandles(body []byte) ([]model.CandleTuple, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, &model.FormatError{Reason: "candles are not valid JSON", Err: err}
	}
	if v.Type() != fastjson.TypeArray {
		return nil, &model.FormatError{Reason: fmt.Sprintf("expected candle array, got %s", v.Type())}
	}

	rows, _ := v.Array()
	candles := make([]model.CandleTuple, 0, len(rows))
	for i, row := range rows {
		c, err := decodeCandle(row)
		if err != nil {
			return nil, &model.FormatError{Reason: fmt.Sprintf("candle %d", i), Err: err}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func decodeCandle(v *fastjson.Value) (model.CandleTuple, error) {
	fields, err := v.Array()
	if err != nil {
		return model.CandleTuple{}, fmt.Errorf("expected tuple: %w", err)
	}
	if len(fields) < candleFields {
		return model.CandleTuple{}, fmt.Errorf("expected %d fields, got %d", candleFields, len(fields))
	}

	var c model.CandleTuple
	if c.OpenTime, err = fields[0].Int64(); err != nil {
		return c, fmt.Errorf("openTime: %w", err)
	}

	prices := []*string{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range prices {
		if *dst, err = decimalString(fields[i+1]); err != nil {
			return c, fmt.Errorf("field %d: %w", i+1, err)
		}
	}

	if c.CloseTime, err = fields[6].Int64(); err != nil {
		return c, fmt.Errorf("closeTime: %w", err)
	}
	if c.NumberOfTrades, err = fields[8].Int64(); err != nil {
		return c, fmt.Errorf("numberOfTrades: %w", err)
	}
	c.QuoteAssetVolume = string(fields[7].GetStringBytes())
	c.TakerBuyBaseAssetVolume = string(fields[9].GetStringBytes())
	c.TakerBuyQuoteAssetVolume = string(fields[10].GetStringBytes())
	c.Ignore = string(fields[11].GetStringBytes())
	return c, nil
}

// decimalString 取出字符串字段并确认是合法的十进制数
func decimalString(v *fastjson.Value) (string, error) {
	if v == nil {
		return "", fmt.Errorf("missing")
	}
	b, err := v.StringBytes()
	if err != nil {
		return "", err
	}
	s := string(b)
	if _, err := decimal.NewFromString(s); err != nil {
		return "", err
	}
	return s, nil
}
