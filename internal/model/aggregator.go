package model

import "strings"

// FilterByQuoteSuffix 只保留以 suffix 结尾的交易对，保持原有相对顺序
// 没有匹配时返回空切片而不是 nil
func FilterByQuoteSuffix(tickers []RawTicker, suffix string) []RawTicker {
	out := make([]RawTicker, 0, len(tickers))
	for _, t := range tickers {
		if strings.HasSuffix(t.Symbol, suffix) {
			out = append(out, t)
		}
	}
	return out
}

// Normalize 把 RawTicker 映射为 Asset，纯函数
// 数值字段的合法性由网关在边界处校验，这里不再重复检查
func Normalize(t RawTicker) Asset {
	return Asset{
		Symbol:             t.Symbol,
		Price:              t.LastPrice,
		PriceChange:        t.PriceChange,
		PriceChangePercent: t.PriceChangePercent,
		Volume:             t.Volume,
		HighPrice:          t.HighPrice,
		LowPrice:           t.LowPrice,
		OpenPrice:          t.OpenPrice,
		LastPrice:          t.LastPrice,
	}
}

func NormalizeAll(tickers []RawTicker) []Asset {
	assets := make([]Asset, len(tickers))
	for i, t := range tickers {
		assets[i] = Normalize(t)
	}
	return assets
}
