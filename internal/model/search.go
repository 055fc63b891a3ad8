package model

import "strings"

// Matches 使用默认计价资产 (USDT) 判断搜索词是否命中
func Matches(asset Asset, rawQuery string) bool {
	return MatchesQuote(asset, rawQuery, DefaultQuoteAsset)
}

// MatchesQuote 搜索词先转小写并去掉首尾空白，空串匹配所有资产。
// 交易对本身或去掉计价后缀后的基础币种包含搜索词即命中，
// 因此 "btc" 可以匹配 BTCUSDT。
func MatchesQuote(asset Asset, rawQuery, quote string) bool {
	query := strings.ToLower(strings.TrimSpace(rawQuery))
	if query == "" {
		return true
	}

	symbol := strings.ToLower(asset.Symbol)
	if strings.Contains(symbol, query) {
		return true
	}

	base := strings.TrimSuffix(symbol, strings.ToLower(quote))
	return strings.Contains(base, query)
}

// FilterAssets 按搜索词过滤，保持原有顺序
func FilterAssets(assets []Asset, rawQuery, quote string) []Asset {
	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		if MatchesQuote(a, rawQuery, quote) {
			out = append(out, a)
		}
	}
	return out
}
