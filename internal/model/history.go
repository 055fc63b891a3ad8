package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ToHistoryPoints 使用本地时区转换 K 线
func ToHistoryPoints(candles []CandleTuple) ([]HistoryPoint, error) {
	return ToHistoryPointsIn(candles, time.Local)
}

// ToHistoryPointsIn 把 K 线逐条转换为图表采样点。
// 输出与输入等长且顺序一致，不去重；任意一条收盘价/成交量无法解析时返回 FormatError。
func ToHistoryPointsIn(candles []CandleTuple, loc *time.Location) ([]HistoryPoint, error) {
	if loc == nil {
		loc = time.Local
	}

	points := make([]HistoryPoint, len(candles))
	for i, c := range candles {
		price, err := parseDecimal(c.Close)
		if err != nil {
			return nil, &FormatError{Op: "history", Reason: fmt.Sprintf("candle %d close %q", i, c.Close), Err: err}
		}
		volume, err := parseDecimal(c.Volume)
		if err != nil {
			return nil, &FormatError{Op: "history", Reason: fmt.Sprintf("candle %d volume %q", i, c.Volume), Err: err}
		}

		points[i] = HistoryPoint{
			Time:   time.UnixMilli(c.OpenTime).In(loc).Format("15:04"),
			Price:  price,
			Volume: volume,
		}
	}
	return points, nil
}

// parseDecimal 与网关使用同一套十进制校验，NaN/Inf 无法通过
func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
