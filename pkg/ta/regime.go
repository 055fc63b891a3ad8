package ta

// Regime 市场状态
type Regime string

const (
	// 趋势模式
	RegimeStrongUpTrend   Regime = "STRONG_UP_TREND"
	RegimeStrongDownTrend Regime = "STRONG_DOWN_TREND"

	// 震荡模式
	RegimeHighVolRanging Regime = "HIGH_VOL_RANGING"
	RegimeLowVolRanging  Regime = "LOW_VOL_RANGING"

	// 历史不足以计算 RSI
	RegimeUndetermined Regime = "UNDETERMINED"
)

// RegimeThresholds 状态判断阈值
type RegimeThresholds struct {
	TrendRSI      float64 // RSI 超过该值视为强势，低于 100-TrendRSI 视为弱势
	VolatilityPct float64 // 收盘价标准差 / 最新价
}

var DefaultRegimeThresholds = RegimeThresholds{
	TrendRSI:      60.0,
	VolatilityPct: 0.005,
}

// Classify 先判断趋势，非趋势时按波动率归类为震荡
func (t RegimeThresholds) Classify(s Summary) Regime {
	if s.RSI == nil {
		return RegimeUndetermined
	}
	rsi := *s.RSI

	// 价格在均线之上且动量强
	if s.Last > s.SMA && rsi >= t.TrendRSI {
		return RegimeStrongUpTrend
	}
	if s.Last < s.SMA && rsi <= 100-t.TrendRSI {
		return RegimeStrongDownTrend
	}

	// 防止除以零
	if s.Last == 0 {
		return RegimeLowVolRanging
	}
	if s.StdDev/s.Last >= t.VolatilityPct {
		return RegimeHighVolRanging
	}
	return RegimeLowVolRanging
}
