package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToHistoryPointsIn(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	open := time.Date(2024, 3, 10, 13, 5, 0, 0, loc)

	candles := []CandleTuple{
		{OpenTime: open.UnixMilli(), Close: "100.5", Volume: "10"},
	}

	points, err := ToHistoryPointsIn(candles, loc)
	require.NoError(t, err)
	require.Equal(t, []HistoryPoint{{Time: "13:05", Price: 100.5, Volume: 10}}, points)
}

func TestToHistoryPoints_UsesLocalZone(t *testing.T) {
	open := time.Date(2024, 3, 10, 13, 5, 0, 0, time.Local)

	points, err := ToHistoryPoints([]CandleTuple{{OpenTime: open.UnixMilli(), Close: "1", Volume: "2"}})
	require.NoError(t, err)
	require.Equal(t, "13:05", points[0].Time)
}

func TestToHistoryPoints_PreservesOrderAndDuplicates(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	candles := []CandleTuple{
		{OpenTime: base.Add(2 * time.Hour).UnixMilli(), Close: "3", Volume: "1"},
		{OpenTime: base.UnixMilli(), Close: "1", Volume: "1"},
		{OpenTime: base.UnixMilli(), Close: "1", Volume: "1"},
	}

	points, err := ToHistoryPointsIn(candles, time.UTC)
	require.NoError(t, err)
	require.Len(t, points, len(candles))
	require.Equal(t, "11:00", points[0].Time)
	require.Equal(t, "09:00", points[1].Time)
	require.Equal(t, points[1], points[2])
}

func TestToHistoryPoints_ZeroPadding(t *testing.T) {
	open := time.Date(2024, 1, 1, 7, 3, 0, 0, time.UTC)

	points, err := ToHistoryPointsIn([]CandleTuple{{OpenTime: open.UnixMilli(), Close: "0.00001", Volume: "0"}}, time.UTC)
	require.NoError(t, err)
	require.Equal(t, "07:03", points[0].Time)
	require.Equal(t, 0.00001, points[0].Price)
}

func TestToHistoryPoints_UnparsableIsFormatError(t *testing.T) {
	candles := []CandleTuple{
		{OpenTime: 0, Close: "1", Volume: "1"},
		{OpenTime: 0, Close: "n/a", Volume: "1"},
	}

	_, err := ToHistoryPointsIn(candles, time.UTC)

	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.Reason, "candle 1")

	for _, bad := range []string{"NaN", "Inf", "-Inf", ""} {
		_, err = ToHistoryPointsIn([]CandleTuple{{Close: "1", Volume: bad}}, time.UTC)
		require.ErrorAs(t, err, &fe, bad)
	}
}

func TestToHistoryPoints_ExponentNotation(t *testing.T) {
	points, err := ToHistoryPointsIn([]CandleTuple{{Close: "1.005e2", Volume: "1E1"}}, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 100.5, points[0].Price)
	require.Equal(t, 10.0, points[0].Volume)
}

func TestToHistoryPoints_Empty(t *testing.T) {
	points, err := ToHistoryPoints(nil)
	require.NoError(t, err)
	require.Empty(t, points)
}

func TestCandleTuple_MarshalJSON(t *testing.T) {
	c := CandleTuple{
		OpenTime: 1, Open: "2", High: "3", Low: "4", Close: "5", Volume: "6",
		CloseTime: 7, QuoteAssetVolume: "8", NumberOfTrades: 9,
		TakerBuyBaseAssetVolume: "10", TakerBuyQuoteAssetVolume: "11", Ignore: "0",
	}

	b, err := c.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `[1,"2","3","4","5","6",7,"8",9,"10","11","0"]`, string(b))
}
