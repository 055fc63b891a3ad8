package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RankByVolumeDescending 按成交量降序稳定排序，返回新切片。
// 成交量相同的资产保持排序前的相对顺序。
// 网关已用 decimal 校验过 volume，无法解析的成交量只可能来自直接构造的 Asset，
// 这类资产统一排在所有可解析资产之后，彼此之间保持原顺序，不会被当作 0 混入排名。
func RankByVolumeDescending(assets []Asset) []Asset {
	type keyed struct {
		asset  Asset
		volume decimal.Decimal
		valid  bool
	}

	items := make([]keyed, len(assets))
	for i, a := range assets {
		v, err := decimal.NewFromString(a.Volume)
		items[i] = keyed{asset: a, volume: v, valid: err == nil}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].valid != items[j].valid {
			return items[i].valid
		}
		return items[i].valid && items[i].volume.GreaterThan(items[j].volume)
	})

	ranked := make([]Asset, len(items))
	for i, it := range items {
		ranked[i] = it.asset
	}
	return ranked
}
