package market

import (
	"math"
	"sort"
)

// ValidateCandles 清洗原始 K 线序列：丢弃非法行，升序排序并按时间戳去重。
// 对单行脏数据从不返回错误，只统计丢弃数量，调用方据此记录数据质量问题。
// 规则按顺序应用：
//  1. 任一数值字段为 NaN/Inf
//  2. open/high/low/close 非正
//  3. 违反 low ≤ open,close ≤ high
//  4. volume 为负
//  5. 升序排序后时间戳重复（保留先出现者）
func ValidateCandles(raw []Candle) (clean []Candle, rejected int) {
	clean = make([]Candle, 0, len(raw))
	for _, c := range raw {
		if !validCandle(c) {
			rejected++
			continue
		}
		clean = append(clean, c)
	}
	sort.SliceStable(clean, func(i, j int) bool {
		return clean[i].OpenTime < clean[j].OpenTime
	})
	dedup := clean[:0]
	for _, c := range clean {
		if n := len(dedup); n > 0 && dedup[n-1].OpenTime == c.OpenTime {
			rejected++
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup, rejected
}

func validCandle(c Candle) bool {
	for _, f := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	if c.Low > c.High || c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return false
	}
	return c.Volume >= 0
}
