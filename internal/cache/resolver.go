package cache

// Range 是一个 Unix 毫秒闭区间。
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// ResolveGaps 对比请求区间与已有覆盖，返回仍需上游拉取的最小子区间集合。
//
// 只检测覆盖区间两端的缺口，且缺口必须与已有覆盖相邻：
// 前缘一直延伸到 min-1，后缘从 max+1 开始。请求与覆盖不相交时，
// 中间的空档也并入缺口一起拉取，保证覆盖永远是单段连续区间——
// 否则 coverage 的 MIN/MAX 合并会把从未拉取的中段谎报成已覆盖。
//   - 无覆盖记录：整段都要拉
//   - 覆盖完全包含请求：命中，返回空
//   - 其余情况：前缘 [start, min) 和/或后缘 (max, end]
func ResolveGaps(req Range, cov *Coverage) []Range {
	if cov == nil {
		return []Range{req}
	}
	if cov.MinTime <= req.Start && cov.MaxTime >= req.End {
		return nil
	}
	var gaps []Range
	if req.Start < cov.MinTime {
		gaps = append(gaps, Range{Start: req.Start, End: cov.MinTime - 1})
	}
	if req.End > cov.MaxTime {
		gaps = append(gaps, Range{Start: cov.MaxTime + 1, End: req.End})
	}
	return gaps
}
